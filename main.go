package main

import "github.com/Digital-Shane/reel-tidy/internal/cmd"

func main() {
	cmd.Execute()
}
