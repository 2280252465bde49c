package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/Digital-Shane/reel-tidy/internal/config"
	"github.com/Digital-Shane/reel-tidy/internal/provider"
	"github.com/Digital-Shane/reel-tidy/internal/provider/builtin"
	"github.com/Digital-Shane/reel-tidy/internal/report"
	"github.com/spf13/cobra"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create the configuration file",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := json.MarshalIndent(ctx.config.Masked(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "sources",
		Short: "List the metadata sources and their settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := provider.NewRegistry()
			if err := builtin.LoadBuiltinProviders(reg, ctx.config); err != nil {
				return err
			}
			rows, err := sourceRows(reg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.Table([]string{"Source", "Enabled", "Settings", "Description"}, rows))
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:         "path",
		Short:       "Print the configuration file path",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := ctx.configPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:         "init",
		Short:       "Write a configuration file with the defaults",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := ctx.configPath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			} else if !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			if err := config.DefaultConfig().SaveFile(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	})

	return configCmd
}

// sourceRows renders one row per registered source in priority order.
func sourceRows(reg *provider.Registry) ([][]string, error) {
	var rows [][]string
	for _, name := range reg.List() {
		p, ok := reg.Get(name)
		if !ok {
			continue
		}
		settings, err := reg.Settings(name)
		if err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(settings))
		for k := range settings {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+settings[k])
		}
		enabled := "no"
		if reg.IsEnabled(name) {
			enabled = "yes"
		}
		rows = append(rows, []string{name, enabled, strings.Join(pairs, " "), p.Description()})
	}
	return rows, nil
}
