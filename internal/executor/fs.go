package executor

import (
	"io/fs"
	"os"
)

// FileSystem is the set of mutations the executor performs. Tests swap it
// to inject failures mid-plan.
type FileSystem interface {
	Lstat(name string) (fs.FileInfo, error)
	Rename(oldpath, newpath string) error
	Mkdir(name string, perm fs.FileMode) error
	Remove(name string) error
	ReadDir(name string) ([]fs.DirEntry, error)
}

type osFS struct{}

func (osFS) Lstat(name string) (fs.FileInfo, error)     { return os.Lstat(name) }
func (osFS) Rename(oldpath, newpath string) error        { return os.Rename(oldpath, newpath) }
func (osFS) Mkdir(name string, perm fs.FileMode) error   { return os.Mkdir(name, perm) }
func (osFS) Remove(name string) error                    { return os.Remove(name) }
func (osFS) ReadDir(name string) ([]fs.DirEntry, error) { return os.ReadDir(name) }

// OS returns the real filesystem.
func OS() FileSystem { return osFS{} }
