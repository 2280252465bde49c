package executor

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/Digital-Shane/reel-tidy/internal/journal"
)

// revert undoes a single journaled step.
func revert(fsys FileSystem, op journal.Operation) error {
	switch op.Type {
	case journal.OpRename:
		if op.DestPath == "" || op.SourcePath == "" {
			return fmt.Errorf("cannot undo rename %s: path missing", op.ID)
		}
		if _, err := fsys.Lstat(op.DestPath); err != nil {
			return fmt.Errorf("cannot undo rename: file %s: %w", op.DestPath, err)
		}
		if _, err := fsys.Lstat(op.SourcePath); err == nil {
			return fmt.Errorf("cannot undo rename: original path %s: %w", op.SourcePath, fs.ErrExist)
		}
		if err := fsys.Rename(op.DestPath, op.SourcePath); err != nil {
			return fmt.Errorf("failed to rename %s back to %s: %w", op.DestPath, op.SourcePath, err)
		}
		return nil

	case journal.OpIntent:
		// Nothing to undo when the rename never happened.
		if _, err := fsys.Lstat(op.DestPath); errors.Is(err, fs.ErrNotExist) {
			if _, err := fsys.Lstat(op.SourcePath); err == nil {
				return nil
			}
		}
		op.Type = journal.OpRename
		return revert(fsys, op)

	case journal.OpCreateDir:
		if op.DestPath == "" {
			return fmt.Errorf("cannot undo directory creation %s: path missing", op.ID)
		}
		info, err := fsys.Lstat(op.DestPath)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stat %s: %w", op.DestPath, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("path %s is not a directory", op.DestPath)
		}
		entries, err := fsys.ReadDir(op.DestPath)
		if err != nil {
			return fmt.Errorf("failed to read directory %s: %w", op.DestPath, err)
		}
		if len(entries) > 0 {
			return fmt.Errorf("cannot remove directory %s: not empty", op.DestPath)
		}
		if err := fsys.Remove(op.DestPath); err != nil {
			return fmt.Errorf("failed to remove directory %s: %w", op.DestPath, err)
		}
		return nil

	default:
		return fmt.Errorf("unknown operation type: %s", op.Type)
	}
}
