package executor

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	csmap "github.com/mhmtszr/concurrent-swiss-map"
)

// DirLocks serializes plans that touch the same library directories. Share
// one DirLocks between executors that may run at the same time.
type DirLocks struct {
	locks *csmap.CsMap[string, chan struct{}]
}

// NewDirLocks returns an empty lock table.
func NewDirLocks() *DirLocks {
	return &DirLocks{locks: csmap.Create[string, chan struct{}]()}
}

// Acquire locks every directory in dirs, in sorted order so that two callers
// with overlapping sets cannot deadlock. The returned func releases them.
func (l *DirLocks) Acquire(ctx context.Context, dirs []string) (func(), error) {
	keys := normalizeDirs(dirs)
	held := make([]chan struct{}, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}
	for _, key := range keys {
		l.locks.SetIfAbsent(key, make(chan struct{}, 1))
		ch, _ := l.locks.Load(key)
		select {
		case ch <- struct{}{}:
			held = append(held, ch)
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}

func normalizeDirs(dirs []string) []string {
	seen := make(map[string]bool, len(dirs))
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		key := strings.ToLower(filepath.Clean(d))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// lockDir is the directory a path contends on: its first component below
// root when it lives under root, otherwise its parent.
func lockDir(root, path string) string {
	if root != "" {
		if rel, err := filepath.Rel(root, path); err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
			if parts := strings.SplitN(filepath.ToSlash(rel), "/", 2); len(parts) == 2 {
				return filepath.Join(root, parts[0])
			}
		}
	}
	return filepath.Dir(path)
}
