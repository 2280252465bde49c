package media

import (
	"context"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// videoRe matches the container extensions the scanner picks up.
var videoRe = regexp.MustCompile(`(?i)\.(avi|divx|m4v|mkv|mp4|mpg|mpeg|wmv|vob|3gp|3g2|asf|flv|m2v|mov|mts|m2ts|ogv|rm|rmvb|ts|webm|f4v)$`)

// DoNotProcessTag marks files and folders the scanner must leave alone.
const DoNotProcessTag = "[DNP]"

// IsVideo reports whether filename has a recognized container extension.
func IsVideo(filename string) bool {
	return videoRe.MatchString(filename)
}

// ContainerExtension returns the recognized container extension including the
// leading dot, or "" when the name has none.
func ContainerExtension(filename string) string {
	loc := videoRe.FindStringIndex(filename)
	if loc == nil {
		return ""
	}
	return filename[loc[0]:]
}

// SkipReason explains why the scanner did not emit an entry.
type SkipReason string

const (
	SkipDoNotProcess SkipReason = "do-not-process"
	SkipAlreadyDone  SkipReason = "already-renamed"
)

// Skipped is a file the scanner saw and intentionally ignored.
type Skipped struct {
	Path   string
	Reason SkipReason
}

// ScanOptions tunes a directory scan.
type ScanOptions struct {
	// IgnoreDirs are directory base names that are never descended into.
	IgnoreDirs []string
	// Done reports paths that were already processed by a previous run.
	Done func(path string) bool
}

// ScanResult holds the entries found by Scan.
type ScanResult struct {
	Entries []RawEntry
	Skipped []Skipped
}

// Scan walks root and returns a RawEntry for every video file beneath it.
// Results are sorted by path.
func Scan(ctx context.Context, root string, opts ScanOptions) (ScanResult, error) {
	var res ScanResult
	ignore := make(map[string]struct{}, len(opts.IgnoreDirs))
	for _, d := range opts.IgnoreDirs {
		if d != "" {
			ignore[d] = struct{}{}
		}
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name := d.Name()
		if d.IsDir() {
			if path == root {
				return nil
			}
			if _, ok := ignore[name]; ok {
				return filepath.SkipDir
			}
			if strings.Contains(name, DoNotProcessTag) {
				res.Skipped = append(res.Skipped, Skipped{Path: path, Reason: SkipDoNotProcess})
				return filepath.SkipDir
			}
			return nil
		}
		if !IsVideo(name) {
			return nil
		}
		if strings.Contains(name, DoNotProcessTag) {
			res.Skipped = append(res.Skipped, Skipped{Path: path, Reason: SkipDoNotProcess})
			return nil
		}
		if opts.Done != nil && opts.Done(path) {
			res.Skipped = append(res.Skipped, Skipped{Path: path, Reason: SkipAlreadyDone})
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		res.Entries = append(res.Entries, RawEntry{Path: path, Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return ScanResult{}, err
	}

	sort.Slice(res.Entries, func(i, j int) bool { return res.Entries[i].Path < res.Entries[j].Path })
	return res, nil
}
