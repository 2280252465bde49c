package media

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSortCandidates(t *testing.T) {
	cands := []Candidate{
		{ExternalID: "tmdb:3", Confidence: 0.8, Popularity: 1},
		{ExternalID: "tmdb:2", Confidence: 0.9, Popularity: 1},
		{ExternalID: "tmdb:9", Confidence: 0.8, Popularity: 5},
		{ExternalID: "tmdb:1", Confidence: 0.8, Popularity: 1},
	}
	SortCandidates(cands)

	var got []string
	for _, c := range cands {
		got = append(got, c.ExternalID)
	}
	want := []string{"tmdb:2", "tmdb:9", "tmdb:1", "tmdb:3"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SortCandidates() mismatch (-want +got):\n%s", diff)
	}
}

func TestContainerExtension(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"movie.mkv", ".mkv"},
		{"Movie.MP4", ".MP4"},
		{"clip.m2ts", ".m2ts"},
		{"notes.txt", ""},
		{"noext", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContainerExtension(tt.name); got != tt.want {
				t.Errorf("ContainerExtension(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	files := []string{
		"The.Matrix.1999.mkv",
		"readme.txt",
		"Keep [DNP].mp4",
		"Shows/Show.S01E01.mp4",
		"Old [DNP]/Anything.mkv",
		"_safe/Original.avi",
		"Done/Done (2000).mkv",
	}
	for _, f := range files {
		p := filepath.Join(root, f)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	done := filepath.Join(root, "Done/Done (2000).mkv")
	res, err := Scan(context.Background(), root, ScanOptions{
		IgnoreDirs: []string{"_safe"},
		Done:       func(p string) bool { return p == done },
	})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	var paths []string
	for _, e := range res.Entries {
		paths = append(paths, e.Path)
		if e.Size != 1 {
			t.Errorf("entry %s size = %d, want 1", e.Path, e.Size)
		}
	}
	wantPaths := []string{
		filepath.Join(root, "Shows/Show.S01E01.mp4"),
		filepath.Join(root, "The.Matrix.1999.mkv"),
	}
	if diff := cmp.Diff(wantPaths, paths); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}

	reasons := map[string]SkipReason{}
	for _, s := range res.Skipped {
		reasons[filepath.Base(s.Path)] = s.Reason
	}
	wantReasons := map[string]SkipReason{
		"Keep [DNP].mp4":  SkipDoNotProcess,
		"Old [DNP]":       SkipDoNotProcess,
		"Done (2000).mkv": SkipAlreadyDone,
	}
	if diff := cmp.Diff(wantReasons, reasons); diff != "" {
		t.Errorf("skipped mismatch (-want +got):\n%s", diff)
	}
}
