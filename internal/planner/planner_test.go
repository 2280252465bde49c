package planner

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/Digital-Shane/reel-tidy/internal/media"
	"github.com/Digital-Shane/reel-tidy/internal/provider/ffprobe"
	"github.com/google/go-cmp/cmp"
)

type fakeProber map[string]time.Duration

func (f fakeProber) Probe(_ context.Context, path string) (ffprobe.MediaInfo, error) {
	d, ok := f[path]
	if !ok {
		return ffprobe.MediaInfo{}, errors.New("no such file")
	}
	return ffprobe.MediaInfo{Duration: d}, nil
}

func movie(title string, year int) media.ResolvedIdentity {
	return media.ResolvedIdentity{
		Candidate:  media.Candidate{Title: title, Year: year, ExternalID: "tmdb:1", Kind: media.KindMovie},
		Provenance: media.ProvenanceDirect,
	}
}

func episode(title string, season, ep int) media.ResolvedIdentity {
	return media.ResolvedIdentity{
		Candidate:  media.Candidate{Title: title, ExternalID: "tmdb:tv:1", Kind: media.KindEpisode},
		Season:     season,
		Episode:    ep,
		Provenance: media.ProvenanceDirect,
	}
}

func input(path string, size int64, id media.ResolvedIdentity) Input {
	return Input{Entry: media.RawEntry{Path: path, Size: size}, Identity: id}
}

func newTestPlanner(existing ...string) *Planner {
	set := make(map[string]bool, len(existing))
	for _, p := range existing {
		set[p] = true
	}
	return New(Options{
		Root:   "/lib",
		Exists: func(p string) bool { return set[p] },
		Now:    func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
	})
}

func targets(p *Plan) []string {
	out := make([]string, len(p.Entries))
	for i, e := range p.Entries {
		out[i] = e.Target
	}
	return out
}

func TestBuild_CanonicalTargets(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want string
	}{
		{
			name: "movie",
			in:   input("/in/The.Matrix.1999.1080p.BluRay.x264.mkv", 10, movie("The Matrix", 1999)),
			want: "/lib/The Matrix (1999)/The Matrix (1999).mkv",
		},
		{
			name: "episode",
			in:   input("/in/Show.Name.S02E05.720p.mp4", 10, episode("Show Name", 2, 5)),
			want: "/lib/Show Name/Season 02/Show Name - S02E05.mp4",
		},
		{
			name: "movie without year",
			in:   input("/in/home.mkv", 10, movie("Home Video", 0)),
			want: "/lib/Home Video/Home Video.mkv",
		},
		{
			name: "extension lowercased",
			in:   input("/in/Alien.1979.MKV", 10, movie("Alien", 1979)),
			want: "/lib/Alien (1979)/Alien (1979).mkv",
		},
		{
			name: "unsafe characters substituted",
			in:   input("/in/acdc.mkv", 10, movie("AC/DC: Live?", 1992)),
			want: "/lib/AC／DC꞉ Live？ (1992)/AC／DC꞉ Live？ (1992).mkv",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := newTestPlanner().Build(context.Background(), []Input{tt.in})
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			if plan.Status != StatusValidated {
				t.Errorf("Status = %s, want validated; conflicts: %v", plan.Status, plan.Err())
			}
			if diff := cmp.Diff([]string{tt.want}, targets(plan)); diff != "" {
				t.Errorf("targets mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuild_MetadataAndOrder(t *testing.T) {
	p := newTestPlanner()
	plan, err := p.Build(context.Background(), []Input{
		input("/in/b.mkv", 1, movie("B", 2001)),
		input("/in/a.mkv", 1, movie("A", 2000)),
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if plan.ID == "" {
		t.Error("plan ID is empty")
	}
	if plan.Root != "/lib" || !plan.CreatedAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("plan = root %q created %v", plan.Root, plan.CreatedAt)
	}
	if plan.Entries[0].Source != "/in/a.mkv" || plan.Entries[1].Source != "/in/b.mkv" {
		t.Errorf("entries not ordered by source: %v", plan.Describe())
	}
}

func TestBuild_UnresolvableCollision(t *testing.T) {
	plan, err := newTestPlanner().Build(context.Background(), []Input{
		input("/in/Movie.2020.mkv", 100, movie("Movie", 2020)),
		input("/in/Movie.2020.Copy.mkv", 100, movie("Movie", 2020)),
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if plan.Status != StatusDraft {
		t.Errorf("Status = %s, want draft", plan.Status)
	}
	if !errors.Is(plan.Err(), ErrPlanValidationConflict) {
		t.Errorf("Err() = %v, want ErrPlanValidationConflict", plan.Err())
	}
	want := []*ConflictError{{
		Target:  "/lib/Movie (2020)/Movie (2020).mkv",
		Sources: []string{"/in/Movie.2020.Copy.mkv", "/in/Movie.2020.mkv"},
	}}
	if diff := cmp.Diff(want, plan.Conflicts); diff != "" {
		t.Errorf("Conflicts mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_SizeTieBreak(t *testing.T) {
	plan, err := newTestPlanner().Build(context.Background(), []Input{
		input("/in/a.mkv", 100, movie("Movie", 2020)),
		input("/in/b.mkv", 200, movie("Movie", 2020)),
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	want := []string{
		"/lib/Movie (2020)/Movie (2020) [100 bytes].mkv",
		"/lib/Movie (2020)/Movie (2020) [200 bytes].mkv",
	}
	if diff := cmp.Diff(want, targets(plan)); diff != "" {
		t.Errorf("targets mismatch (-want +got):\n%s", diff)
	}
	if plan.Status != StatusValidated {
		t.Errorf("Status = %s, want validated", plan.Status)
	}
}

func TestBuild_DurationTieBreak(t *testing.T) {
	p := New(Options{
		Root:   "/lib",
		Exists: func(string) bool { return false },
		Prober: fakeProber{
			"/in/a.mkv": 90 * time.Minute,
			"/in/b.mkv": 2*time.Hour + 400*time.Millisecond,
		},
	})
	plan, err := p.Build(context.Background(), []Input{
		input("/in/a.mkv", 100, movie("Movie", 2020)),
		input("/in/b.mkv", 100, movie("Movie", 2020)),
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	want := []string{
		"/lib/Movie (2020)/Movie (2020) [1h30m0s].mkv",
		"/lib/Movie (2020)/Movie (2020) [2h0m0s].mkv",
	}
	if diff := cmp.Diff(want, targets(plan)); diff != "" {
		t.Errorf("targets mismatch (-want +got):\n%s", diff)
	}
	if plan.Entries[0].Suffix != " [1h30m0s]" {
		t.Errorf("Suffix = %q", plan.Entries[0].Suffix)
	}
}

func TestBuild_DurationFallsBackToSize(t *testing.T) {
	p := New(Options{
		Root:   "/lib",
		Exists: func(string) bool { return false },
		Prober: fakeProber{"/in/a.mkv": time.Hour, "/in/b.mkv": time.Hour},
	})
	plan, err := p.Build(context.Background(), []Input{
		input("/in/a.mkv", 1, movie("Movie", 2020)),
		input("/in/b.mkv", 2, movie("Movie", 2020)),
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got := plan.Entries[1].Suffix; got != " [2 bytes]" {
		t.Errorf("Suffix = %q, want size suffix", got)
	}
}

func TestBuild_ExistingTarget(t *testing.T) {
	taken := "/lib/Movie (2020)/Movie (2020).mkv"

	t.Run("separated by size", func(t *testing.T) {
		plan, err := newTestPlanner(taken).Build(context.Background(), []Input{
			input("/in/a.mkv", 5, movie("Movie", 2020)),
		})
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}
		if got := plan.Entries[0].Target; got != "/lib/Movie (2020)/Movie (2020) [5 bytes].mkv" {
			t.Errorf("Target = %q", got)
		}
		if plan.Status != StatusValidated {
			t.Errorf("Status = %s, want validated", plan.Status)
		}
	})

	t.Run("conflict when nothing separates", func(t *testing.T) {
		plan, err := newTestPlanner(taken).Build(context.Background(), []Input{
			input("/in/a.mkv", 0, movie("Movie", 2020)),
		})
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}
		if plan.Status != StatusDraft || len(plan.Conflicts) != 1 {
			t.Fatalf("Status = %s conflicts = %v, want one conflict", plan.Status, plan.Conflicts)
		}
		if !strings.Contains(plan.Conflicts[0].Error(), "already exists") {
			t.Errorf("conflict = %v", plan.Conflicts[0])
		}
	})
}

func TestBuild_AlreadyCanonicalKeepsPath(t *testing.T) {
	canonical := "/lib/Movie (2020)/Movie (2020).mkv"
	plan, err := newTestPlanner(canonical).Build(context.Background(), []Input{
		input(canonical, 100, movie("Movie", 2020)),
		input("/in/new.mkv", 200, movie("Movie", 2020)),
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	want := []string{"/in/new.mkv", canonical}
	got := []string{plan.Entries[0].Source, plan.Entries[1].Source}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("sources mismatch (-want +got):\n%s", diff)
	}
	if !plan.Entries[1].NoOp() {
		t.Errorf("canonical entry moved to %s", plan.Entries[1].Target)
	}
	if plan.Entries[0].Target != "/lib/Movie (2020)/Movie (2020) [200 bytes].mkv" {
		t.Errorf("new entry Target = %s", plan.Entries[0].Target)
	}
	if len(plan.Changes()) != 1 {
		t.Errorf("Changes() = %d entries, want 1", len(plan.Changes()))
	}
}

func TestBuild_Truncation(t *testing.T) {
	long := strings.Repeat("Long Title ", 20)
	plan, err := newTestPlanner().Build(context.Background(), []Input{
		input("/in/long.mkv", 1, movie(long, 1999)),
		input("/in/long.s01e02.mkv", 1, episode(long, 1, 2)),
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if plan.Status != StatusValidated {
		t.Fatalf("Status = %s: %v", plan.Status, plan.Err())
	}
	for _, e := range plan.Entries {
		rel, _ := filepath.Rel("/lib", e.Target)
		parts := strings.Split(filepath.ToSlash(rel), "/")
		last := strings.TrimSuffix(parts[len(parts)-1], ".mkv")
		for _, part := range append(parts[:len(parts)-1], last) {
			if n := utf8.RuneCountInString(part); n > DefaultMaxNameLength {
				t.Errorf("component %q has %d runes", part, n)
			}
		}
	}
	if !strings.HasSuffix(plan.Entries[0].Target, " (1999).mkv") {
		t.Errorf("movie target lost its year: %s", plan.Entries[0].Target)
	}
	if !strings.HasSuffix(plan.Entries[1].Target, " - S01E02.mkv") {
		t.Errorf("episode target lost its code: %s", plan.Entries[1].Target)
	}
}

func TestBuild_NoTitle(t *testing.T) {
	_, err := newTestPlanner().Build(context.Background(), []Input{
		input("/in/x.mkv", 1, movie("  ", 2000)),
	})
	if err == nil {
		t.Error("Build() error = nil, want error for empty title")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		entries []Entry
		want    []string
	}{
		{
			name: "distinct targets",
			entries: []Entry{
				{Source: "/a", Target: "/x/a"},
				{Source: "/b", Target: "/x/b"},
			},
		},
		{
			name: "case-folded duplicate",
			entries: []Entry{
				{Source: "/a", Target: "/x/Movie.mkv"},
				{Source: "/b", Target: "/x/movie.mkv"},
			},
			want: []string{"target /x/Movie.mkv claimed by /a, /b"},
		},
		{
			name: "target is another source",
			entries: []Entry{
				{Source: "/a", Target: "/b"},
				{Source: "/b", Target: "/c"},
			},
			want: []string{"target /b is the source of another entry; targeted by /a, /b"},
		},
		{
			name:    "empty target",
			entries: []Entry{{Source: "/a"}},
			want:    []string{"target  has an empty path for /a"},
		},
		{
			name:    "component too long",
			entries: []Entry{{Source: "/a", Target: "/x/" + strings.Repeat("y", 21) + ".mkv"}},
			want:    []string{"target /x/" + strings.Repeat("y", 21) + ".mkv has a component longer than 20 characters for /a"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, c := range Validate(tt.entries, 20) {
				got = append(got, c.Error())
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Validate() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPlanValidateRejectsApplied(t *testing.T) {
	p := &Plan{ID: "p1", Status: StatusApplied}
	if err := p.Validate(120); err == nil {
		t.Error("Validate() on applied plan error = nil")
	}
}

func TestSanitizeRoundTrip(t *testing.T) {
	titles := []string{
		`Who? What: "Why" <Now> | A/B\C *`,
		"Tab\there",
		"Del\x7f",
		"Plain Title",
		"Amélie",
	}
	for _, title := range titles {
		s := Sanitize(title)
		if strings.ContainsAny(s, `<>:"/\|?*`) || strings.ContainsRune(s, '\t') || strings.ContainsRune(s, 0x7f) {
			t.Errorf("Sanitize(%q) = %q still has unsafe characters", title, s)
		}
		if got := Unsanitize(s); got != title {
			t.Errorf("Unsanitize(Sanitize(%q)) = %q", title, got)
		}
	}
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"Amélie Poulain", 3, "Amé"},
		{"Some Title. More", 11, "Some Title"},
		{"anything", 0, ""},
	}
	for _, tt := range tests {
		if got := truncateRunes(tt.in, tt.n); got != tt.want {
			t.Errorf("truncateRunes(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestRelativeTarget_ComponentRules(t *testing.T) {
	tests := []struct {
		name string
		id   media.ResolvedIdentity
		want string
	}{
		{
			name: "dot inside a component is kept",
			id:   movie("Monsters, Inc.", 2001),
			want: "Monsters, Inc. (2001)/Monsters, Inc. (2001).mkv",
		},
		{
			name: "dot ending the series folder is substituted",
			id:   episode("Monsters, Inc.", 1, 2),
			want: "Monsters, Inc․/Season 01/Monsters, Inc. - S01E02.mkv",
		},
		{
			name: "reserved device name as series folder",
			id:   episode("Con", 1, 1),
			want: "Coｎ/Season 01/Con - S01E01.mkv",
		},
		{
			name: "reserved name before a dot",
			id:   movie("Nul. Point", 2004),
			want: "Nuｌ. Point (2004)/Nuｌ. Point (2004).mkv",
		},
		{
			name: "reserved word inside a longer name is left alone",
			id:   movie("CON", 1999),
			want: "CON (1999)/CON (1999).mkv",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RelativeTarget(tt.id, ".mkv", "", DefaultMaxNameLength)
			if err != nil {
				t.Fatalf("RelativeTarget() error = %v", err)
			}
			if filepath.ToSlash(got) != tt.want {
				t.Errorf("RelativeTarget() = %q, want %q", filepath.ToSlash(got), tt.want)
			}
		})
	}
}

func TestComponentRoundTrip(t *testing.T) {
	names := []string{
		"Monsters, Inc.",
		"Con",
		"lpt1",
		"Nul. Point",
		"Aux Files",
		"Who? What: Why.",
		"Plain Title",
	}
	for _, name := range names {
		s := finishComponent(Sanitize(name))
		if strings.HasSuffix(s, ".") {
			t.Errorf("component for %q = %q ends with a dot", name, s)
		}
		stem, _ := splitStem(s)
		if reservedNames[strings.ToUpper(stem)] {
			t.Errorf("component for %q = %q is a reserved name", name, s)
		}
		if got := Unsanitize(unfinishComponent(s)); got != name {
			t.Errorf("round trip of %q = %q", name, got)
		}
	}
}
