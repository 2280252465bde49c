package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Digital-Shane/reel-tidy/internal/disambiguate"
	"github.com/Digital-Shane/reel-tidy/internal/media"
	"github.com/Digital-Shane/reel-tidy/internal/provider/local"
	"github.com/Digital-Shane/reel-tidy/internal/resolve"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeResolver struct {
	byTitle map[string][]media.Candidate
	err     error
	mu      sync.Mutex
	queries []string
}

func (f *fakeResolver) Resolve(_ context.Context, hints media.Hints) ([]media.Candidate, error) {
	f.mu.Lock()
	f.queries = append(f.queries, hints.Title)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.byTitle[hints.Title], nil
}

type scriptedDisambiguator struct {
	verdicts []disambiguate.Verdict
	err      error
	requests []disambiguate.Request
}

func (s *scriptedDisambiguator) Disambiguate(_ context.Context, req disambiguate.Request) (disambiguate.Verdict, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return disambiguate.Verdict{}, s.err
	}
	if len(s.verdicts) == 0 {
		return disambiguate.Verdict{Kind: disambiguate.VerdictUnresolved}, nil
	}
	v := s.verdicts[0]
	s.verdicts = s.verdicts[1:]
	return v, nil
}

func newTestEngine(r Resolver, d Disambiguator) *Engine {
	cfg := EngineConfig{
		Extractor:   local.NewExtractorWithMaxYear(2026),
		Resolver:    r,
		Thresholds:  resolve.DefaultOptions(),
		Concurrency: 2,
		Logger:      zerolog.Nop(),
		Now:         func() time.Time { return fixedNow },
	}
	if d != nil {
		cfg.Disambiguator = d
	}
	return NewEngine(cfg)
}

var (
	matrix1999 = media.Candidate{Title: "The Matrix", Year: 1999, ExternalID: "tmdb:603", Kind: media.KindMovie, Confidence: 1}
	matrix2021 = media.Candidate{Title: "The Matrix Resurrections", Year: 2021, ExternalID: "tmdb:624860", Kind: media.KindMovie, Confidence: 0.72}
	matrixWeak = media.Candidate{Title: "The Matrix", Year: 1999, ExternalID: "tmdb:603", Kind: media.KindMovie, Confidence: 0.74}
	showName   = media.Candidate{Title: "Show Name", Year: 2010, ExternalID: "tmdb:tv:1", Kind: media.KindEpisode, Confidence: 0.75}
)

func entry(path string) media.RawEntry {
	return media.RawEntry{Path: path, Size: 100}
}

func TestIdentify_DirectMatch(t *testing.T) {
	r := &fakeResolver{byTitle: map[string][]media.Candidate{"The Matrix": {matrix1999, matrix2021}}}
	d := &scriptedDisambiguator{}
	e := newTestEngine(r, d)

	got := e.Identify(context.Background(), entry("/in/The.Matrix.1999.1080p.BluRay.x264.mkv"))
	want := &media.ResolvedIdentity{Candidate: matrix1999, Provenance: media.ProvenanceDirect, ResolvedAt: fixedNow}
	if diff := cmp.Diff(want, got.Identity); diff != "" {
		t.Errorf("Identity mismatch (-want +got):\n%s", diff)
	}
	if len(d.requests) != 0 {
		t.Errorf("disambiguator consulted %d times for a confident match", len(d.requests))
	}
}

func TestIdentify_EpisodeCarriesSeasonAndEpisode(t *testing.T) {
	r := &fakeResolver{byTitle: map[string][]media.Candidate{"Show Name": {showName}}}
	got := newTestEngine(r, nil).Identify(context.Background(), entry("/in/Show.Name.S02E05.720p.mp4"))
	if !got.Resolved() {
		t.Fatalf("Identify() unresolved: %s", got.Reason)
	}
	if got.Identity.Season != 2 || got.Identity.Episode != 5 {
		t.Errorf("Identity = S%dE%d, want S2E5", got.Identity.Season, got.Identity.Episode)
	}
}

func TestIdentify_SeriesWithoutMarkerIsUnresolved(t *testing.T) {
	r := &fakeResolver{byTitle: map[string][]media.Candidate{"Show Name": {showName}}}
	got := newTestEngine(r, nil).Identify(context.Background(), entry("/in/Show.Name.1080p.mkv"))
	if got.Resolved() {
		t.Fatalf("Identify() resolved %v, want unresolved", got.Identity)
	}
	if !strings.Contains(got.Reason, "season/episode") {
		t.Errorf("Reason = %q", got.Reason)
	}
}

func TestIdentify_AmbiguousWithoutDisambiguator(t *testing.T) {
	r := &fakeResolver{byTitle: map[string][]media.Candidate{"The Matrix": {matrixWeak, matrix2021}}}
	got := newTestEngine(r, nil).Identify(context.Background(), entry("/in/The.Matrix.mkv"))
	if got.Resolved() || got.Reason == "" {
		t.Errorf("Identify() = %+v, want unresolved with a reason", got)
	}
	if diff := cmp.Diff([]media.Candidate{matrixWeak, matrix2021}, got.Candidates); diff != "" {
		t.Errorf("attempted candidates mismatch (-want +got):\n%s", diff)
	}
}

func TestIdentify_DisambiguatorSelects(t *testing.T) {
	r := &fakeResolver{byTitle: map[string][]media.Candidate{"The Matrix": {matrixWeak, matrix2021}}}
	d := &scriptedDisambiguator{verdicts: []disambiguate.Verdict{{Kind: disambiguate.VerdictSelect, CandidateID: "tmdb:624860"}}}
	got := newTestEngine(r, d).Identify(context.Background(), entry("/in/The.Matrix.mkv"))

	if !got.Resolved() || got.Identity.Candidate.ExternalID != "tmdb:624860" || got.Identity.Provenance != media.ProvenanceDisambiguated {
		t.Fatalf("Identify() = %+v", got.Identity)
	}
	if len(d.requests) != 1 || !d.requests[0].AllowRequery || d.requests[0].Filename != "The.Matrix.mkv" {
		t.Errorf("requests = %+v", d.requests)
	}
}

func TestIdentify_SelectOfUnknownIDIsUnresolved(t *testing.T) {
	r := &fakeResolver{byTitle: map[string][]media.Candidate{"The Matrix": {matrixWeak}}}
	d := &scriptedDisambiguator{verdicts: []disambiguate.Verdict{{Kind: disambiguate.VerdictSelect, CandidateID: "tmdb:1"}}}
	got := newTestEngine(r, d).Identify(context.Background(), entry("/in/The.Matrix.mkv"))
	if got.Resolved() {
		t.Errorf("Identify() accepted an unknown candidate: %+v", got.Identity)
	}
}

func TestIdentify_RequeryOnce(t *testing.T) {
	r := &fakeResolver{byTitle: map[string][]media.Candidate{
		"Teh Matrx":  nil,
		"The Matrix": {matrix1999},
	}}
	d := &scriptedDisambiguator{verdicts: []disambiguate.Verdict{{Kind: disambiguate.VerdictRequery, Title: "The Matrix", Year: 1999}}}
	got := newTestEngine(r, d).Identify(context.Background(), entry("/in/Teh.Matrx.mkv"))

	if !got.Resolved() || got.Identity.Provenance != media.ProvenanceDisambiguated {
		t.Fatalf("Identify() = %+v", got)
	}
	if got.Requery != "The Matrix (1999)" {
		t.Errorf("Requery = %q", got.Requery)
	}
	if diff := cmp.Diff([]string{"Teh Matrx", "The Matrix"}, r.queries); diff != "" {
		t.Errorf("queries mismatch (-want +got):\n%s", diff)
	}
}

func TestIdentify_RequeryStillWeakConsultsWithoutRequery(t *testing.T) {
	r := &fakeResolver{byTitle: map[string][]media.Candidate{
		"Teh Matrx":  nil,
		"The Matrix": {matrixWeak, matrix2021},
	}}
	d := &scriptedDisambiguator{verdicts: []disambiguate.Verdict{
		{Kind: disambiguate.VerdictRequery, Title: "The Matrix"},
		{Kind: disambiguate.VerdictSelect, CandidateID: "tmdb:603"},
	}}
	got := newTestEngine(r, d).Identify(context.Background(), entry("/in/Teh.Matrx.mkv"))

	if !got.Resolved() || got.Identity.Candidate.ExternalID != "tmdb:603" {
		t.Fatalf("Identify() = %+v", got)
	}
	if len(d.requests) != 2 || d.requests[1].AllowRequery {
		t.Errorf("second request must forbid requery: %+v", d.requests)
	}
	if len(r.queries) != 2 {
		t.Errorf("resolver queried %d times, want 2", len(r.queries))
	}
}

func TestIdentify_RequeryKeepsBothCandidateSets(t *testing.T) {
	blob1958 := media.Candidate{Title: "The Blob", Year: 1958, ExternalID: "tmdb:1", Kind: media.KindMovie, Confidence: 0.7}
	blob1988 := media.Candidate{Title: "The Blob", Year: 1988, ExternalID: "tmdb:2", Kind: media.KindMovie, Confidence: 0.7}
	r := &fakeResolver{byTitle: map[string][]media.Candidate{
		"Blob":     {blob1958},
		"The Blob": {blob1958, blob1988},
	}}
	d := &scriptedDisambiguator{verdicts: []disambiguate.Verdict{
		{Kind: disambiguate.VerdictRequery, Title: "The Blob"},
		{Kind: disambiguate.VerdictUnresolved, Reason: "two remakes"},
	}}
	got := newTestEngine(r, d).Identify(context.Background(), entry("/in/Blob.mkv"))

	if got.Resolved() {
		t.Fatalf("Identify() resolved %+v, want unresolved", got.Identity)
	}
	if diff := cmp.Diff([]media.Candidate{blob1958}, got.Candidates); diff != "" {
		t.Errorf("Candidates mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]media.Candidate{blob1958, blob1988}, got.RequeryCandidates); diff != "" {
		t.Errorf("RequeryCandidates mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]media.Candidate{blob1958, blob1988}, got.AllCandidates()); diff != "" {
		t.Errorf("AllCandidates() mismatch (-want +got):\n%s", diff)
	}
}

func TestIdentify_RequerySelectOnlyFromCorrectedLookup(t *testing.T) {
	r := &fakeResolver{byTitle: map[string][]media.Candidate{
		"Teh Matrx":  {matrix2021},
		"The Matrix": {matrixWeak},
	}}
	d := &scriptedDisambiguator{verdicts: []disambiguate.Verdict{
		{Kind: disambiguate.VerdictRequery, Title: "The Matrix"},
		{Kind: disambiguate.VerdictSelect, CandidateID: matrix2021.ExternalID},
	}}
	got := newTestEngine(r, d).Identify(context.Background(), entry("/in/Teh.Matrx.mkv"))

	if got.Resolved() {
		t.Errorf("Identify() accepted %+v from the superseded lookup", got.Identity)
	}
	if len(got.Candidates) != 1 || len(got.RequeryCandidates) != 1 {
		t.Errorf("candidate sets = %v / %v", got.Candidates, got.RequeryCandidates)
	}
}

func TestIdentify_Failures(t *testing.T) {
	lookupErr := fmt.Errorf("%w: tmdb: boom", resolve.ErrLookupUnavailable)
	got := newTestEngine(&fakeResolver{err: lookupErr}, nil).Identify(context.Background(), entry("/in/The.Matrix.1999.mkv"))
	if got.Resolved() || !errors.Is(got.Err, resolve.ErrLookupUnavailable) {
		t.Errorf("lookup failure = %+v", got)
	}

	r := &fakeResolver{byTitle: map[string][]media.Candidate{"The Matrix": {matrixWeak}}}
	d := &scriptedDisambiguator{err: fmt.Errorf("%w: 503", disambiguate.ErrDisambiguationUnavailable)}
	got = newTestEngine(r, d).Identify(context.Background(), entry("/in/The.Matrix.mkv"))
	if got.Resolved() || !errors.Is(got.Err, disambiguate.ErrDisambiguationUnavailable) {
		t.Errorf("disambiguation failure = %+v", got)
	}
	if len(got.Candidates) != 1 {
		t.Errorf("attempted candidates lost: %v", got.Candidates)
	}
}

func TestRun_ReportsEveryEntry(t *testing.T) {
	r := &fakeResolver{byTitle: map[string][]media.Candidate{
		"The Matrix": {matrix1999},
		"Show Name":  {showName},
	}}
	e := newTestEngine(r, nil)
	entries := []media.RawEntry{
		entry("/in/b/Show.Name.S01E01.mkv"),
		entry("/in/a/The.Matrix.1999.mkv"),
		entry("/in/c/Unknown.Thing.mkv"),
		entry("/in/d/Show.Name.S01E02.mkv"),
	}

	var events int
	for ev := range e.Start(context.Background(), entries) {
		events++
		if ev.Err != nil {
			t.Errorf("event error = %v", ev.Err)
		}
	}

	results := e.Results()
	var paths []string
	for _, res := range results {
		paths = append(paths, res.Entry.Path)
	}
	want := []string{"/in/a/The.Matrix.1999.mkv", "/in/b/Show.Name.S01E01.mkv", "/in/c/Unknown.Thing.mkv", "/in/d/Show.Name.S01E02.mkv"}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Errorf("result paths mismatch (-want +got):\n%s", diff)
	}

	sum := e.SummarySnapshot()
	if !sum.Done || sum.TotalItems != 4 || sum.ProcessedItems != 4 || sum.Resolved != 3 || sum.Unresolved != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if events < 6 {
		t.Errorf("events = %d, want at least start + 4 results + done", events)
	}
}

// gatedResolver blocks each lookup briefly and records the peak number of
// lookups in flight.
type gatedResolver struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
}

func (g *gatedResolver) Resolve(ctx context.Context, _ media.Hints) ([]media.Candidate, error) {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	g.calls.Add(1)
	for {
		peak := g.peak.Load()
		if n <= peak || g.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	select {
	case <-time.After(5 * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return []media.Candidate{matrix1999}, nil
}

func TestRun_RespectsConcurrencyLimit(t *testing.T) {
	for _, limit := range []int{1, 3} {
		t.Run(fmt.Sprintf("limit %d", limit), func(t *testing.T) {
			r := &gatedResolver{}
			e := NewEngine(EngineConfig{
				Extractor:   local.NewExtractorWithMaxYear(2026),
				Resolver:    r,
				Thresholds:  resolve.DefaultOptions(),
				Concurrency: limit,
				Logger:      zerolog.Nop(),
			})
			entries := make([]media.RawEntry, 24)
			for i := range entries {
				entries[i] = entry(fmt.Sprintf("/in/%02d/The.Matrix.1999.mkv", i))
			}

			results, err := e.Run(context.Background(), entries)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if len(results) != len(entries) || int(r.calls.Load()) != len(entries) {
				t.Errorf("results = %d, lookups = %d, want %d", len(results), r.calls.Load(), len(entries))
			}
			if peak := int(r.peak.Load()); peak > limit {
				t.Errorf("peak lookups in flight = %d, want <= %d", peak, limit)
			}
			if got := e.SummarySnapshot().WorkerLimit; got != limit {
				t.Errorf("WorkerLimit = %d, want %d", got, limit)
			}
		})
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := newTestEngine(&fakeResolver{}, nil)
	_, err := e.Run(ctx, []media.RawEntry{entry("/in/a.mkv"), entry("/in/b.mkv")})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestOverride(t *testing.T) {
	r := &fakeResolver{byTitle: map[string][]media.Candidate{
		"Totally Different": {matrix2021},
	}}
	e := newTestEngine(r, nil)
	ent := entry("/in/The.Matrix.1999.mkv")

	got := e.Override(context.Background(), ent, "Totally Different", 0)
	if !got.Resolved() || got.Identity.Provenance != media.ProvenanceManualOverride || got.Identity.Candidate.ExternalID != "tmdb:624860" {
		t.Fatalf("Override() = %+v", got)
	}
	stored, ok := e.Result(ent.Path)
	if !ok || stored.Identity.Provenance != media.ProvenanceManualOverride {
		t.Errorf("stored result = %+v", stored)
	}

	miss := e.Override(context.Background(), ent, "Nothing", 0)
	if miss.Resolved() {
		t.Errorf("Override() with no match resolved: %+v", miss.Identity)
	}
}
