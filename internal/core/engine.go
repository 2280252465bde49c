// Package core runs the identification pipeline: extract, resolve and, when
// the lookup is weak, disambiguate.
package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Digital-Shane/reel-tidy/internal/disambiguate"
	"github.com/Digital-Shane/reel-tidy/internal/media"
	"github.com/Digital-Shane/reel-tidy/internal/resolve"
	"github.com/mhmtszr/concurrent-swiss-map"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Extractor turns a bare filename into hints.
type Extractor interface {
	Extract(filename string) media.Hints
}

// Resolver looks hints up in the metadata sources.
type Resolver interface {
	Resolve(ctx context.Context, hints media.Hints) ([]media.Candidate, error)
}

// Disambiguator settles weak lookups.
type Disambiguator interface {
	Disambiguate(ctx context.Context, req disambiguate.Request) (disambiguate.Verdict, error)
}

// Result is the identification outcome for one RawEntry. Identity is nil for
// unresolved entries; Reason and Err then say why. Candidates are from the
// lookup of the extracted hints and RequeryCandidates from the corrected
// lookup, if one ran.
type Result struct {
	Entry             media.RawEntry
	Hints             media.Hints
	Candidates        []media.Candidate
	RequeryCandidates []media.Candidate
	Identity          *media.ResolvedIdentity
	Requery           string
	Reason            string
	Err               error
}

// AllCandidates returns Candidates followed by the RequeryCandidates not
// already listed, matched on ExternalID.
func (r Result) AllCandidates() []media.Candidate {
	out := slices.Clone(r.Candidates)
	for _, c := range r.RequeryCandidates {
		if !slices.ContainsFunc(out, func(o media.Candidate) bool { return o.ExternalID == c.ExternalID }) {
			out = append(out, c)
		}
	}
	return out
}

// Resolved reports whether the entry has an accepted identity.
func (r Result) Resolved() bool {
	return r.Identity != nil
}

// Summary captures the state of an identification run at a point in time.
type Summary struct {
	TotalItems     int
	ProcessedItems int
	Resolved       int
	Unresolved     int
	ErrorCount     int
	WorkerLimit    int
	LastItem       string
	Done           bool
	Canceled       bool
}

// Event is a progress update emitted by the engine.
type Event struct {
	Summary Summary
	Result  *Result
	Err     error
}

// EngineConfig wires the engine's collaborators. Disambiguator may be nil, in
// which case weak lookups are reported unresolved.
type EngineConfig struct {
	Extractor     Extractor
	Resolver      Resolver
	Disambiguator Disambiguator
	Thresholds    resolve.Options
	Concurrency   int
	Logger        zerolog.Logger
	Now           func() time.Time
}

// Engine identifies the entries of one scan session. An Engine is not reused
// across runs.
type Engine struct {
	cfg     EngineConfig
	results *csmap.CsMap[string, Result]

	summaryMu sync.RWMutex
	summary   Summary
}

// NewEngine constructs an engine with defaults applied.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		cfg:     cfg,
		results: csmap.Create[string, Result](),
		summary: Summary{WorkerLimit: cfg.Concurrency},
	}
}

// Start identifies entries concurrently and returns a stream of progress
// events. The channel closes when every entry is done or ctx is cancelled.
func (e *Engine) Start(ctx context.Context, entries []media.RawEntry) <-chan Event {
	events := make(chan Event, 128)
	go e.run(ctx, entries, events)
	return events
}

// Run identifies entries and blocks until done. Results are ordered by path.
func (e *Engine) Run(ctx context.Context, entries []media.RawEntry) ([]Result, error) {
	for range e.Start(ctx, entries) {
	}
	return e.Results(), ctx.Err()
}

// Results returns a snapshot of finished results ordered by path.
func (e *Engine) Results() []Result {
	out := make([]Result, 0, e.results.Count())
	e.results.Range(func(_ string, value Result) bool {
		out = append(out, value)
		return false
	})
	slices.SortFunc(out, func(a, b Result) int { return strings.Compare(a.Entry.Path, b.Entry.Path) })
	return out
}

// Result returns the finished result for path.
func (e *Engine) Result(path string) (Result, bool) {
	return e.results.Load(path)
}

// SummarySnapshot returns the latest progress summary.
func (e *Engine) SummarySnapshot() Summary {
	e.summaryMu.RLock()
	defer e.summaryMu.RUnlock()
	return e.summary
}

func (e *Engine) run(ctx context.Context, entries []media.RawEntry, events chan<- Event) {
	defer close(events)

	e.summaryMu.Lock()
	e.summary.TotalItems = len(entries)
	e.summaryMu.Unlock()
	e.emit(ctx, events, nil, nil)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for _, entry := range entries {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res := e.Identify(gctx, entry)
			if errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}
			e.store(res)
			e.emit(ctx, events, &res, nil)
			return nil
		})
	}

	if err := g.Wait(); err != nil || ctx.Err() != nil {
		e.summaryMu.Lock()
		e.summary.Canceled = true
		e.summaryMu.Unlock()
		e.emit(ctx, events, nil, ctx.Err())
		return
	}

	e.summaryMu.Lock()
	e.summary.Done = true
	e.summaryMu.Unlock()
	e.emit(ctx, events, nil, nil)
}

func (e *Engine) store(res Result) {
	e.results.Store(res.Entry.Path, res)

	e.summaryMu.Lock()
	defer e.summaryMu.Unlock()
	e.summary.ProcessedItems++
	e.summary.LastItem = filepath.Base(res.Entry.Path)
	if res.Resolved() {
		e.summary.Resolved++
	} else {
		e.summary.Unresolved++
	}
	if res.Err != nil {
		e.summary.ErrorCount++
	}
}

func (e *Engine) emit(ctx context.Context, events chan<- Event, res *Result, err error) {
	ev := Event{Summary: e.SummarySnapshot(), Result: res, Err: err}
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

// Identify runs extractor, resolver and disambiguator for one entry, in that
// order. The disambiguator may redirect the lookup once; after that its word
// is final.
func (e *Engine) Identify(ctx context.Context, entry media.RawEntry) Result {
	filename := filepath.Base(entry.Path)
	res := Result{Entry: entry, Hints: e.cfg.Extractor.Extract(filename)}
	logger := e.cfg.Logger.With().Str("file", filename).Logger()

	cands, err := e.cfg.Resolver.Resolve(ctx, res.Hints)
	res.Candidates = cands
	if err != nil {
		return e.fail(res, "metadata lookup failed", err)
	}
	if !e.cfg.Thresholds.NeedsDisambiguation(cands) {
		return e.accept(res, cands[0], media.ProvenanceDirect)
	}
	if e.cfg.Disambiguator == nil {
		return e.unresolved(res, "lookup is ambiguous and no disambiguation service is configured")
	}

	verdict, err := e.cfg.Disambiguator.Disambiguate(ctx, disambiguate.Request{
		Filename:     filename,
		Hints:        res.Hints,
		Candidates:   cands,
		AllowRequery: true,
	})
	if err != nil {
		return e.fail(res, "disambiguation failed", err)
	}

	switch verdict.Kind {
	case disambiguate.VerdictSelect:
		return e.acceptID(res, res.Candidates, verdict.CandidateID)
	case disambiguate.VerdictRequery:
		return e.requery(ctx, res, verdict, logger)
	default:
		return e.unresolved(res, verdictReason(verdict))
	}
}

func (e *Engine) requery(ctx context.Context, res Result, verdict disambiguate.Verdict, logger zerolog.Logger) Result {
	corrected := res.Hints
	corrected.Title = verdict.Title
	if verdict.Year > 0 {
		corrected.Year = verdict.Year
	}
	res.Requery = corrected.Title
	if corrected.Year > 0 {
		res.Requery = fmt.Sprintf("%s (%d)", corrected.Title, corrected.Year)
	}
	logger.Debug().Str("query", res.Requery).Msg("re-querying with corrected title")

	cands, err := e.cfg.Resolver.Resolve(ctx, corrected)
	res.RequeryCandidates = cands
	if err != nil {
		return e.fail(res, "metadata re-query failed", err)
	}
	if !e.cfg.Thresholds.NeedsDisambiguation(cands) {
		return e.accept(res, cands[0], media.ProvenanceDisambiguated)
	}

	verdict, err = e.cfg.Disambiguator.Disambiguate(ctx, disambiguate.Request{
		Filename:     filepath.Base(res.Entry.Path),
		Hints:        corrected,
		Candidates:   cands,
		AllowRequery: false,
	})
	if err != nil {
		return e.fail(res, "disambiguation failed", err)
	}
	if verdict.Kind == disambiguate.VerdictSelect {
		return e.acceptID(res, cands, verdict.CandidateID)
	}
	return e.unresolved(res, verdictReason(verdict))
}

// Override re-identifies entry from an operator supplied title and year.
// The best match is accepted as a manual override regardless of confidence.
// The returned result replaces any earlier one for the same path.
func (e *Engine) Override(ctx context.Context, entry media.RawEntry, title string, year int) Result {
	res := Result{Entry: entry, Hints: e.cfg.Extractor.Extract(filepath.Base(entry.Path))}
	query := res.Hints
	query.Title = strings.TrimSpace(title)
	if year > 0 {
		query.Year = year
	}
	res.Requery = query.Title

	cands, err := e.cfg.Resolver.Resolve(ctx, query)
	res.Candidates = cands
	switch {
	case err != nil:
		res = e.fail(res, "manual lookup failed", err)
	case len(cands) == 0:
		res = e.unresolved(res, fmt.Sprintf("no match for override %q", title))
	default:
		res = e.accept(res, cands[0], media.ProvenanceManualOverride)
	}
	e.results.Store(entry.Path, res)
	return res
}

func (e *Engine) acceptID(res Result, cands []media.Candidate, id string) Result {
	for _, c := range cands {
		if c.ExternalID == id {
			return e.accept(res, c, media.ProvenanceDisambiguated)
		}
	}
	return e.unresolved(res, fmt.Sprintf("selected unknown candidate %q", id))
}

func (e *Engine) accept(res Result, c media.Candidate, prov media.Provenance) Result {
	if c.Kind == media.KindEpisode && !res.Hints.HasEpisode {
		return e.unresolved(res, fmt.Sprintf("matched series %s but the filename has no season/episode marker", c.Label()))
	}
	id := &media.ResolvedIdentity{
		Candidate:  c,
		Provenance: prov,
		ResolvedAt: e.cfg.Now(),
	}
	if c.Kind == media.KindEpisode {
		id.Season = res.Hints.Season
		id.Episode = res.Hints.Episode
	}
	res.Identity = id
	e.cfg.Logger.Debug().
		Str("file", filepath.Base(res.Entry.Path)).
		Str("match", c.Label()).
		Str("provenance", string(prov)).
		Float64("confidence", c.Confidence).
		Msg("identified")
	return res
}

func (e *Engine) unresolved(res Result, reason string) Result {
	res.Reason = reason
	e.cfg.Logger.Info().Str("file", filepath.Base(res.Entry.Path)).Str("reason", reason).Msg("unresolved")
	return res
}

func (e *Engine) fail(res Result, reason string, err error) Result {
	res.Reason = reason
	res.Err = err
	e.cfg.Logger.Warn().Err(err).Str("file", filepath.Base(res.Entry.Path)).Msg(reason)
	return res
}

func verdictReason(v disambiguate.Verdict) string {
	if v.Reason != "" {
		return "disambiguation unresolved: " + v.Reason
	}
	return "disambiguation unresolved"
}
