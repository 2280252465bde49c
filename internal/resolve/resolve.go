// Package resolve turns extracted hints into ranked metadata candidates.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Digital-Shane/reel-tidy/internal/media"
	"github.com/Digital-Shane/reel-tidy/internal/provider"
	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// ErrLookupUnavailable means a metadata source could not be reached after its
// retry policy was exhausted. It never means "no match".
var ErrLookupUnavailable = errors.New("lookup unavailable")

// Lookup outcomes reported to a LookupObserver.
const (
	OutcomeOK       = "ok"
	OutcomeCached   = "cached"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// LookupObserver is told about every source search once its retries settle.
type LookupObserver interface {
	ObserveLookup(source, outcome string, elapsed time.Duration)
}

// Options tune scoring and the per-source retry policy.
type Options struct {
	Weights            Weights
	MinConfidence      float64
	ConfidentThreshold float64
	AmbiguityBand      float64
	Attempts           int
	BaseDelay          time.Duration
	MaxDelay           time.Duration
	Timeout            time.Duration
	Language           string
}

// DefaultOptions returns the standard resolver settings.
func DefaultOptions() Options {
	return Options{
		Weights:            DefaultWeights(),
		MinConfidence:      0.35,
		ConfidentThreshold: 0.75,
		AmbiguityBand:      0.05,
		Attempts:           3,
		BaseDelay:          500 * time.Millisecond,
		MaxDelay:           4 * time.Second,
		Timeout:            10 * time.Second,
	}
}

// Resolver queries every enabled metadata source for a set of hints. A
// Resolver belongs to one run: its cache and in-flight table are never shared.
type Resolver struct {
	sources  []provider.Provider
	cache    *provider.LookupCache
	opts     Options
	observer LookupObserver
	flight   singleflight.Group
}

// New creates a resolver over sources. cache may be nil to disable caching.
func New(sources []provider.Provider, cache *provider.LookupCache, opts Options) *Resolver {
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	return &Resolver{sources: sources, cache: cache, opts: opts}
}

// SetObserver installs an observer for lookup outcomes.
func (r *Resolver) SetObserver(o LookupObserver) {
	r.observer = o
}

// Options returns the resolver's settings.
func (r *Resolver) Options() Options {
	return r.opts
}

// Resolve returns candidates for hints ordered by confidence, popularity and
// external ID, with everything below the minimum confidence dropped. Zero
// matches is an empty result. Any source that stays unreachable after
// retries fails the whole lookup with ErrLookupUnavailable so a partial
// answer is never mistaken for a complete one.
func (r *Resolver) Resolve(ctx context.Context, hints media.Hints) ([]media.Candidate, error) {
	if strings.TrimSpace(hints.Title) == "" {
		return []media.Candidate{}, nil
	}

	byID := make(map[string]media.Candidate)
	for _, mediaType := range provider.MediaTypeForKind(hints.Kind) {
		req := provider.SearchRequest{
			MediaType: mediaType,
			Title:     hints.Title,
			Year:      hints.Year,
			Language:  r.opts.Language,
		}
		for _, src := range r.sources {
			if !src.Capabilities().Supports(mediaType) {
				continue
			}
			found, err := r.search(ctx, src, req)
			if err != nil {
				return nil, err
			}
			for _, c := range found {
				c.Confidence = r.opts.Weights.Score(hints, c)
				if prev, ok := byID[c.ExternalID]; !ok || c.Confidence > prev.Confidence {
					byID[c.ExternalID] = c
				}
			}
		}
	}

	out := make([]media.Candidate, 0, len(byID))
	for _, c := range byID {
		if c.Confidence < r.opts.MinConfidence {
			continue
		}
		out = append(out, c)
	}
	media.SortCandidates(out)
	return out, nil
}

// search runs one source query through the run cache, the in-flight table
// and the retry policy.
func (r *Resolver) search(ctx context.Context, src provider.Provider, req provider.SearchRequest) ([]media.Candidate, error) {
	key := req.Key(src.Name())
	if cached, ok := r.cache.Get(key); ok {
		r.observe(src.Name(), OutcomeCached, 0)
		return cached, nil
	}

	start := time.Now()
	v, err, _ := r.flight.Do(key, func() (interface{}, error) {
		return r.searchWithRetry(ctx, src, req)
	})
	if err != nil {
		if provider.IsNotFound(err) {
			r.observe(src.Name(), OutcomeNotFound, time.Since(start))
			r.cache.Set(key, nil)
			return nil, nil
		}
		r.observe(src.Name(), OutcomeError, time.Since(start))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrLookupUnavailable, src.Name(), err)
	}

	found, _ := v.([]media.Candidate)
	r.cache.Set(key, found)
	r.observe(src.Name(), OutcomeOK, time.Since(start))
	return found, nil
}

func (r *Resolver) searchWithRetry(ctx context.Context, src provider.Provider, req provider.SearchRequest) ([]media.Candidate, error) {
	var found []media.Candidate
	err := retry.Do(
		func() error {
			callCtx := ctx
			if r.opts.Timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
				defer cancel()
			}
			res, err := src.Search(callCtx, req)
			if err != nil {
				return err
			}
			found = res
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(r.opts.Attempts)),
		retry.Delay(r.opts.BaseDelay),
		retry.MaxDelay(r.opts.MaxDelay),
		retry.DelayType(retryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return provider.IsRetryable(err) && !provider.IsNotFound(err) && ctx.Err() == nil
		}),
		retry.OnRetry(func(n uint, err error) {
			log.Debug().Err(err).Str("source", src.Name()).Str("title", req.Title).Uint("attempt", n+1).Msg("retrying metadata lookup")
		}),
	)
	return found, err
}

// retryDelay waits as long as the source asked, otherwise backs off
// exponentially. retry-go caps either at MaxDelay.
func retryDelay(n uint, err error, cfg *retry.Config) time.Duration {
	var pe *provider.ProviderError
	if errors.As(err, &pe) {
		if d := pe.RetryDelay(); d > 0 {
			return d
		}
	}
	return retry.BackOffDelay(n, err, cfg)
}

func (r *Resolver) observe(source, outcome string, elapsed time.Duration) {
	if r.observer != nil {
		r.observer.ObserveLookup(source, outcome, elapsed)
	}
}

// NeedsDisambiguation reports whether a ranked candidate list is too weak to
// accept directly: it is empty, its top candidate is below the confident
// threshold, or the top two are within the ambiguity band.
func (o Options) NeedsDisambiguation(cands []media.Candidate) bool {
	if len(cands) == 0 {
		return true
	}
	if cands[0].Confidence < o.ConfidentThreshold {
		return true
	}
	if len(cands) >= 2 && cands[0].Confidence-cands[1].Confidence <= o.AmbiguityBand+1e-9 {
		return true
	}
	return false
}
