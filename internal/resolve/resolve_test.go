package resolve

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Digital-Shane/reel-tidy/internal/media"
	"github.com/Digital-Shane/reel-tidy/internal/provider"
	"github.com/avast/retry-go"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

type fakeSource struct {
	name    string
	types   []provider.MediaType
	calls   atomic.Int32
	results func(call int32, req provider.SearchRequest) ([]media.Candidate, error)
}

func (f *fakeSource) Name() string        { return f.name }
func (f *fakeSource) Description() string { return "fake" }
func (f *fakeSource) Capabilities() provider.ProviderCapabilities {
	types := f.types
	if types == nil {
		types = []provider.MediaType{provider.MediaTypeMovie, provider.MediaTypeShow}
	}
	return provider.ProviderCapabilities{MediaTypes: types}
}
func (f *fakeSource) Configure(map[string]interface{}) error { return nil }
func (f *fakeSource) ConfigSchema() provider.ConfigSchema     { return provider.ConfigSchema{} }
func (f *fakeSource) Search(ctx context.Context, req provider.SearchRequest) ([]media.Candidate, error) {
	n := f.calls.Add(1)
	return f.results(n, req)
}

func fastOptions() Options {
	opts := DefaultOptions()
	opts.BaseDelay = time.Millisecond
	opts.MaxDelay = 2 * time.Millisecond
	opts.Timeout = time.Second
	return opts
}

var approx = cmpopts.EquateApprox(0, 1e-9)

func TestResolve_ScoresAndRanks(t *testing.T) {
	src := &fakeSource{
		name: "tmdb",
		results: func(_ int32, req provider.SearchRequest) ([]media.Candidate, error) {
			if req.MediaType != provider.MediaTypeMovie {
				t.Errorf("MediaType = %s, want movie", req.MediaType)
			}
			return []media.Candidate{
				{Title: "The Matrix Reloaded", Year: 2003, ExternalID: "tmdb:604", Kind: media.KindMovie, Popularity: 40},
				{Title: "Something Else", Year: 2010, ExternalID: "tmdb:1", Kind: media.KindMovie},
				{Title: "The Matrix", Year: 1999, ExternalID: "tmdb:603", Kind: media.KindMovie, Popularity: 80},
				{Title: "Matrix", Year: 2021, ExternalID: "tmdb:9", Kind: media.KindMovie, Popularity: 90},
			}, nil
		},
	}
	r := New([]provider.Provider{src}, provider.NewLookupCache(), fastOptions())

	got, err := r.Resolve(context.Background(), media.Hints{Title: "The Matrix", Year: 1999, Kind: media.KindMovie})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	want := []media.Candidate{
		{Title: "The Matrix", Year: 1999, ExternalID: "tmdb:603", Kind: media.KindMovie, Popularity: 80, Confidence: 1.0},
		{Title: "The Matrix Reloaded", Year: 2003, ExternalID: "tmdb:604", Kind: media.KindMovie, Popularity: 40, Confidence: 0.55},
		{Title: "Matrix", Year: 2021, ExternalID: "tmdb:9", Kind: media.KindMovie, Popularity: 90, Confidence: 0.45},
	}
	if diff := cmp.Diff(want, got, approx); diff != "" {
		t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve_MergesSourcesByExternalID(t *testing.T) {
	a := &fakeSource{name: "a", results: func(int32, provider.SearchRequest) ([]media.Candidate, error) {
		return []media.Candidate{{Title: "Heat", Year: 1995, ExternalID: "tmdb:949", Kind: media.KindMovie}}, nil
	}}
	b := &fakeSource{name: "b", results: func(int32, provider.SearchRequest) ([]media.Candidate, error) {
		return []media.Candidate{
			{Title: "Heat", Year: 1995, ExternalID: "tmdb:949", Kind: media.KindMovie},
			{Title: "Heat", Year: 1986, ExternalID: "omdb:tt0093164", Kind: media.KindMovie},
		}, nil
	}}
	r := New([]provider.Provider{a, b}, nil, fastOptions())

	got, err := r.Resolve(context.Background(), media.Hints{Title: "Heat", Year: 1995, Kind: media.KindMovie})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	var ids []string
	for _, c := range got {
		ids = append(ids, c.ExternalID)
	}
	if diff := cmp.Diff([]string{"tmdb:949", "omdb:tt0093164"}, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve_UnknownKindSearchesBothTypes(t *testing.T) {
	var mu sync.Mutex
	var seen []provider.MediaType
	src := &fakeSource{name: "s", results: func(_ int32, req provider.SearchRequest) ([]media.Candidate, error) {
		mu.Lock()
		seen = append(seen, req.MediaType)
		mu.Unlock()
		return nil, nil
	}}
	movieOnly := &fakeSource{name: "m", types: []provider.MediaType{provider.MediaTypeMovie}, results: func(_ int32, req provider.SearchRequest) ([]media.Candidate, error) {
		if req.MediaType != provider.MediaTypeMovie {
			t.Errorf("movie-only source asked for %s", req.MediaType)
		}
		return nil, nil
	}}
	r := New([]provider.Provider{src, movieOnly}, nil, fastOptions())

	got, err := r.Resolve(context.Background(), media.Hints{Title: "Home Video", Kind: media.KindUnknown})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Resolve() = %v, want empty", got)
	}
	if diff := cmp.Diff([]provider.MediaType{provider.MediaTypeMovie, provider.MediaTypeShow}, seen); diff != "" {
		t.Errorf("searched types mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve_EmptyTitleSkipsLookup(t *testing.T) {
	src := &fakeSource{name: "s", results: func(int32, provider.SearchRequest) ([]media.Candidate, error) {
		t.Error("Search called for empty title")
		return nil, nil
	}}
	got, err := New([]provider.Provider{src}, nil, fastOptions()).Resolve(context.Background(), media.Hints{Kind: media.KindUnknown})
	if err != nil || got == nil || len(got) != 0 {
		t.Errorf("Resolve() = %v, %v; want empty slice, nil", got, err)
	}
}

func TestResolve_RetriesTransientFailures(t *testing.T) {
	src := &fakeSource{name: "tmdb", results: func(call int32, _ provider.SearchRequest) ([]media.Candidate, error) {
		if call < 3 {
			return nil, &provider.ProviderError{Provider: "tmdb", Code: provider.CodeUnavailable, Retry: true}
		}
		return []media.Candidate{{Title: "Heat", Year: 1995, ExternalID: "tmdb:949", Kind: media.KindMovie}}, nil
	}}
	r := New([]provider.Provider{src}, nil, fastOptions())

	got, err := r.Resolve(context.Background(), media.Hints{Title: "Heat", Year: 1995, Kind: media.KindMovie})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(got) != 1 || src.calls.Load() != 3 {
		t.Errorf("Resolve() = %d candidates after %d calls, want 1 after 3", len(got), src.calls.Load())
	}
}

func TestResolve_UnavailableAfterRetries(t *testing.T) {
	cause := &provider.ProviderError{Provider: "tmdb", Code: provider.CodeRateLimited, Retry: true}
	src := &fakeSource{name: "tmdb", results: func(int32, provider.SearchRequest) ([]media.Candidate, error) {
		return nil, cause
	}}
	r := New([]provider.Provider{src}, nil, fastOptions())

	_, err := r.Resolve(context.Background(), media.Hints{Title: "Heat", Kind: media.KindMovie})
	if !errors.Is(err, ErrLookupUnavailable) {
		t.Fatalf("Resolve() error = %v, want ErrLookupUnavailable", err)
	}
	var pe *provider.ProviderError
	if !errors.As(err, &pe) || pe.Code != provider.CodeRateLimited {
		t.Errorf("Resolve() error = %v, want wrapped rate limit error", err)
	}
	if got := src.calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestResolve_HonorsRetryAfter(t *testing.T) {
	var first time.Time
	var gap time.Duration
	src := &fakeSource{name: "tvdb", results: func(call int32, _ provider.SearchRequest) ([]media.Candidate, error) {
		if call == 1 {
			first = time.Now()
			return nil, &provider.ProviderError{Provider: "tvdb", Code: provider.CodeRateLimited, Retry: true, RetryAfter: 5}
		}
		gap = time.Since(first)
		return []media.Candidate{{Title: "Heat", Year: 1995, ExternalID: "tvdb:1", Kind: media.KindMovie}}, nil
	}}
	opts := fastOptions()
	opts.MaxDelay = 150 * time.Millisecond

	if _, err := New([]provider.Provider{src}, nil, opts).Resolve(context.Background(), media.Hints{Title: "Heat", Kind: media.KindMovie}); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if gap < opts.MaxDelay {
		t.Errorf("retried after %v, want at least the capped Retry-After of %v", gap, opts.MaxDelay)
	}
	if gap > 3*time.Second {
		t.Errorf("retried after %v, want Retry-After capped at %v", gap, opts.MaxDelay)
	}
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want time.Duration
	}{
		{"retry after", &provider.ProviderError{Code: provider.CodeRateLimited, Retry: true, RetryAfter: 5}, 5 * time.Second},
		{"wrapped retry after", fmt.Errorf("search: %w", &provider.ProviderError{Code: provider.CodeUnavailable, Retry: true, RetryAfter: 30}), 30 * time.Second},
		{"no retry after", &provider.ProviderError{Code: provider.CodeUnavailable, Retry: true}, 0},
		{"plain error", errors.New("connection reset"), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := tt.want
			if want == 0 {
				want = retry.BackOffDelay(0, tt.err, &retry.Config{})
			}
			if got := retryDelay(0, tt.err, &retry.Config{}); got != want {
				t.Errorf("retryDelay() = %v, want %v", got, want)
			}
		})
	}
}

func TestResolve_PermanentFailureNotRetried(t *testing.T) {
	src := &fakeSource{name: "tmdb", results: func(int32, provider.SearchRequest) ([]media.Candidate, error) {
		return nil, &provider.ProviderError{Provider: "tmdb", Code: provider.CodeAuthFailed}
	}}
	_, err := New([]provider.Provider{src}, nil, fastOptions()).Resolve(context.Background(), media.Hints{Title: "Heat", Kind: media.KindMovie})
	if !errors.Is(err, ErrLookupUnavailable) {
		t.Errorf("Resolve() error = %v, want ErrLookupUnavailable", err)
	}
	if got := src.calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestResolve_NotFoundIsEmpty(t *testing.T) {
	src := &fakeSource{name: "omdb", results: func(int32, provider.SearchRequest) ([]media.Candidate, error) {
		return nil, &provider.ProviderError{Provider: "omdb", Code: provider.CodeNotFound}
	}}
	got, err := New([]provider.Provider{src}, nil, fastOptions()).Resolve(context.Background(), media.Hints{Title: "Nothing", Kind: media.KindMovie})
	if err != nil || len(got) != 0 {
		t.Errorf("Resolve() = %v, %v; want empty, nil", got, err)
	}
	if src.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", src.calls.Load())
	}
}

func TestResolve_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &fakeSource{name: "tmdb", results: func(int32, provider.SearchRequest) ([]media.Candidate, error) {
		cancel()
		return nil, context.Canceled
	}}
	_, err := New([]provider.Provider{src}, nil, fastOptions()).Resolve(ctx, media.Hints{Title: "Heat", Kind: media.KindMovie})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Resolve() error = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrLookupUnavailable) {
		t.Error("cancellation reported as ErrLookupUnavailable")
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveLookup(source, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, source+":"+outcome)
}

func TestResolve_UsesRunCache(t *testing.T) {
	src := &fakeSource{name: "tmdb", results: func(int32, provider.SearchRequest) ([]media.Candidate, error) {
		return []media.Candidate{{Title: "Heat", Year: 1995, ExternalID: "tmdb:949", Kind: media.KindMovie}}, nil
	}}
	cache := provider.NewLookupCache()
	r := New([]provider.Provider{src}, cache, fastOptions())
	obs := &recordingObserver{}
	r.SetObserver(obs)

	hints := media.Hints{Title: "Heat", Year: 1995, Kind: media.KindMovie}
	first, err := r.Resolve(context.Background(), hints)
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Resolve(context.Background(), hints)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("cached result differs (-first +second):\n%s", diff)
	}
	if src.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", src.calls.Load())
	}
	if diff := cmp.Diff([]string{"tmdb:ok", "tmdb:cached"}, obs.outcomes); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}

	// A fresh run sees nothing from the previous one.
	New([]provider.Provider{src}, provider.NewLookupCache(), fastOptions()).Resolve(context.Background(), hints)
	if src.calls.Load() != 2 {
		t.Errorf("calls after new run = %d, want 2", src.calls.Load())
	}
}

func TestNeedsDisambiguation(t *testing.T) {
	opts := DefaultOptions()
	tests := []struct {
		name  string
		confs []float64
		want  bool
	}{
		{"no candidates", nil, true},
		{"single confident", []float64{0.9}, false},
		{"single at threshold", []float64{0.75}, false},
		{"single weak", []float64{0.6}, true},
		{"clear winner", []float64{1.0, 0.55}, false},
		{"top two within band", []float64{0.80, 0.75}, true},
		{"top two just outside band", []float64{0.90, 0.84}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cands []media.Candidate
			for _, c := range tt.confs {
				cands = append(cands, media.Candidate{Confidence: c})
			}
			if got := opts.NeedsDisambiguation(cands); got != tt.want {
				t.Errorf("NeedsDisambiguation(%v) = %v, want %v", tt.confs, got, tt.want)
			}
		})
	}
}

func TestTitleSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"The Matrix", "the matrix", 1},
		{"Amélie", "Amelie", 1},
		{"Léon: The Professional", "Leon The Professional", 1},
		{"Marvel's Agents of S.H.I.E.L.D.", "Marvels Agents of S H I E L D", 1},
		{"Law & Order", "Law and Order", 1},
		{"The Matrix", "The Matrix Reloaded", 2.0 / 3.0},
		{"Heat", "", 0},
		{"Alien", "Predator", 0},
	}
	for _, tt := range tests {
		t.Run(tt.a+"/"+tt.b, func(t *testing.T) {
			if got := TitleSimilarity(tt.a, tt.b); !cmp.Equal(got, tt.want, approx) {
				t.Errorf("TitleSimilarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestWeightsScore(t *testing.T) {
	w := DefaultWeights()
	episode := media.Hints{Title: "Show Name", Season: 2, Episode: 5, HasEpisode: true, Kind: media.KindEpisode}
	got := w.Score(episode, media.Candidate{Title: "Show Name", Year: 2010, Kind: media.KindEpisode})
	if !cmp.Equal(got, 0.75, approx) {
		t.Errorf("Score() = %v, want 0.75", got)
	}
	unknown := media.Hints{Title: "Show Name", Kind: media.KindUnknown}
	got = w.Score(unknown, media.Candidate{Title: "Show Name", Kind: media.KindMovie})
	if !cmp.Equal(got, 0.6, approx) {
		t.Errorf("Score() for unknown kind = %v, want 0.6", got)
	}
}
