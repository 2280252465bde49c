package tmdb

import (
	"context"
	"errors"
	"testing"

	"github.com/Digital-Shane/reel-tidy/internal/media"
	"github.com/Digital-Shane/reel-tidy/internal/provider"
	"github.com/google/go-cmp/cmp"
	"github.com/ryanbradynd05/go-tmdb"
)

// mockTMDBClient implements TMDBClient for testing
type mockTMDBClient struct {
	searchMovieFunc func(string, map[string]string) (*tmdb.MovieSearchResults, error)
	searchTvFunc    func(string, map[string]string) (*tmdb.TvSearchResults, error)
}

func (m *mockTMDBClient) SearchMovie(name string, options map[string]string) (*tmdb.MovieSearchResults, error) {
	if m.searchMovieFunc != nil {
		return m.searchMovieFunc(name, options)
	}
	return nil, nil
}

func (m *mockTMDBClient) SearchTv(name string, options map[string]string) (*tmdb.TvSearchResults, error) {
	if m.searchTvFunc != nil {
		return m.searchTvFunc(name, options)
	}
	return nil, nil
}

func TestSearchMovies(t *testing.T) {
	var gotOptions map[string]string
	client := &mockTMDBClient{
		searchMovieFunc: func(name string, options map[string]string) (*tmdb.MovieSearchResults, error) {
			gotOptions = options
			return &tmdb.MovieSearchResults{
				Results: []tmdb.MovieShort{
					{ID: 603, Title: "The Matrix", ReleaseDate: "1999-03-31", Popularity: 80.5},
					{ID: 604, Title: "The Matrix Reloaded", ReleaseDate: "2003-05-15", Popularity: 40},
				},
			}, nil
		},
	}
	p := NewWithClient(client)

	got, err := p.Search(context.Background(), provider.SearchRequest{
		MediaType: provider.MediaTypeMovie,
		Title:     "The Matrix",
		Year:      1999,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	want := []media.Candidate{
		{Title: "The Matrix", Year: 1999, ExternalID: "tmdb:603", Kind: media.KindMovie, Popularity: 80.5, Source: "tmdb"},
		{Title: "The Matrix Reloaded", Year: 2003, ExternalID: "tmdb:604", Kind: media.KindMovie, Popularity: 40, Source: "tmdb"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Search() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]string{"language": "en-US", "year": "1999"}, gotOptions); diff != "" {
		t.Errorf("options mismatch (-want +got):\n%s", diff)
	}
}

func TestSearchShows(t *testing.T) {
	client := &mockTMDBClient{
		searchTvFunc: func(name string, options map[string]string) (*tmdb.TvSearchResults, error) {
			return &tmdb.TvSearchResults{
				Results: []struct {
					BackdropPath  string `json:"backdrop_path"`
					ID            int
					OriginalName  string   `json:"original_name"`
					FirstAirDate  string   `json:"first_air_date"`
					OriginCountry []string `json:"origin_country"`
					PosterPath    string   `json:"poster_path"`
					Popularity    float32
					Name          string
					VoteAverage   float32 `json:"vote_average"`
					VoteCount     uint32  `json:"vote_count"`
				}{
					{ID: 1396, Name: "Breaking Bad", FirstAirDate: "2008-01-20", Popularity: 200},
				},
			}, nil
		},
	}
	p := NewWithClient(client)

	got, err := p.Search(context.Background(), provider.SearchRequest{
		MediaType: provider.MediaTypeShow,
		Title:     "Breaking Bad",
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	want := []media.Candidate{
		{Title: "Breaking Bad", Year: 2008, ExternalID: "tmdb:tv:1396", Kind: media.KindEpisode, Popularity: 200, Source: "tmdb"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Search() mismatch (-want +got):\n%s", diff)
	}
}

func TestSearchErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  string
		wantRetry bool
	}{
		{"unauthorized", errors.New("Status: 401 Unauthorized"), provider.CodeAuthFailed, false},
		{"rate limited", errors.New("Status: 429"), provider.CodeRateLimited, true},
		{"unavailable", errors.New("503 Service Unavailable"), provider.CodeUnavailable, true},
		{"transport", errors.New("dial tcp: connection refused"), provider.CodeUnknown, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewWithClient(&mockTMDBClient{
				searchMovieFunc: func(string, map[string]string) (*tmdb.MovieSearchResults, error) {
					return nil, tt.err
				},
			})
			_, err := p.Search(context.Background(), provider.SearchRequest{MediaType: provider.MediaTypeMovie, Title: "x"})
			var pe *provider.ProviderError
			if !errors.As(err, &pe) {
				t.Fatalf("Search() error = %v, want *ProviderError", err)
			}
			if pe.Code != tt.wantCode || pe.Retry != tt.wantRetry {
				t.Errorf("error = {%s %v}, want {%s %v}", pe.Code, pe.Retry, tt.wantCode, tt.wantRetry)
			}
		})
	}
}

func TestSearchNotConfigured(t *testing.T) {
	if _, err := New().Search(context.Background(), provider.SearchRequest{Title: "x"}); err == nil {
		t.Error("Search() on unconfigured provider error = nil, want error")
	}
}

func TestConfigureRequiresKey(t *testing.T) {
	p := New()
	if err := p.Configure(map[string]interface{}{}); err == nil {
		t.Error("Configure() without api_key error = nil, want error")
	}
	if err := p.Configure(map[string]interface{}{"api_key": "abc", "language": "de-DE"}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if p.language != "de-DE" {
		t.Errorf("language = %q, want de-DE", p.language)
	}
}
