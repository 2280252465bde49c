package tvdb

import (
	"errors"
	"testing"

	"github.com/Digital-Shane/reel-tidy/internal/media"
	"github.com/Digital-Shane/reel-tidy/internal/provider"
	"github.com/dashotv/tvdb/openapi/models/shared"
	"github.com/google/go-cmp/cmp"
)

func strPtr(s string) *string { return &s }

func TestToCandidate(t *testing.T) {
	tests := []struct {
		name      string
		result    shared.SearchResult
		mediaType provider.MediaType
		want      media.Candidate
		wantOK    bool
	}{
		{
			name:      "series with tvdb id",
			result:    shared.SearchResult{TvdbID: strPtr("81189"), Name: strPtr("Breaking Bad"), Year: strPtr("2008")},
			mediaType: provider.MediaTypeShow,
			want: media.Candidate{
				Title: "Breaking Bad", Year: 2008, ExternalID: "tvdb:series:81189",
				Kind: media.KindEpisode, Source: "tvdb",
			},
			wantOK: true,
		},
		{
			name:      "movie falls back to prefixed id and translated name",
			result:    shared.SearchResult{ID: strPtr("movie-603"), NameTranslated: strPtr("The Matrix"), Year: strPtr("1999")},
			mediaType: provider.MediaTypeMovie,
			want: media.Candidate{
				Title: "The Matrix", Year: 1999, ExternalID: "tvdb:movie:603",
				Kind: media.KindMovie, Source: "tvdb",
			},
			wantOK: true,
		},
		{
			name:      "missing id",
			result:    shared.SearchResult{Name: strPtr("Nameless")},
			mediaType: provider.MediaTypeShow,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := toCandidate(tt.result, tt.mediaType)
			if ok != tt.wantOK {
				t.Fatalf("toCandidate() ok = %v, want %v", ok, tt.wantOK)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("toCandidate() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMapError(t *testing.T) {
	p := New()
	tests := []struct {
		msg      string
		wantCode string
	}{
		{"401 Unauthorized", provider.CodeAuthFailed},
		{"429 Too Many Requests", provider.CodeRateLimited},
		{"404 not found", provider.CodeNotFound},
		{"503 unavailable", provider.CodeUnavailable},
		{"eof", provider.CodeUnknown},
	}
	for _, tt := range tests {
		var pe *provider.ProviderError
		if !errors.As(p.mapError(errors.New(tt.msg)), &pe) || pe.Code != tt.wantCode {
			t.Errorf("mapError(%q) = %v, want code %s", tt.msg, pe, tt.wantCode)
		}
	}
}
