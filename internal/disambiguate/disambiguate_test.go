package disambiguate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Digital-Shane/reel-tidy/internal/llm"
	"github.com/Digital-Shane/reel-tidy/internal/media"
	"github.com/google/go-cmp/cmp"
)

type stubCompleter struct {
	content string
	err     error
	user    string
}

func (s *stubCompleter) CompleteJSON(_ context.Context, _, user string) (string, error) {
	s.user = user
	return s.content, s.err
}

var matrixCandidates = []media.Candidate{
	{Title: "The Matrix", Year: 1999, ExternalID: "tmdb:603", Kind: media.KindMovie, Confidence: 0.7},
	{Title: "The Matrix", Year: 2021, ExternalID: "tmdb:999", Kind: media.KindMovie, Confidence: 0.68},
}

func TestDisambiguate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		allow   bool
		want    Verdict
	}{
		{
			name:    "select known candidate",
			content: `{"verdict":"select","candidate_id":"tmdb:603","reason":"1080p BluRay of the 1999 film"}`,
			want:    Verdict{Kind: VerdictSelect, CandidateID: "tmdb:603", Reason: "1080p BluRay of the 1999 film"},
		},
		{
			name:    "select unknown candidate is unresolved",
			content: `{"verdict":"select","candidate_id":"tmdb:1"}`,
			want:    Verdict{Kind: VerdictUnresolved, Reason: `selected unknown candidate "tmdb:1"`},
		},
		{
			name:    "requery allowed",
			content: "```json\n{\"verdict\":\"requery\",\"title\":\"The Matrix\",\"year\":1999}\n```",
			allow:   true,
			want:    Verdict{Kind: VerdictRequery, Title: "The Matrix", Year: 1999},
		},
		{
			name:    "requery not allowed",
			content: `{"verdict":"requery","title":"The Matrix"}`,
			want:    Verdict{Kind: VerdictUnresolved, Reason: "requery suggested after requery was used"},
		},
		{
			name:    "requery without title",
			content: `{"verdict":"requery"}`,
			allow:   true,
			want:    Verdict{Kind: VerdictUnresolved, Reason: "requery suggested without a title"},
		},
		{
			name:    "explicit unresolved",
			content: `{"verdict":"UNRESOLVED","reason":"home video"}`,
			want:    Verdict{Kind: VerdictUnresolved, Reason: "home video"},
		},
		{
			name:    "unknown verdict",
			content: `{"verdict":"maybe"}`,
			want:    Verdict{Kind: VerdictUnresolved, Reason: `unknown verdict "maybe"`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(&stubCompleter{content: tt.content})
			got, err := d.Disambiguate(context.Background(), Request{
				Filename:     "The.Matrix.1080p.BluRay.mkv",
				Hints:        media.Hints{Title: "The Matrix", Kind: media.KindUnknown},
				Candidates:   matrixCandidates,
				AllowRequery: tt.allow,
			})
			if err != nil {
				t.Fatalf("Disambiguate() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Disambiguate() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDisambiguate_PromptCarriesContext(t *testing.T) {
	stub := &stubCompleter{content: `{"verdict":"unresolved"}`}
	_, err := New(stub).Disambiguate(context.Background(), Request{
		Filename:     "Show.S01E02.mkv",
		Hints:        media.Hints{Title: "Show", Season: 1, Episode: 2, Kind: media.KindEpisode},
		Candidates:   matrixCandidates[:1],
		AllowRequery: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	var payload promptPayload
	if err := json.Unmarshal([]byte(stub.user), &payload); err != nil {
		t.Fatalf("prompt is not JSON: %v", err)
	}
	want := promptPayload{
		Filename: "Show.S01E02.mkv", Title: "Show", Season: 1, Episode: 2, Kind: "episode",
		Candidates:     []promptCandidate{{ID: "tmdb:603", Title: "The Matrix", Year: 1999, Kind: "movie", Confidence: 0.7}},
		RequeryAllowed: true,
	}
	if diff := cmp.Diff(want, payload); diff != "" {
		t.Errorf("prompt mismatch (-want +got):\n%s", diff)
	}
}

func TestDisambiguate_Unavailable(t *testing.T) {
	tests := []struct {
		name string
		d    *Disambiguator
	}{
		{"nil disambiguator", nil},
		{"service error", New(&stubCompleter{err: errors.New("llm complete: http 503")})},
		{"malformed payload", New(&stubCompleter{content: "I think it's the first one"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.d.Disambiguate(context.Background(), Request{Filename: "x.mkv"})
			if !errors.Is(err, ErrDisambiguationUnavailable) {
				t.Errorf("Disambiguate() error = %v, want ErrDisambiguationUnavailable", err)
			}
		})
	}
}

func TestDisambiguate_OverHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{
				"content": `{"verdict":"select","candidate_id":"tmdb:999"}`,
			}}},
		})
	}))
	defer server.Close()

	client := llm.NewClient(llm.Config{APIKey: "k", BaseURL: server.URL, Model: "m"}, llm.WithRetry(1, time.Millisecond, time.Millisecond))
	got, err := New(client).Disambiguate(context.Background(), Request{Filename: "Matrix.mkv", Candidates: matrixCandidates})
	if err != nil {
		t.Fatalf("Disambiguate() error = %v", err)
	}
	if got.Kind != VerdictSelect || got.CandidateID != "tmdb:999" {
		t.Errorf("Disambiguate() = %+v", got)
	}
}

func TestSystemPromptMentionsVerdicts(t *testing.T) {
	for _, v := range []VerdictKind{VerdictSelect, VerdictRequery, VerdictUnresolved} {
		if !strings.Contains(systemPrompt, string(v)) {
			t.Errorf("system prompt does not mention %q", v)
		}
	}
}
