// Package disambiguate asks a language model to settle weak or ambiguous
// metadata lookups.
package disambiguate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Digital-Shane/reel-tidy/internal/llm"
	"github.com/Digital-Shane/reel-tidy/internal/media"
	"github.com/rs/zerolog/log"
)

// ErrDisambiguationUnavailable means the service could not be reached or
// answered with something unusable after retries.
var ErrDisambiguationUnavailable = errors.New("disambiguation unavailable")

// VerdictKind is the shape of a disambiguation answer.
type VerdictKind string

const (
	VerdictSelect     VerdictKind = "select"
	VerdictRequery    VerdictKind = "requery"
	VerdictUnresolved VerdictKind = "unresolved"
)

// Verdict is the outcome for one entry. CandidateID is set for select; Title
// and Year carry the corrected query for requery.
type Verdict struct {
	Kind        VerdictKind
	CandidateID string
	Title       string
	Year        int
	Reason      string
}

// Request is everything the model sees about one entry.
type Request struct {
	Filename     string
	Hints        media.Hints
	Candidates   []media.Candidate
	AllowRequery bool
}

// Completer is the chat-completion call the disambiguator depends on.
type Completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Disambiguator turns a Request into a Verdict.
type Disambiguator struct {
	llm Completer
}

// New creates a Disambiguator backed by c.
func New(c Completer) *Disambiguator {
	return &Disambiguator{llm: c}
}

const systemPrompt = `You identify movies and TV series from messy media filenames.
You receive a filename, the hints parsed from it, and candidate matches from a metadata database.
Respond with JSON only, using this shape:
{"verdict": "select" | "requery" | "unresolved", "candidate_id": "", "title": "", "year": 0, "reason": ""}
- "select": candidate_id must be one of the listed candidate ids.
- "requery": give a corrected title (and year if known) to search again. Only allowed when requery_allowed is true.
- "unresolved": none of the candidates fit and you cannot suggest a better search.
Never invent candidate ids.`

type promptCandidate struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Year       int     `json:"year,omitempty"`
	Kind       string  `json:"kind"`
	Confidence float64 `json:"confidence"`
}

type promptPayload struct {
	Filename       string            `json:"filename"`
	Title          string            `json:"parsed_title,omitempty"`
	Year           int               `json:"parsed_year,omitempty"`
	Season         int               `json:"parsed_season,omitempty"`
	Episode        int               `json:"parsed_episode,omitempty"`
	Kind           string            `json:"parsed_kind"`
	Candidates     []promptCandidate `json:"candidates"`
	RequeryAllowed bool              `json:"requery_allowed"`
}

type response struct {
	Verdict     string `json:"verdict"`
	CandidateID string `json:"candidate_id"`
	Title       string `json:"title"`
	Year        int    `json:"year"`
	Reason      string `json:"reason"`
}

// Disambiguate consults the model once. A selection naming an id that is not
// among req.Candidates, or a requery when none is allowed, comes back as
// unresolved; the model never gets to invent an identity.
func (d *Disambiguator) Disambiguate(ctx context.Context, req Request) (Verdict, error) {
	if d == nil || d.llm == nil {
		return Verdict{}, fmt.Errorf("%w: no service configured", ErrDisambiguationUnavailable)
	}

	user, err := userPrompt(req)
	if err != nil {
		return Verdict{}, err
	}
	content, err := d.llm.CompleteJSON(ctx, systemPrompt, user)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Verdict{}, ctxErr
		}
		return Verdict{}, fmt.Errorf("%w: %w", ErrDisambiguationUnavailable, err)
	}

	var resp response
	if err := llm.DecodeLLMJSON(content, &resp); err != nil {
		return Verdict{}, fmt.Errorf("%w: parse payload: %w", ErrDisambiguationUnavailable, err)
	}

	verdict := interpret(resp, req)
	log.Debug().
		Str("file", req.Filename).
		Str("verdict", string(verdict.Kind)).
		Str("candidate", verdict.CandidateID).
		Str("reason", verdict.Reason).
		Msg("disambiguation verdict")
	return verdict, nil
}

func interpret(resp response, req Request) Verdict {
	reason := strings.TrimSpace(resp.Reason)
	switch VerdictKind(strings.ToLower(strings.TrimSpace(resp.Verdict))) {
	case VerdictSelect:
		id := strings.TrimSpace(resp.CandidateID)
		for _, c := range req.Candidates {
			if c.ExternalID == id {
				return Verdict{Kind: VerdictSelect, CandidateID: id, Reason: reason}
			}
		}
		return Verdict{Kind: VerdictUnresolved, Reason: fmt.Sprintf("selected unknown candidate %q", id)}
	case VerdictRequery:
		title := strings.TrimSpace(resp.Title)
		if !req.AllowRequery {
			return Verdict{Kind: VerdictUnresolved, Reason: "requery suggested after requery was used"}
		}
		if title == "" {
			return Verdict{Kind: VerdictUnresolved, Reason: "requery suggested without a title"}
		}
		return Verdict{Kind: VerdictRequery, Title: title, Year: resp.Year, Reason: reason}
	case VerdictUnresolved:
		return Verdict{Kind: VerdictUnresolved, Reason: reason}
	default:
		return Verdict{Kind: VerdictUnresolved, Reason: fmt.Sprintf("unknown verdict %q", resp.Verdict)}
	}
}

func userPrompt(req Request) (string, error) {
	payload := promptPayload{
		Filename:       req.Filename,
		Title:          req.Hints.Title,
		Year:           req.Hints.Year,
		Season:         req.Hints.Season,
		Episode:        req.Hints.Episode,
		Kind:           string(req.Hints.Kind),
		Candidates:     make([]promptCandidate, 0, len(req.Candidates)),
		RequeryAllowed: req.AllowRequery,
	}
	for _, c := range req.Candidates {
		payload.Candidates = append(payload.Candidates, promptCandidate{
			ID:         c.ExternalID,
			Title:      c.Title,
			Year:       c.Year,
			Kind:       string(c.Kind),
			Confidence: c.Confidence,
		})
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode disambiguation prompt: %w", err)
	}
	return string(data), nil
}
