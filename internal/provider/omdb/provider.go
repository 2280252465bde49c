package omdb

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Digital-Shane/omdb"
	"github.com/Digital-Shane/reel-tidy/internal/media"
	"github.com/Digital-Shane/reel-tidy/internal/provider"
)

const providerName = "omdb"

// Provider implements the provider.Provider interface for OMDb.
type Provider struct {
	client      *omdb.Client
	httpClient  *http.Client
	apiKey      string
	rateLimiter *provider.RateLimiter
}

// New creates a new OMDb provider instance.
func New() *Provider {
	return &Provider{
		rateLimiter: provider.NewRateLimiter(10, time.Second),
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

// Description returns a human readable description of the provider.
func (p *Provider) Description() string {
	return "Open Movie Database (OMDb) exact-title lookup"
}

// Capabilities returns what this provider can handle.
func (p *Provider) Capabilities() provider.ProviderCapabilities {
	return provider.ProviderCapabilities{
		MediaTypes:   []provider.MediaType{provider.MediaTypeMovie, provider.MediaTypeShow},
		RequiresAuth: true,
		Priority:     90,
	}
}

// ConfigSchema returns the configuration schema for this provider.
func (p *Provider) ConfigSchema() provider.ConfigSchema {
	return provider.ConfigSchema{
		Fields: []provider.ConfigField{
			{
				Name:        "api_key",
				DisplayName: "API Key",
				Type:        provider.ConfigFieldTypePassword,
				Required:    true,
				Description: "OMDb API key. Request one from https://www.omdbapi.com/apikey.aspx",
				Sensitive:   true,
			},
		},
	}
}

// Configure applies configuration to the provider.
func (p *Provider) Configure(config map[string]interface{}) error {
	apiKeyRaw, ok := config["api_key"].(string)
	if !ok {
		return fmt.Errorf("api_key is required")
	}
	apiKey := strings.TrimSpace(apiKeyRaw)
	if apiKey == "" {
		return fmt.Errorf("api_key is required")
	}

	// Allow overriding the HTTP client before configuration (useful for tests).
	if p.httpClient == nil {
		p.httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	p.apiKey = apiKey
	p.client = omdb.NewClient(p.apiKey, p.httpClient)
	return nil
}

// Search performs an exact-title lookup. OMDb answers with at most one title,
// so the result has zero or one candidate.
func (p *Provider) Search(ctx context.Context, request provider.SearchRequest) ([]media.Candidate, error) {
	if p.client == nil || p.apiKey == "" {
		return nil, fmt.Errorf("provider not configured")
	}
	if strings.TrimSpace(request.Title) == "" {
		return nil, nil
	}
	if err := p.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	query := omdb.QueryData{
		Title: request.Title,
		Plot:  "short",
	}
	if request.Year > 0 {
		query.Year = strconv.Itoa(request.Year)
	}
	switch request.MediaType {
	case provider.MediaTypeMovie:
		query.SearchType = "movie"
	case provider.MediaTypeShow:
		query.SearchType = "series"
	default:
		return nil, fmt.Errorf("unsupported media type: %s", request.MediaType)
	}

	result, err := p.client.SearchByTitle(query)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err != nil {
		mapped := p.mapError(err)
		if provider.IsNotFound(mapped) {
			return nil, nil
		}
		return nil, mapped
	}

	var cand media.Candidate
	switch r := result.(type) {
	case omdb.MovieResult:
		cand = candidate(r.Title, r.Year, r.ImdbID, r.ImdbRating, media.KindMovie)
	case *omdb.MovieResult:
		cand = candidate(r.Title, r.Year, r.ImdbID, r.ImdbRating, media.KindMovie)
	case omdb.SeriesResult:
		cand = candidate(r.Title, r.Year, r.ImdbID, r.ImdbRating, media.KindEpisode)
	case *omdb.SeriesResult:
		cand = candidate(r.Title, r.Year, r.ImdbID, r.ImdbRating, media.KindEpisode)
	default:
		return nil, nil
	}
	if cand.Title == "" || cand.ExternalID == providerName+":" {
		return nil, nil
	}
	return []media.Candidate{cand}, nil
}

// candidate builds a Candidate from OMDb fields. The IMDb rating stands in for
// popularity since OMDb exposes no popularity rank.
func candidate(title, year, imdbID, rating string, kind media.Kind) media.Candidate {
	y, _ := strconv.Atoi(omdb.FirstYear(year))
	return media.Candidate{
		Title:      title,
		Year:       y,
		ExternalID: providerName + ":" + imdbID,
		Kind:       kind,
		Popularity: float64(omdb.ParseRating(rating)),
		Source:     providerName,
	}
}

// mapError converts OMDb client errors into provider errors.
func (p *Provider) mapError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "invalid api key"), strings.Contains(lower, "missing omdb api key"):
		return &provider.ProviderError{
			Provider: providerName,
			Code:     provider.CodeAuthFailed,
			Message:  "authentication failed: " + msg,
			Err:      err,
		}
	case strings.Contains(lower, "not found"):
		return &provider.ProviderError{
			Provider: providerName,
			Code:     provider.CodeNotFound,
			Message:  msg,
			Err:      err,
		}
	case strings.Contains(lower, "limit reached"), strings.Contains(lower, "too many requests"):
		return &provider.ProviderError{
			Provider:   providerName,
			Code:       provider.CodeRateLimited,
			Message:    msg,
			Retry:      true,
			RetryAfter: 5,
			Err:        err,
		}
	default:
		return &provider.ProviderError{
			Provider: providerName,
			Code:     provider.CodeUnavailable,
			Message:  msg,
			Retry:    true,
			Err:      err,
		}
	}
}
