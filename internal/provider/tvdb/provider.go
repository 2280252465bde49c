package tvdb

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Digital-Shane/reel-tidy/internal/media"
	"github.com/Digital-Shane/reel-tidy/internal/provider"
	tvdbapi "github.com/dashotv/tvdb"
	"github.com/dashotv/tvdb/openapi/models/operations"
	"github.com/dashotv/tvdb/openapi/models/shared"
)

const providerName = "tvdb"

// TVDBClient captures the dashotv client methods used by this provider.
type TVDBClient interface {
	GetSearchResults(request operations.GetSearchResultsRequest) (*tvdbapi.GetSearchResultsResponse, error)
}

// Provider implements the provider.Provider interface for TVDB.
type Provider struct {
	client      TVDBClient
	apiKey      string
	rateLimiter *provider.RateLimiter
}

// New creates a new TVDB provider instance.
func New() *Provider {
	return &Provider{rateLimiter: provider.NewRateLimiter(20, time.Second)}
}

// NewWithClient creates a provider around an existing client.
func NewWithClient(client TVDBClient) *Provider {
	p := New()
	p.client = client
	return p
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

// Description returns a human readable description of the provider.
func (p *Provider) Description() string {
	return "TheTVDB series and movie search"
}

// Capabilities returns what this provider can handle.
func (p *Provider) Capabilities() provider.ProviderCapabilities {
	return provider.ProviderCapabilities{
		MediaTypes:   []provider.MediaType{provider.MediaTypeShow, provider.MediaTypeMovie},
		RequiresAuth: true,
		Priority:     80,
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
				Description: "TheTVDB v4 API key",
				Sensitive:   true,
			},
		},
	}
}

// Configure logs in to TVDB with the configured key.
func (p *Provider) Configure(config map[string]interface{}) error {
	apiKeyRaw, ok := config["api_key"].(string)
	if !ok {
		return fmt.Errorf("api_key is required")
	}

	apiKey := strings.TrimSpace(apiKeyRaw)
	if apiKey == "" {
		return fmt.Errorf("api_key is required")
	}

	client, err := tvdbapi.Login(apiKey)
	if err != nil {
		return p.mapError(err)
	}

	p.apiKey = apiKey
	p.client = client
	return nil
}

// Search queries TVDB with a type filter and an optional year filter.
func (p *Provider) Search(ctx context.Context, request provider.SearchRequest) ([]media.Candidate, error) {
	if p.client == nil {
		return nil, fmt.Errorf("provider not configured")
	}
	query := strings.TrimSpace(request.Title)
	if query == "" {
		return nil, nil
	}
	if err := p.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	var searchType string
	switch request.MediaType {
	case provider.MediaTypeMovie:
		searchType = "movie"
	case provider.MediaTypeShow:
		searchType = "series"
	default:
		return nil, fmt.Errorf("unsupported media type: %s", request.MediaType)
	}

	req := operations.GetSearchResultsRequest{Query: &query, Type: &searchType}
	if request.Year > 0 {
		yf := float64(request.Year)
		req.Year = &yf
	}

	resp, err := p.client.GetSearchResults(req)
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
	if resp == nil {
		return nil, nil
	}

	out := make([]media.Candidate, 0, len(resp.Data))
	for _, result := range resp.Data {
		if !strings.EqualFold(pointerToString(result.Type), searchType) {
			continue
		}
		if cand, ok := toCandidate(result, request.MediaType); ok {
			out = append(out, cand)
		}
	}
	return out, nil
}

// toCandidate converts a search hit. Hits without an id or name are skipped.
func toCandidate(result shared.SearchResult, mediaType provider.MediaType) (media.Candidate, bool) {
	id := parseInt64(pointerToString(result.TvdbID))
	if id == 0 {
		id = parseInt64(pointerToString(result.ID))
	}
	name := firstNonEmptyString(pointerToString(result.Name), pointerToString(result.NameTranslated), pointerToString(result.Title))
	if id == 0 || name == "" {
		return media.Candidate{}, false
	}

	year, _ := strconv.Atoi(pointerToString(result.Year))
	prefix := "series"
	if mediaType == provider.MediaTypeMovie {
		prefix = "movie"
	}
	return media.Candidate{
		Title:      name,
		Year:       year,
		ExternalID: fmt.Sprintf("%s:%s:%d", providerName, prefix, id),
		Kind:       provider.KindForMediaType(mediaType),
		Source:     providerName,
	}, true
}

func pointerToString(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}

func parseInt64(value string) int64 {
	// Search ids arrive as "series-81189" as well as bare numbers
	if i := strings.LastIndex(value, "-"); i >= 0 {
		value = value[i+1:]
	}
	parsed, _ := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	return parsed
}

func firstNonEmptyString(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func (p *Provider) mapError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "401"), strings.Contains(lower, "unauthorized"), strings.Contains(lower, "apikey"):
		return &provider.ProviderError{Provider: providerName, Code: provider.CodeAuthFailed, Message: "authentication failed: " + msg, Err: err}
	case strings.Contains(lower, "429"), strings.Contains(lower, "too many"):
		return &provider.ProviderError{Provider: providerName, Code: provider.CodeRateLimited, Message: msg, Retry: true, RetryAfter: 5, Err: err}
	case strings.Contains(lower, "404"), strings.Contains(lower, "not found"):
		return &provider.ProviderError{Provider: providerName, Code: provider.CodeNotFound, Message: msg, Err: err}
	case strings.Contains(lower, "503"), strings.Contains(lower, "unavailable"):
		return &provider.ProviderError{Provider: providerName, Code: provider.CodeUnavailable, Message: msg, Retry: true, RetryAfter: 30, Err: err}
	default:
		return &provider.ProviderError{Provider: providerName, Code: provider.CodeUnknown, Message: msg, Retry: true, Err: err}
	}
}
