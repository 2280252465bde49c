package tmdb

import (
	"fmt"
	"strings"
	"time"

	"github.com/Digital-Shane/reel-tidy/internal/provider"
	"github.com/ryanbradynd05/go-tmdb"
)

const (
	providerName = "tmdb"
)

// Provider implements the provider.Provider interface for TMDB
type Provider struct {
	client      TMDBClient
	language    string
	apiKey      string
	rateLimiter *provider.RateLimiter
}

// TMDBClient is the subset of *tmdb.TMDb used for searches
type TMDBClient interface {
	SearchMovie(name string, options map[string]string) (*tmdb.MovieSearchResults, error)
	SearchTv(name string, options map[string]string) (*tmdb.TvSearchResults, error)
}

// New creates a new TMDB provider instance
func New() *Provider {
	return &Provider{
		language:    "en-US",
		rateLimiter: provider.NewRateLimiter(38, 10*time.Second), // 38 requests per 10 seconds
	}
}

// NewWithClient creates a provider around an existing client. Used in tests.
func NewWithClient(client TMDBClient) *Provider {
	p := New()
	p.client = client
	return p
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// Description returns the provider description
func (p *Provider) Description() string {
	return "The Movie Database (TMDB) movie and series search"
}

// Capabilities returns what this provider can do
func (p *Provider) Capabilities() provider.ProviderCapabilities {
	return provider.ProviderCapabilities{
		MediaTypes:   []provider.MediaType{provider.MediaTypeMovie, provider.MediaTypeShow},
		RequiresAuth: true,
		Priority:     100,
	}
}

// ConfigSchema returns the configuration schema for this provider
func (p *Provider) ConfigSchema() provider.ConfigSchema {
	return provider.ConfigSchema{
		Fields: []provider.ConfigField{
			{
				Name:        "api_key",
				DisplayName: "API Key",
				Type:        provider.ConfigFieldTypePassword,
				Required:    true,
				Description: "TMDB API key (not the Read Access Token). Get it from themoviedb.org/settings/api",
				Sensitive:   true,
			},
			{
				Name:        "language",
				DisplayName: "Language",
				Type:        provider.ConfigFieldTypeString,
				Default:     "en-US",
				Description: "Preferred language for titles",
			},
		},
	}
}

// Configure applies configuration to the provider
func (p *Provider) Configure(config map[string]interface{}) error {
	apiKey, ok := config["api_key"].(string)
	if !ok || apiKey == "" {
		return fmt.Errorf("api_key is required")
	}
	p.apiKey = apiKey

	if language, ok := config["language"].(string); ok && language != "" {
		p.language = language
	}

	p.client = tmdb.Init(tmdb.Config{
		APIKey:   p.apiKey,
		Proxies:  nil,
		UseProxy: false,
	})
	return nil
}

// mapError maps TMDB errors to provider errors
func (p *Provider) mapError(err error) error {
	if err == nil {
		return nil
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "401") || strings.Contains(errStr, "unauthorized"):
		return &provider.ProviderError{
			Provider: providerName,
			Code:     provider.CodeAuthFailed,
			Message:  "authentication failed",
			Err:      err,
		}
	case strings.Contains(errStr, "429") || strings.Contains(errStr, "rate limit"):
		return &provider.ProviderError{
			Provider:   providerName,
			Code:       provider.CodeRateLimited,
			Message:    "rate limit exceeded",
			Retry:      true,
			RetryAfter: 10,
			Err:        err,
		}
	case strings.Contains(errStr, "503") || strings.Contains(errStr, "502") || strings.Contains(errStr, "unavailable"):
		return &provider.ProviderError{
			Provider:   providerName,
			Code:       provider.CodeUnavailable,
			Message:    "service unavailable",
			Retry:      true,
			RetryAfter: 30,
			Err:        err,
		}
	}

	// Transport failures (DNS, resets, malformed bodies) are worth retrying
	return &provider.ProviderError{
		Provider: providerName,
		Code:     provider.CodeUnknown,
		Message:  err.Error(),
		Retry:    true,
		Err:      err,
	}
}
