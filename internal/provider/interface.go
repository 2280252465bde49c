package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/Digital-Shane/reel-tidy/internal/media"
)

// MediaType represents the type of media a provider can search
type MediaType string

const (
	MediaTypeMovie MediaType = "movie"
	MediaTypeShow  MediaType = "show"
)

// MediaTypeForKind maps an extracted media kind onto the provider search type.
// Unknown kinds search both.
func MediaTypeForKind(kind media.Kind) []MediaType {
	switch kind {
	case media.KindMovie:
		return []MediaType{MediaTypeMovie}
	case media.KindEpisode:
		return []MediaType{MediaTypeShow}
	default:
		return []MediaType{MediaTypeMovie, MediaTypeShow}
	}
}

// Provider is the interface every metadata source implements
type Provider interface {
	// Identification
	Name() string
	Description() string

	// Capability discovery
	Capabilities() ProviderCapabilities

	// Configuration
	Configure(config map[string]interface{}) error
	ConfigSchema() ConfigSchema

	// Search returns every candidate the source knows for the request,
	// unscored. Zero matches is an empty slice, not an error.
	Search(ctx context.Context, request SearchRequest) ([]media.Candidate, error)
}

// ProviderCapabilities describes what a provider can do
type ProviderCapabilities struct {
	MediaTypes   []MediaType // What media types are supported
	RequiresAuth bool        // Whether authentication is required
	Priority     int         // Default priority for this provider (higher = preferred)
}

// Supports reports whether the provider handles mediaType.
func (c ProviderCapabilities) Supports(mediaType MediaType) bool {
	for _, mt := range c.MediaTypes {
		if mt == mediaType {
			return true
		}
	}
	return false
}

// ConfigSchema describes the configuration requirements for a provider
type ConfigSchema struct {
	Fields []ConfigField
}

// ConfigField describes a single configuration field
type ConfigField struct {
	Name        string          // Field name
	DisplayName string          // Human-readable name
	Type        ConfigFieldType // Field type
	Required    bool            // Whether this field is required
	Default     interface{}     // Default value
	Description string          // Help text
	Sensitive   bool            // Whether this contains sensitive data (for masking)
}

// ConfigFieldType represents the type of a configuration field
type ConfigFieldType string

const (
	ConfigFieldTypeString   ConfigFieldType = "string"
	ConfigFieldTypeInt      ConfigFieldType = "int"
	ConfigFieldTypeBool     ConfigFieldType = "bool"
	ConfigFieldTypePassword ConfigFieldType = "password"
)

// MaskedValue replaces sensitive settings in Masked output.
const MaskedValue = "********"

// Apply returns a copy of config with defaults filled in for unset fields. It
// fails when a required field is missing or blank.
func (s ConfigSchema) Apply(config map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(config)+len(s.Fields))
	for k, v := range config {
		out[k] = v
	}
	for _, f := range s.Fields {
		if isUnset(out[f.Name]) && f.Default != nil {
			out[f.Name] = f.Default
		}
		if f.Required && isUnset(out[f.Name]) {
			return nil, fmt.Errorf("%s is required", f.Name)
		}
	}
	return out, nil
}

// Masked returns config rendered as strings with every sensitive field that
// has a value replaced by MaskedValue.
func (s ConfigSchema) Masked(config map[string]interface{}) map[string]string {
	sensitive := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		sensitive[f.Name] = f.Sensitive
	}
	out := make(map[string]string, len(config))
	for k, v := range config {
		switch {
		case isUnset(v):
			out[k] = ""
		case sensitive[k]:
			out[k] = MaskedValue
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}

func isUnset(v interface{}) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

// SearchRequest is what the resolver asks a metadata source.
type SearchRequest struct {
	MediaType MediaType
	Title     string
	Year      int
	Language  string
}

// Key returns a cache key that is stable for identical requests.
func (r SearchRequest) Key(providerName string) string {
	return fmt.Sprintf("%s:%s:%s:%d:%s", providerName, r.MediaType, strings.ToLower(r.Title), r.Year, r.Language)
}

// KindForMediaType is the candidate kind produced by a search of mediaType.
func KindForMediaType(mediaType MediaType) media.Kind {
	if mediaType == MediaTypeShow {
		return media.KindEpisode
	}
	return media.KindMovie
}

// YearFromDate returns the leading four-digit year of a date string like
// "1999-03-31", or 0.
func YearFromDate(date string) int {
	if len(date) < 4 {
		return 0
	}
	y := 0
	for _, r := range date[:4] {
		if r < '0' || r > '9' {
			return 0
		}
		y = y*10 + int(r-'0')
	}
	return y
}
