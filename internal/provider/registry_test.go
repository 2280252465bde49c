package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Digital-Shane/reel-tidy/internal/media"
	"github.com/google/go-cmp/cmp"
)

// MockProvider is a test provider implementation
type MockProvider struct {
	name         string
	capabilities ProviderCapabilities
	searchFunc   func(context.Context, SearchRequest) ([]media.Candidate, error)
	schema       ConfigSchema
	configured   map[string]interface{}
}

func (m *MockProvider) Name() string        { return m.name }
func (m *MockProvider) Description() string { return "Mock provider for testing" }
func (m *MockProvider) Capabilities() ProviderCapabilities {
	return m.capabilities
}
func (m *MockProvider) ConfigSchema() ConfigSchema {
	return m.schema
}
func (m *MockProvider) Configure(config map[string]interface{}) error {
	m.configured = config
	return nil
}
func (m *MockProvider) Search(ctx context.Context, req SearchRequest) ([]media.Candidate, error) {
	if m.searchFunc != nil {
		return m.searchFunc(ctx, req)
	}
	return nil, nil
}

func newMock(name string, auth bool) *MockProvider {
	return &MockProvider{
		name: name,
		capabilities: ProviderCapabilities{
			MediaTypes:   []MediaType{MediaTypeMovie},
			RequiresAuth: auth,
		},
	}
}

func TestRegistry_Register(t *testing.T) {
	registry := NewRegistry()
	mock := newMock("test", false)

	if err := registry.Register("test", mock, 100); err != nil {
		t.Errorf("Register() error = %v, want nil", err)
	}
	if err := registry.Register("test", mock, 100); err == nil {
		t.Error("Register() expected error for duplicate, got nil")
	}

	bad := &MockProvider{name: "bad"}
	if err := registry.Register("bad", bad, 1); err == nil {
		t.Error("Register() expected error for provider without media types, got nil")
	}
}

func TestRegistry_Get(t *testing.T) {
	registry := NewRegistry()
	registry.Register("test", newMock("test", false), 100)

	p, exists := registry.Get("test")
	if !exists || p == nil {
		t.Errorf("Get() = %v, %v, want provider, true", p, exists)
	}
	if _, exists = registry.Get("nonexistent"); exists {
		t.Error("Get() exists = true, want false")
	}
}

func TestRegistry_ListAndEnabled(t *testing.T) {
	registry := NewRegistry()
	registry.Register("low", newMock("low", false), 50)
	registry.Register("high", newMock("high", false), 100)
	registry.Register("mid", newMock("mid", false), 75)

	if diff := cmp.Diff([]string{"high", "mid", "low"}, registry.List()); diff != "" {
		t.Errorf("List() mismatch (-want +got):\n%s", diff)
	}

	if got := registry.Enabled(); len(got) != 0 {
		t.Errorf("Enabled() before Enable = %d providers, want 0", len(got))
	}

	registry.Enable("low")
	registry.Enable("high")

	var names []string
	for _, p := range registry.Enabled() {
		names = append(names, p.Name())
	}
	if diff := cmp.Diff([]string{"high", "low"}, names); diff != "" {
		t.Errorf("Enabled() mismatch (-want +got):\n%s", diff)
	}
	if registry.IsEnabled("mid") {
		t.Error("IsEnabled(mid) = true, want false")
	}
}

func TestRegistry_Enable(t *testing.T) {
	registry := NewRegistry()
	registry.Register("test", newMock("test", false), 100)
	registry.Register("auth", newMock("auth", true), 100)

	if err := registry.Enable("test"); err != nil {
		t.Errorf("Enable() error = %v, want nil", err)
	}
	if !registry.enabledStatus["test"] {
		t.Error("enabledStatus[test] = false, want true")
	}
	if err := registry.Enable("nonexistent"); err == nil {
		t.Error("Enable() expected error for nonexistent provider, got nil")
	}
	if err := registry.Enable("auth"); err == nil {
		t.Error("Enable() expected error for unconfigured auth provider, got nil")
	}
	if err := registry.Configure("auth", map[string]interface{}{"api_key": "k"}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if err := registry.Enable("auth"); err != nil {
		t.Errorf("Enable() after Configure error = %v, want nil", err)
	}
}

func TestRegistry_Configure(t *testing.T) {
	registry := NewRegistry()
	mock := newMock("test", false)
	registry.Register("test", mock, 100)

	config := map[string]interface{}{"api_key": "test-key"}
	if err := registry.Configure("test", config); err != nil {
		t.Errorf("Configure() error = %v, want nil", err)
	}
	if mock.configured == nil {
		t.Error("Provider not configured")
	}
	if err := registry.Configure("nonexistent", config); err == nil {
		t.Error("Configure() expected error for nonexistent provider, got nil")
	}
}

func keyedMock(name string) *MockProvider {
	m := newMock(name, true)
	m.schema = ConfigSchema{Fields: []ConfigField{
		{Name: "api_key", Type: ConfigFieldTypePassword, Required: true, Sensitive: true},
		{Name: "language", Type: ConfigFieldTypeString, Default: "en-US"},
	}}
	return m
}

func TestRegistry_ConfigureAppliesSchema(t *testing.T) {
	tests := []struct {
		name    string
		config  map[string]interface{}
		want    map[string]interface{}
		wantErr bool
	}{
		{
			name:   "default filled in",
			config: map[string]interface{}{"api_key": "k"},
			want:   map[string]interface{}{"api_key": "k", "language": "en-US"},
		},
		{
			name:   "blank value takes default",
			config: map[string]interface{}{"api_key": "k", "language": " "},
			want:   map[string]interface{}{"api_key": "k", "language": "en-US"},
		},
		{
			name:   "explicit value kept",
			config: map[string]interface{}{"api_key": "k", "language": "fr-FR"},
			want:   map[string]interface{}{"api_key": "k", "language": "fr-FR"},
		},
		{name: "missing required", config: map[string]interface{}{"language": "fr-FR"}, wantErr: true},
		{name: "blank required", config: map[string]interface{}{"api_key": "  "}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewRegistry()
			mock := keyedMock("test")
			registry.Register("test", mock, 100)

			err := registry.Configure("test", tt.config)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Configure() error = nil, want required field error")
				}
				if mock.configured != nil {
					t.Error("provider configured despite schema failure")
				}
				if registry.Enable("test") == nil {
					t.Error("Enable() after failed Configure error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Configure() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, mock.configured); diff != "" {
				t.Errorf("applied config mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRegistry_SettingsMasksSensitiveFields(t *testing.T) {
	registry := NewRegistry()
	registry.Register("test", keyedMock("test"), 100)

	got, err := registry.Settings("test")
	if err != nil {
		t.Fatalf("Settings() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Settings() before Configure = %v, want empty", got)
	}

	if err := registry.Configure("test", map[string]interface{}{"api_key": "secret"}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	got, err = registry.Settings("test")
	if err != nil {
		t.Fatalf("Settings() error = %v", err)
	}
	want := map[string]string{"api_key": MaskedValue, "language": "en-US"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Settings() mismatch (-want +got):\n%s", diff)
	}

	if _, err := registry.Settings("nonexistent"); err == nil {
		t.Error("Settings() expected error for nonexistent provider, got nil")
	}
}

func TestValidateCapabilities(t *testing.T) {
	tests := []struct {
		name    string
		caps    ProviderCapabilities
		wantErr bool
	}{
		{"movie", ProviderCapabilities{MediaTypes: []MediaType{MediaTypeMovie}}, false},
		{"both", ProviderCapabilities{MediaTypes: []MediaType{MediaTypeMovie, MediaTypeShow}}, false},
		{"empty", ProviderCapabilities{}, true},
		{"unknown type", ProviderCapabilities{MediaTypes: []MediaType{"podcast"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateCapabilities(tt.caps); (err != nil) != tt.wantErr {
				t.Errorf("ValidateCapabilities() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestProviderError(t *testing.T) {
	cause := errors.New("429 too many requests")
	err := &ProviderError{
		Provider:   "tmdb",
		Code:       CodeRateLimited,
		Message:    "API rate limit exceeded",
		Retry:      true,
		RetryAfter: 10,
		Err:        cause,
	}

	if got := err.Error(); got != "tmdb: API rate limit exceeded" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
	if got := err.RetryDelay().Seconds(); got != 10 {
		t.Errorf("RetryDelay() = %vs, want 10s", got)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"wrapped canceled", fmt.Errorf("search: %w", context.Canceled), false},
		{"deadline", context.DeadlineExceeded, true},
		{"plain transport", errors.New("connection reset"), true},
		{"retryable provider", &ProviderError{Code: CodeUnavailable, Retry: true}, true},
		{"auth failure", &ProviderError{Code: CodeAuthFailed}, false},
		{"wrapped auth", fmt.Errorf("x: %w", &ProviderError{Code: CodeAuthFailed}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestYearFromDate(t *testing.T) {
	tests := map[string]int{
		"1999-03-31": 1999,
		"2008":       2008,
		"":           0,
		"19":         0,
		"abcd-01":    0,
	}
	for in, want := range tests {
		if got := YearFromDate(in); got != want {
			t.Errorf("YearFromDate(%q) = %d, want %d", in, got, want)
		}
	}
}
