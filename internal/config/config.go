package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. REELTIDY__TMDB_API_KEY.
const EnvPrefix = "REELTIDY_"

// Config holds every tunable of a reel-tidy run
type Config struct {
	// Metadata sources
	TMDBAPIKey   string `json:"tmdb_api_key" mapstructure:"tmdb_api_key"`
	TMDBLanguage string `json:"tmdb_language" mapstructure:"tmdb_language"`
	OMDBAPIKey   string `json:"omdb_api_key" mapstructure:"omdb_api_key"`
	TVDBAPIKey   string `json:"tvdb_api_key" mapstructure:"tvdb_api_key"`
	EnableTMDB   bool   `json:"enable_tmdb" mapstructure:"enable_tmdb"`
	EnableOMDB   bool   `json:"enable_omdb" mapstructure:"enable_omdb"`
	EnableTVDB   bool   `json:"enable_tvdb" mapstructure:"enable_tvdb"`

	// Resolver
	MinConfidence      float64       `json:"min_confidence" mapstructure:"min_confidence"`
	ConfidentThreshold float64       `json:"confident_threshold" mapstructure:"confident_threshold"`
	AmbiguityBand      float64       `json:"ambiguity_band" mapstructure:"ambiguity_band"`
	LookupConcurrency  int           `json:"lookup_concurrency" mapstructure:"lookup_concurrency"`
	LookupAttempts     int           `json:"lookup_attempts" mapstructure:"lookup_attempts"`
	LookupBaseDelay    time.Duration `json:"lookup_base_delay" mapstructure:"lookup_base_delay"`
	LookupMaxDelay     time.Duration `json:"lookup_max_delay" mapstructure:"lookup_max_delay"`
	LookupTimeout      time.Duration `json:"lookup_timeout" mapstructure:"lookup_timeout"`

	// Disambiguator
	LLMEnabled bool          `json:"llm_enabled" mapstructure:"llm_enabled"`
	LLMAPIKey  string        `json:"llm_api_key" mapstructure:"llm_api_key"`
	LLMBaseURL string        `json:"llm_base_url" mapstructure:"llm_base_url"`
	LLMModel   string        `json:"llm_model" mapstructure:"llm_model"`
	LLMTimeout time.Duration `json:"llm_timeout" mapstructure:"llm_timeout"`

	// Planner
	MaxFilenameLength int    `json:"max_filename_length" mapstructure:"max_filename_length"`
	LibraryRoot       string `json:"library_root" mapstructure:"library_root"`

	// Journal
	JournalDir           string `json:"journal_dir" mapstructure:"journal_dir"`
	JournalRetentionDays int    `json:"journal_retention_days" mapstructure:"journal_retention_days"`

	// Queue
	QueueDB            string        `json:"queue_db" mapstructure:"queue_db"`
	QueueWorkers       int           `json:"queue_workers" mapstructure:"queue_workers"`
	QueueMaxAttempts   int           `json:"queue_max_attempts" mapstructure:"queue_max_attempts"`
	QueueBackoffBase   time.Duration `json:"queue_backoff_base" mapstructure:"queue_backoff_base"`
	QueueBackoffMax    time.Duration `json:"queue_backoff_max" mapstructure:"queue_backoff_max"`
	QueueRetention     time.Duration `json:"queue_retention" mapstructure:"queue_retention"`
	QueuePurgeSchedule string        `json:"queue_purge_schedule" mapstructure:"queue_purge_schedule"`

	// Conversion
	FFmpegPath        string        `json:"ffmpeg_path" mapstructure:"ffmpeg_path"`
	VideoEncoder      string        `json:"video_encoder" mapstructure:"video_encoder"`
	ConversionTimeout time.Duration `json:"conversion_timeout" mapstructure:"conversion_timeout"`
	MinFreeSpaceBytes int64         `json:"min_free_space_bytes" mapstructure:"min_free_space_bytes"`
	MoveOriginalTo    string        `json:"move_original_to" mapstructure:"move_original_to"`

	// Logging
	LogLevel      string `json:"log_level" mapstructure:"log_level"`
	LogFile       string `json:"log_file" mapstructure:"log_file"`
	LogMaxSizeMB  int    `json:"log_max_size_mb" mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `json:"log_max_backups" mapstructure:"log_max_backups"`
	LogMaxAgeDays int    `json:"log_max_age_days" mapstructure:"log_max_age_days"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	home := homeDir()
	return &Config{
		TMDBLanguage: "en-US",
		EnableTMDB:   true,

		MinConfidence:      0.35,
		ConfidentThreshold: 0.75,
		AmbiguityBand:      0.05,
		LookupConcurrency:  4,
		LookupAttempts:     3,
		LookupBaseDelay:    500 * time.Millisecond,
		LookupMaxDelay:     4 * time.Second,
		LookupTimeout:      10 * time.Second,

		LLMBaseURL: "https://openrouter.ai/api/v1/chat/completions",
		LLMModel:   "google/gemini-2.5-flash",
		LLMTimeout: 20 * time.Second,

		MaxFilenameLength: 120,

		JournalDir:           filepath.Join(home, "journal"),
		JournalRetentionDays: 30,

		QueueDB:            filepath.Join(home, "queue.db"),
		QueueWorkers:       2,
		QueueMaxAttempts:   3,
		QueueBackoffBase:   30 * time.Second,
		QueueBackoffMax:    10 * time.Minute,
		QueueRetention:     168 * time.Hour,
		QueuePurgeSchedule: "@every 1h",

		FFmpegPath:        "ffmpeg",
		VideoEncoder:      "auto",
		ConversionTimeout: 6 * time.Hour,
		MinFreeSpaceBytes: 2 << 30,
		MoveOriginalTo:    "_reel-tidy_safe",

		LogLevel:      "info",
		LogMaxSizeMB:  20,
		LogMaxBackups: 3,
		LogMaxAgeDays: 28,
	}
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".reel-tidy"
	}
	return filepath.Join(home, ".reel-tidy")
}

// ConfigPath returns the path to the config file
func ConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".reel-tidy", "config.json"), nil
}

// Load reads the configuration from the default path
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads the configuration at path. A missing file yields the
// defaults; environment overrides apply either way.
func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

// newViper returns a viper instance seeded with every default so that
// environment overrides and partial files both resolve to complete values.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	defaults := map[string]any{}
	data, _ := json.Marshal(DefaultConfig())
	_ = json.Unmarshal(data, &defaults)
	d := DefaultConfig()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	// JSON turns durations into nanosecond counts; keep them typed.
	for key, value := range map[string]time.Duration{
		"lookup_base_delay":  d.LookupBaseDelay,
		"lookup_max_delay":   d.LookupMaxDelay,
		"lookup_timeout":     d.LookupTimeout,
		"llm_timeout":        d.LLMTimeout,
		"queue_backoff_base": d.QueueBackoffBase,
		"queue_backoff_max":  d.QueueBackoffMax,
		"queue_retention":    d.QueueRetention,
		"conversion_timeout": d.ConversionTimeout,
	} {
		v.SetDefault(key, value)
	}
	v.SetDefault("min_free_space_bytes", d.MinFreeSpaceBytes)
	return v
}

// Validate rejects configurations that cannot produce a coherent run
func (cfg *Config) Validate() error {
	for name, value := range map[string]float64{
		"min_confidence":      cfg.MinConfidence,
		"confident_threshold": cfg.ConfidentThreshold,
		"ambiguity_band":      cfg.AmbiguityBand,
	} {
		if value < 0 || value > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, value)
		}
	}
	if cfg.ConfidentThreshold < cfg.MinConfidence {
		return fmt.Errorf("confident_threshold %v is below min_confidence %v", cfg.ConfidentThreshold, cfg.MinConfidence)
	}
	if cfg.LookupConcurrency <= 0 {
		return fmt.Errorf("lookup_concurrency must be positive, got %d", cfg.LookupConcurrency)
	}
	if cfg.LookupAttempts <= 0 {
		return fmt.Errorf("lookup_attempts must be positive, got %d", cfg.LookupAttempts)
	}
	if cfg.QueueWorkers <= 0 {
		return fmt.Errorf("queue_workers must be positive, got %d", cfg.QueueWorkers)
	}
	if cfg.QueueMaxAttempts <= 0 {
		return fmt.Errorf("queue_max_attempts must be positive, got %d", cfg.QueueMaxAttempts)
	}
	if cfg.MaxFilenameLength < 16 {
		return fmt.Errorf("max_filename_length must be at least 16, got %d", cfg.MaxFilenameLength)
	}
	if _, err := cron.ParseStandard(cfg.QueuePurgeSchedule); err != nil {
		return fmt.Errorf("queue_purge_schedule %q: %w", cfg.QueuePurgeSchedule, err)
	}
	return nil
}

// Save writes the configuration to the default path
func (cfg *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return cfg.SaveFile(path)
}

// SaveFile writes the configuration to path as indented JSON
func (cfg *Config) SaveFile(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Masked returns a copy with secrets replaced, for display.
func (cfg *Config) Masked() *Config {
	out := *cfg
	for _, s := range []*string{&out.TMDBAPIKey, &out.OMDBAPIKey, &out.TVDBAPIKey, &out.LLMAPIKey} {
		if *s != "" {
			*s = "********"
		}
	}
	return &out
}
