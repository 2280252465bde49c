package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Digital-Shane/reel-tidy/internal/config"
	"github.com/Digital-Shane/reel-tidy/internal/core"
	"github.com/Digital-Shane/reel-tidy/internal/disambiguate"
	"github.com/Digital-Shane/reel-tidy/internal/journal"
	"github.com/Digital-Shane/reel-tidy/internal/llm"
	"github.com/Digital-Shane/reel-tidy/internal/logging"
	"github.com/Digital-Shane/reel-tidy/internal/provider"
	"github.com/Digital-Shane/reel-tidy/internal/provider/builtin"
	"github.com/Digital-Shane/reel-tidy/internal/provider/ffprobe"
	"github.com/Digital-Shane/reel-tidy/internal/provider/local"
	"github.com/Digital-Shane/reel-tidy/internal/queue"
	"github.com/Digital-Shane/reel-tidy/internal/resolve"
	"github.com/Digital-Shane/reel-tidy/internal/transcode"
	"github.com/rs/zerolog/log"
)

// commandContext carries what every subcommand shares: the loaded config and
// the log file handle.
type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	logCloser io.Closer
	now       func() time.Time
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
		now:          time.Now,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var (
			cfg *config.Config
			err error
		)
		if path := strings.TrimSpace(*c.configFlag); path != "" {
			cfg, err = config.LoadFile(path)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			c.configErr = err
			return
		}
		if level := strings.TrimSpace(*c.logLevelFlag); level != "" {
			cfg.LogLevel = level
		}
		if err := cfg.Validate(); err != nil {
			c.configErr = fmt.Errorf("invalid configuration: %w", err)
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configPath() (string, error) {
	if path := strings.TrimSpace(*c.configFlag); path != "" {
		return path, nil
	}
	return config.ConfigPath()
}

// setup loads the config, installs the logger and drops expired journals.
func (c *commandContext) setup() error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	closer, err := logging.Setup(logging.Options{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	if err != nil {
		return err
	}
	c.logCloser = closer

	retention := time.Duration(cfg.JournalRetentionDays) * 24 * time.Hour
	if removed, err := c.journal().Purge(retention); err != nil {
		log.Warn().Err(err).Msg("failed to purge old journals")
	} else if removed > 0 {
		log.Info().Int("removed", removed).Msg("purged old journals")
	}
	return nil
}

func (c *commandContext) close() error {
	if c.logCloser == nil {
		return nil
	}
	err := c.logCloser.Close()
	c.logCloser = nil
	return err
}

func (c *commandContext) journal() *journal.Journal {
	return journal.New(c.config.JournalDir)
}

func (c *commandContext) resolveOptions() resolve.Options {
	cfg := c.config
	opts := resolve.DefaultOptions()
	opts.MinConfidence = cfg.MinConfidence
	opts.ConfidentThreshold = cfg.ConfidentThreshold
	opts.AmbiguityBand = cfg.AmbiguityBand
	opts.Attempts = cfg.LookupAttempts
	opts.BaseDelay = cfg.LookupBaseDelay
	opts.MaxDelay = cfg.LookupMaxDelay
	opts.Timeout = cfg.LookupTimeout
	opts.Language = cfg.TMDBLanguage
	return opts
}

// newEngine wires the configured metadata sources, the optional
// disambiguator and a fresh lookup cache into an engine for one run.
func (c *commandContext) newEngine(observer resolve.LookupObserver) (*core.Engine, error) {
	cfg := c.config
	reg := provider.NewRegistry()
	if err := builtin.LoadBuiltinProviders(reg, cfg); err != nil {
		return nil, err
	}
	sources := reg.Enabled()
	if len(sources) == 0 {
		return nil, fmt.Errorf("no metadata source is enabled; set enable_tmdb, enable_tvdb or enable_omdb")
	}

	opts := c.resolveOptions()
	resolver := resolve.New(sources, provider.NewLookupCache(), opts)
	if observer != nil {
		resolver.SetObserver(observer)
	}

	engineCfg := core.EngineConfig{
		Extractor:   local.NewExtractor(),
		Resolver:    resolver,
		Thresholds:  opts,
		Concurrency: cfg.LookupConcurrency,
		Logger:      log.Logger,
		Now:         c.now,
	}
	if cfg.LLMEnabled {
		client := llm.NewClient(llm.Config{
			APIKey:  cfg.LLMAPIKey,
			BaseURL: cfg.LLMBaseURL,
			Model:   cfg.LLMModel,
			Timeout: cfg.LLMTimeout,
		}, llm.WithRetry(cfg.LookupAttempts, cfg.LookupBaseDelay, cfg.LookupMaxDelay))
		engineCfg.Disambiguator = disambiguate.New(client)
	}
	return core.NewEngine(engineCfg), nil
}

func (c *commandContext) newConverter() *transcode.Converter {
	cfg := c.config
	return transcode.New(transcode.Options{
		FFmpegPath:   cfg.FFmpegPath,
		Encoder:      cfg.VideoEncoder,
		Timeout:      cfg.ConversionTimeout,
		MinFreeSpace: cfg.MinFreeSpaceBytes,
		SafeFolder:   cfg.MoveOriginalTo,
	}, ffprobe.New())
}

// withQueue opens the job store for the duration of fn.
func (c *commandContext) withQueue(ctx context.Context, observer queue.Observer, fn func(*queue.Queue) error) error {
	cfg := c.config
	store, err := queue.Open(ctx, cfg.QueueDB)
	if err != nil {
		return err
	}
	defer store.Close()

	opts := queue.DefaultOptions()
	opts.Workers = cfg.QueueWorkers
	opts.MaxAttempts = cfg.QueueMaxAttempts
	opts.BackoffBase = cfg.QueueBackoffBase
	opts.BackoffMax = cfg.QueueBackoffMax
	opts.Retention = cfg.QueueRetention
	opts.PurgeSchedule = cfg.QueuePurgeSchedule
	opts.Logger = log.Logger
	opts.Observer = observer

	return fn(queue.New(store, c.newConverter(), opts))
}
