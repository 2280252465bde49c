// Package transcode converts media files to MP4 (H.264/AAC) with ffmpeg.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/Digital-Shane/reel-tidy/internal/provider/ffprobe"
	"github.com/rs/zerolog/log"
)

// ErrInsufficientSpace means the target filesystem cannot hold the output.
var ErrInsufficientSpace = errors.New("insufficient space")

// Outcome says what Convert did.
type Outcome string

const (
	OutcomeConverted Outcome = "converted"
	OutcomeSkipped   Outcome = "skipped"
)

// Runner executes the conversion tool.
type Runner interface {
	Run(ctx context.Context, binary string, args []string) ([]byte, error)
}

// Prober reads technical metadata.
type Prober interface {
	Probe(ctx context.Context, path string) (ffprobe.MediaInfo, error)
}

type commandRunner struct{}

func (commandRunner) Run(ctx context.Context, binary string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	cmd.WaitDelay = 5 * time.Second
	return cmd.CombinedOutput()
}

// Options configure a Converter.
type Options struct {
	FFmpegPath string
	// Encoder is an ffmpeg video encoder name or "auto".
	Encoder      string
	Timeout      time.Duration
	MinFreeSpace int64
	// SafeFolder receives originals after a successful conversion. It is a
	// directory name created next to each source. Empty leaves originals.
	SafeFolder string
}

// Converter runs one conversion at a time per call. It holds no per-job
// state and is safe for concurrent use.
type Converter struct {
	opts      Options
	prober    Prober
	runner    Runner
	freeSpace func(path string) (int64, error)
	goos      string
}

// Option configures a Converter.
type Option func(*Converter)

// WithRunner replaces the subprocess runner.
func WithRunner(r Runner) Option {
	return func(c *Converter) {
		if r != nil {
			c.runner = r
		}
	}
}

// WithFreeSpace replaces the free-space probe.
func WithFreeSpace(fn func(path string) (int64, error)) Option {
	return func(c *Converter) { c.freeSpace = fn }
}

// WithGOOS overrides the platform used for encoder selection.
func WithGOOS(goos string) Option {
	return func(c *Converter) { c.goos = goos }
}

// New returns a converter that probes with prober.
func New(opts Options, prober Prober, options ...Option) *Converter {
	if strings.TrimSpace(opts.FFmpegPath) == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	c := &Converter{
		opts:      opts,
		prober:    prober,
		runner:    commandRunner{},
		freeSpace: FreeSpace,
		goos:      runtime.GOOS,
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// Result describes one finished conversion.
type Result struct {
	Outcome Outcome
	Source  string
	Target  string
	// Quality is the source quality index, 0-100.
	Quality int
	// Original is where the source was moved, if it was.
	Original string
}

// Error is a failed conversion with the tail of the tool's output.
type Error struct {
	Source string
	Output string
	Err    error
}

func (e *Error) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("convert %s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("convert %s: %v: %s", e.Source, e.Err, e.Output)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Encoder resolves the configured encoder name for goos.
func Encoder(configured, goos string) string {
	switch strings.TrimSpace(configured) {
	case "", "auto":
		if goos == "darwin" {
			return "h264_videotoolbox"
		}
		return "libx264"
	default:
		return configured
	}
}

// Args builds the ffmpeg argument list.
func Args(source, target, encoder string) []string {
	return []string{
		"-nostdin", "-y",
		"-i", source,
		"-threads", "0",
		"-c:v", encoder,
		"-c:a", "aac",
		"-q:v", "70",
		"-movflags", "+faststart",
		target,
	}
}

// Convert probes source and converts it next to itself. A source that is
// already an .mp4 file with H.264 and AAC is reported as skipped. Other
// members of the mov family (.mov, .m4v, .3gp) probe the same and are
// converted.
func (c *Converter) Convert(ctx context.Context, source string) (*Result, error) {
	info, err := c.prober.Probe(ctx, source)
	if err != nil {
		return nil, &Error{Source: source, Err: err}
	}
	res := &Result{Source: source, Quality: info.QualityIndex()}

	if strings.EqualFold(filepath.Ext(source), ".mp4") && info.IsConversionTarget() {
		res.Outcome = OutcomeSkipped
		res.Target = source
		log.Debug().Str("file", source).Msg("already mp4/h264/aac, skipping conversion")
		return res, nil
	}

	size := info.Size
	if size <= 0 {
		st, err := os.Stat(source)
		if err != nil {
			return nil, &Error{Source: source, Err: err}
		}
		size = st.Size()
	}
	if c.freeSpace != nil {
		avail, err := c.freeSpace(filepath.Dir(source))
		if err != nil {
			return nil, &Error{Source: source, Err: err}
		}
		if need := size + c.opts.MinFreeSpace; avail < need {
			return nil, &Error{Source: source, Err: fmt.Errorf("%w: need %d bytes, have %d", ErrInsufficientSpace, need, avail)}
		}
	}

	target := UniqueTarget(source, exists)
	res.Target = target

	runCtx := ctx
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	encoder := Encoder(c.opts.Encoder, c.goos)
	start := time.Now()
	out, err := c.runner.Run(runCtx, c.opts.FFmpegPath, Args(source, target, encoder))
	if err != nil {
		removePartial(target)
		if ctxErr := runCtx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return nil, &Error{Source: source, Output: tail(out, 20), Err: err}
	}
	st, err := os.Stat(target)
	if err != nil || st.Size() == 0 {
		removePartial(target)
		return nil, &Error{Source: source, Output: tail(out, 20), Err: errors.New("ffmpeg produced no output")}
	}
	res.Outcome = OutcomeConverted
	log.Info().Str("file", source).Str("target", target).Str("encoder", encoder).Dur("took", time.Since(start)).Msg("converted")

	if c.opts.SafeFolder != "" {
		moved, err := moveToSafeFolder(source, c.opts.SafeFolder)
		if err != nil {
			// The conversion itself succeeded; keep the original in place.
			log.Warn().Err(err).Str("file", source).Msg("failed to move original to safe folder")
		} else {
			res.Original = moved
		}
	}
	return res, nil
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func removePartial(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Str("file", path).Msg("failed to remove partial output")
	}
}

// UniqueTarget returns source with an .mp4 extension, adding " (n)" until
// the name is free. The source itself never counts as free.
func UniqueTarget(source string, taken func(string) bool) string {
	base := strings.TrimSuffix(source, filepath.Ext(source))
	target := base + ".mp4"
	for n := 1; target == source || taken(target); n++ {
		target = fmt.Sprintf("%s (%d).mp4", base, n)
	}
	return target
}

func moveToSafeFolder(source, folder string) (string, error) {
	dir := filepath.Join(filepath.Dir(source), folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create safe folder: %w", err)
	}
	name := filepath.Base(source)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	dest := filepath.Join(dir, name)
	for n := 1; exists(dest); n++ {
		dest = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
	}
	if err := os.Rename(source, dest); err != nil {
		return "", fmt.Errorf("move original: %w", err)
	}
	return dest, nil
}

func tail(out []byte, lines int) string {
	text := strings.TrimSpace(string(out))
	if text == "" {
		return ""
	}
	parts := strings.Split(text, "\n")
	if len(parts) > lines {
		parts = parts[len(parts)-lines:]
	}
	return strings.Join(parts, "\n")
}
