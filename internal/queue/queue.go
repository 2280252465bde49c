// Package queue schedules and runs conversion jobs. Jobs live in a SQLite
// database so a restarted process can resume where a previous one stopped.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Digital-Shane/reel-tidy/internal/media"
	"github.com/Digital-Shane/reel-tidy/internal/transcode"
	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/flock"
	csmap "github.com/mhmtszr/concurrent-swiss-map"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const cancelReason = "cancelled by operator"

// Converter performs one conversion attempt.
type Converter interface {
	Convert(ctx context.Context, source string) (*transcode.Result, error)
}

// Observer receives job outcomes and queue depth.
type Observer interface {
	ObserveJob(outcome Outcome, attempts int, elapsed time.Duration)
	ObserveRetry()
	ObserveDepth(counts map[Status]int)
}

// Options configure a Queue.
type Options struct {
	Workers     int
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// Retention is how long finished jobs are kept.
	Retention time.Duration
	// PurgeSchedule is a cron spec for the retention purge during Run.
	PurgeSchedule string
	// PollInterval bounds how long an idle worker waits before looking for
	// due retries, and how often a running job checks for a cancel request.
	PollInterval time.Duration
	Logger       zerolog.Logger
	Observer     Observer
}

// DefaultOptions returns the queue defaults.
func DefaultOptions() Options {
	return Options{
		Workers:       2,
		MaxAttempts:   3,
		BackoffBase:   30 * time.Second,
		BackoffMax:    10 * time.Minute,
		Retention:     7 * 24 * time.Hour,
		PurgeSchedule: "@every 1h",
		PollInterval:  time.Second,
		Logger:        zerolog.Nop(),
	}
}

// Queue accepts submissions and runs them on a fixed pool of workers.
type Queue struct {
	store   *Store
	conv    Converter
	opts    Options
	wake    chan struct{}
	running *csmap.CsMap[string, context.CancelCauseFunc]
}

// New returns a queue over store. Zero option fields take defaults.
func New(store *Store, conv Converter, opts Options) *Queue {
	def := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = def.BackoffBase
	}
	if opts.BackoffMax < opts.BackoffBase {
		opts.BackoffMax = opts.BackoffBase
	}
	if opts.Retention <= 0 {
		opts.Retention = def.Retention
	}
	if opts.PurgeSchedule == "" {
		opts.PurgeSchedule = def.PurgeSchedule
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	return &Queue{
		store:   store,
		conv:    conv,
		opts:    opts,
		wake:    make(chan struct{}, 1),
		running: csmap.Create[string, context.CancelCauseFunc](),
	}
}

// Store exposes the underlying job store.
func (q *Queue) Store() *Store {
	return q.store
}

// Submit records a job for source and returns immediately. A source that
// already has a live job gets that job back. When identity differs from the
// identity earlier jobs for the same path were submitted with, those jobs
// are flagged for review rather than replaced.
func (q *Queue) Submit(ctx context.Context, source string, identity *media.ResolvedIdentity) (*Job, error) {
	job, created, err := q.store.Enqueue(ctx, source, identity, q.opts.MaxAttempts)
	if err != nil {
		return nil, err
	}
	if identity != nil && identity.Candidate.ExternalID != "" {
		reason := fmt.Sprintf("re-resolved as %s (%s)", identity.Candidate.Title, identity.Candidate.ExternalID)
		n, err := q.store.FlagForReview(ctx, source, identity.Candidate.ExternalID, reason)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			q.opts.Logger.Warn().Str("file", source).Int64("jobs", n).Str("reason", reason).Msg("conversion jobs flagged for review")
			if job, err = q.store.Get(ctx, job.ID); err != nil {
				return nil, err
			}
		}
	}
	if created {
		q.opts.Logger.Info().Str("job", job.ID).Str("file", source).Msg("job queued")
	} else {
		q.opts.Logger.Debug().Str("job", job.ID).Str("file", source).Str("status", string(job.Status)).Msg("coalesced with live job")
	}
	q.notify()
	return job, nil
}

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Cancel stops the job named by id or source path. A waiting job fails at
// once. A running job is flagged and its worker kills the conversion. A job
// that changes state between the two checks is looked at again.
func (q *Queue) Cancel(ctx context.Context, idOrPath string) (*Job, error) {
	job, err := q.store.Find(ctx, idOrPath)
	if err != nil {
		return nil, err
	}
	for {
		if !job.Status.Live() {
			return job, fmt.Errorf("job %s is already %s", job.ID, job.Status)
		}
		cancelled, err := q.store.CancelWaiting(ctx, job.ID, cancelReason)
		if err != nil {
			return nil, err
		}
		if cancelled {
			q.opts.Logger.Info().Str("job", job.ID).Str("file", job.SourcePath).Bool("was_running", false).Msg("job cancelled")
			return q.store.Get(ctx, job.ID)
		}
		requested, err := q.store.RequestCancel(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		if requested {
			if stop, ok := q.running.Load(job.ID); ok {
				stop(ErrCancelled)
			}
			q.opts.Logger.Info().Str("job", job.ID).Str("file", job.SourcePath).Bool("was_running", true).Msg("job cancelled")
			return q.store.Get(ctx, job.ID)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if job, err = q.store.Get(ctx, job.ID); err != nil {
			return nil, err
		}
	}
}

// Get returns a job by id or source path.
func (q *Queue) Get(ctx context.Context, idOrPath string) (*Job, error) {
	return q.store.Find(ctx, idOrPath)
}

// List returns jobs with any of statuses, or every job.
func (q *Queue) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	return q.store.List(ctx, statuses...)
}

// Stats counts jobs by status and reports the counts to the observer.
func (q *Queue) Stats(ctx context.Context) (map[Status]int, error) {
	counts, err := q.store.Counts(ctx)
	if err != nil {
		return nil, err
	}
	if q.opts.Observer != nil {
		q.opts.Observer.ObserveDepth(counts)
	}
	return counts, nil
}

// Purge deletes finished jobs older than the retention window.
func (q *Queue) Purge(ctx context.Context) (int64, error) {
	n, err := q.store.Purge(ctx, q.store.now().Add(-q.opts.Retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.opts.Logger.Info().Int64("jobs", n).Dur("retention", q.opts.Retention).Msg("purged finished jobs")
	}
	return n, nil
}

// Run holds the queue lock and processes jobs until ctx is done. Jobs left
// running by an earlier process are requeued first.
func (q *Queue) Run(ctx context.Context) error {
	unlock, err := q.lock()
	if err != nil {
		return err
	}
	defer unlock()

	if err := q.recover(ctx); err != nil {
		return err
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(q.opts.PurgeSchedule, func() { q.purgeAndReport(ctx) }); err != nil {
		return fmt.Errorf("schedule purge %q: %w", q.opts.PurgeSchedule, err)
	}
	q.purgeAndReport(ctx)
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	q.opts.Logger.Info().Int("workers", q.opts.Workers).Str("db", q.store.Path()).Msg("queue started")
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < q.opts.Workers; i++ {
		worker := i
		g.Go(func() error {
			q.worker(gctx, worker)
			return nil
		})
	}
	err = g.Wait()
	q.opts.Logger.Info().Msg("queue stopped")
	return err
}

// Drain processes jobs one at a time until none is waiting, sleeping until
// pending retries fall due.
func (q *Queue) Drain(ctx context.Context) error {
	unlock, err := q.lock()
	if err != nil {
		return err
	}
	defer unlock()

	if err := q.recover(ctx); err != nil {
		return err
	}
	for {
		job, err := q.store.ClaimNext(ctx)
		if err != nil {
			return err
		}
		if job != nil {
			q.process(ctx, job)
			continue
		}
		due, waiting, err := q.store.NextDue(ctx)
		if err != nil {
			return err
		}
		if !waiting {
			return nil
		}
		wait := time.Until(due)
		if wait <= 0 {
			wait = q.opts.PollInterval
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (q *Queue) lock() (func(), error) {
	fl := flock.New(q.store.Path() + ".lock")
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock queue: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return func() { _ = fl.Unlock() }, nil
}

func (q *Queue) recover(ctx context.Context) error {
	n, err := q.store.ResetRunning(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		q.opts.Logger.Warn().Int64("jobs", n).Msg("requeued jobs interrupted by a previous run")
	}
	return nil
}

func (q *Queue) purgeAndReport(ctx context.Context) {
	if _, err := q.Purge(ctx); err != nil && ctx.Err() == nil {
		q.opts.Logger.Error().Err(err).Msg("queue purge failed")
	}
	if _, err := q.Stats(ctx); err != nil && ctx.Err() == nil {
		q.opts.Logger.Error().Err(err).Msg("queue stats failed")
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	logger := q.opts.Logger.With().Int("worker", id).Logger()
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := q.store.ClaimNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error().Err(err).Msg("claim failed")
		}
		if job != nil {
			q.process(ctx, job)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-time.After(q.opts.PollInterval):
		}
	}
}

// process runs one attempt of a claimed job and records the result. Store
// writes outlive ctx so a shutdown never strands a job in running.
func (q *Queue) process(ctx context.Context, job *Job) {
	logger := q.opts.Logger.With().Str("job", job.ID).Str("file", job.SourcePath).Int("attempt", job.Attempts).Logger()
	persist := context.WithoutCancel(ctx)

	jobCtx, stop := context.WithCancelCause(ctx)
	defer stop(nil)
	q.running.Store(job.ID, stop)
	defer q.running.Delete(job.ID)
	go q.watchCancel(jobCtx, job.ID, stop)

	logger.Info().Msg("conversion started")
	start := time.Now()
	res, err := q.conv.Convert(jobCtx, job.SourcePath)
	elapsed := time.Since(start)
	cause := context.Cause(jobCtx)

	switch {
	case err == nil:
		outcome := OutcomeConverted
		if res.Outcome == transcode.OutcomeSkipped {
			outcome = OutcomeSkipped
		}
		if serr := q.store.Succeed(persist, job.ID, res.Target, outcome, res.Quality); serr != nil {
			logger.Error().Err(serr).Msg("failed to record success")
			return
		}
		logger.Info().Str("outcome", string(outcome)).Str("target", res.Target).Dur("took", elapsed).Msg("conversion finished")
		q.observe(outcome, job.Attempts, elapsed)

	case errors.Is(cause, ErrCancelled):
		if serr := q.store.Fail(persist, job.ID, cancelReason, OutcomeCancelled, 0); serr != nil {
			logger.Error().Err(serr).Msg("failed to record cancellation")
			return
		}
		logger.Warn().Msg("conversion cancelled")
		q.observe(OutcomeCancelled, job.Attempts, elapsed)

	case ctx.Err() != nil:
		if serr := q.store.Retry(persist, job.ID, "interrupted by shutdown", q.store.now()); serr != nil {
			logger.Error().Err(serr).Msg("failed to requeue interrupted job")
			return
		}
		logger.Warn().Msg("conversion interrupted by shutdown, requeued")

	case job.Attempts >= job.MaxAttempts:
		if serr := q.store.Fail(persist, job.ID, err.Error(), OutcomeFailed, 0); serr != nil {
			logger.Error().Err(serr).Msg("failed to record failure")
			return
		}
		logger.Error().Err(err).Int("max_attempts", job.MaxAttempts).Msg("conversion failed")
		q.observe(OutcomeFailed, job.Attempts, elapsed)

	default:
		delay := q.retryDelay(job.Attempts)
		if serr := q.store.Retry(persist, job.ID, err.Error(), q.store.now().Add(delay)); serr != nil {
			logger.Error().Err(serr).Msg("failed to schedule retry")
			return
		}
		logger.Warn().Err(err).Dur("retry_in", delay).Msg("conversion attempt failed")
		if q.opts.Observer != nil {
			q.opts.Observer.ObserveRetry()
		}
	}
}

func (q *Queue) observe(outcome Outcome, attempts int, elapsed time.Duration) {
	if q.opts.Observer != nil {
		q.opts.Observer.ObserveJob(outcome, attempts, elapsed)
	}
}

// watchCancel polls the store for a cancel request made by another process.
func (q *Queue) watchCancel(ctx context.Context, id string, stop context.CancelCauseFunc) {
	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			requested, err := q.store.CancelRequested(ctx, id)
			if err != nil {
				continue
			}
			if requested {
				stop(ErrCancelled)
				return
			}
		}
	}
}

// retryDelay is the wait after the given failed attempt: the base delay
// doubled per earlier attempt, capped at BackoffMax.
func (q *Queue) retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.opts.BackoffBase
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = q.opts.BackoffMax
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}
