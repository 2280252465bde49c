package queue

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Digital-Shane/reel-tidy/internal/media"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes shape.
const schemaVersion = 1

// ErrSchemaMismatch means the database was written by another schema version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// timeLayout is fixed width so stored timestamps compare as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const jobColumns = "id, source_path, target_path, status, attempts, max_attempts, last_error, outcome, quality, external_id, identity_json, needs_review, review_reason, next_attempt_at, created_at, updated_at, started_at, finished_at"

// Store persists jobs in SQLite.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open creates or opens the queue database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create queue directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &Store{db: db, path: path, now: time.Now}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to start over)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (int64, error) {
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

func (s *Store) stamp() string {
	return formatTime(s.now())
}

// Enqueue inserts a queued job for source unless a live job already holds
// that path, in which case the existing job is returned and created is false.
func (s *Store) Enqueue(ctx context.Context, source string, identity *media.ResolvedIdentity, maxAttempts int) (job *Job, created bool, err error) {
	var identityJSON, externalID any
	if identity != nil {
		data, err := json.Marshal(identity)
		if err != nil {
			return nil, false, fmt.Errorf("marshal identity: %w", err)
		}
		identityJSON = string(data)
		externalID = nullableString(identity.Candidate.ExternalID)
	}

	err = retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE source_path = ? AND status IN (?, ?, ?) LIMIT 1`,
			source, StatusQueued, StatusRunning, StatusRetrying)
		existing, err := scanJob(row)
		if err == nil {
			job, created = existing, false
			return tx.Commit()
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		now := s.stamp()
		id := uuid.NewString()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (id, source_path, status, attempts, max_attempts, external_id, identity_json, created_at, updated_at)
             VALUES (?, ?, ?, 0, ?, ?, ?, ?, ?)`,
			id, source, StatusQueued, maxAttempts, externalID, identityJSON, now, now,
		); err != nil {
			return err
		}
		row = tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
		if job, err = scanJob(row); err != nil {
			return err
		}
		created = true
		return tx.Commit()
	})
	if err != nil {
		return nil, false, fmt.Errorf("enqueue %s: %w", source, err)
	}
	return job, created, nil
}

// Get fetches a job by id.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Find resolves an id or a source path to a job, preferring the live job for
// a path over finished ones.
func (s *Store) Find(ctx context.Context, idOrPath string) (*Job, error) {
	job, err := s.Get(ctx, idOrPath)
	if err == nil || !errors.Is(err, ErrJobNotFound) {
		return job, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE source_path = ?
         ORDER BY CASE WHEN status IN (?, ?, ?) THEN 0 ELSE 1 END, created_at DESC LIMIT 1`,
		idOrPath, StatusQueued, StatusRunning, StatusRetrying)
	job, err = scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, idOrPath)
	}
	if err != nil {
		return nil, fmt.Errorf("find job: %w", err)
	}
	return job, nil
}

// List returns jobs with any of statuses, or all jobs, oldest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + placeholders(len(statuses)) + `)`
		for _, st := range statuses {
			args = append(args, st)
		}
	}
	query += ` ORDER BY created_at, id`
	return s.query(ctx, query, args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ClaimNext moves the oldest runnable job to running and counts the attempt.
// It returns nil when nothing is due.
func (s *Store) ClaimNext(ctx context.Context) (*Job, error) {
	now := s.stamp()
	var job *Job
	err := retryOnBusy(ctx, func() error {
		// A cancel requested while a job was between attempts settles here.
		if _, err := s.db.ExecContext(ctx,
			`UPDATE jobs SET status = ?, outcome = ?, last_error = ?, finished_at = ?, updated_at = ?
             WHERE status IN (?, ?) AND cancel_requested = 1`,
			StatusFailed, OutcomeCancelled, cancelReason, now, now, StatusQueued, StatusRetrying,
		); err != nil {
			return err
		}
		row := s.db.QueryRowContext(ctx,
			`UPDATE jobs SET status = ?, attempts = attempts + 1, started_at = ?, updated_at = ?
             WHERE id = (
                 SELECT id FROM jobs
                 WHERE status IN (?, ?) AND cancel_requested = 0
                   AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
                 ORDER BY created_at, id LIMIT 1
             )
             RETURNING `+jobColumns,
			StatusRunning, now, now, StatusQueued, StatusRetrying, now)
		var err error
		job, err = scanJob(row)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// NextDue returns when the earliest waiting job becomes runnable, and false
// when no job is waiting.
func (s *Store) NextDue(ctx context.Context) (time.Time, bool, error) {
	var raw sql.NullString
	var waiting int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1), MIN(COALESCE(next_attempt_at, created_at)) FROM jobs WHERE status IN (?, ?)`,
		StatusQueued, StatusRetrying).Scan(&waiting, &raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("next due job: %w", err)
	}
	if waiting == 0 || !raw.Valid {
		return time.Time{}, false, nil
	}
	t, err := parseTime(raw.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// Succeed finishes a running job.
func (s *Store) Succeed(ctx context.Context, id, target string, outcome Outcome, quality int) error {
	now := s.stamp()
	n, err := s.exec(ctx,
		`UPDATE jobs SET status = ?, outcome = ?, target_path = ?, quality = ?, last_error = NULL,
             finished_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusSucceeded, outcome, nullableString(target), quality, now, now, id, StatusRunning)
	if err != nil {
		return fmt.Errorf("mark succeeded: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("mark succeeded: job %s is not running", id)
	}
	return nil
}

// Retry puts a running job back in line after a failed attempt.
func (s *Store) Retry(ctx context.Context, id, lastError string, next time.Time) error {
	n, err := s.exec(ctx,
		`UPDATE jobs SET status = ?, last_error = ?, next_attempt_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusRetrying, lastError, formatTime(next), s.stamp(), id, StatusRunning)
	if err != nil {
		return fmt.Errorf("mark retrying: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("mark retrying: job %s is not running", id)
	}
	return nil
}

// Fail finishes a running job with its last error preserved as given.
func (s *Store) Fail(ctx context.Context, id, lastError string, outcome Outcome, quality int) error {
	now := s.stamp()
	n, err := s.exec(ctx,
		`UPDATE jobs SET status = ?, outcome = ?, last_error = ?, quality = ?, finished_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusFailed, outcome, lastError, quality, now, now, id, StatusRunning)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("mark failed: job %s is not running", id)
	}
	return nil
}

// CancelWaiting fails a job that no worker holds. It reports false when the
// job is not queued or retrying, typically because a worker claimed it.
func (s *Store) CancelWaiting(ctx context.Context, id, reason string) (bool, error) {
	now := s.stamp()
	n, err := s.exec(ctx,
		`UPDATE jobs SET status = ?, outcome = ?, last_error = ?, finished_at = ?, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		StatusFailed, OutcomeCancelled, reason, now, now, id, StatusQueued, StatusRetrying)
	if err != nil {
		return false, fmt.Errorf("cancel job: %w", err)
	}
	return n > 0, nil
}

// RequestCancel flags a running job so its worker stops it. It reports false
// when the job is no longer running.
func (s *Store) RequestCancel(ctx context.Context, id string) (bool, error) {
	n, err := s.exec(ctx,
		`UPDATE jobs SET cancel_requested = 1, updated_at = ? WHERE id = ? AND status = ?`,
		s.stamp(), id, StatusRunning)
	if err != nil {
		return false, fmt.Errorf("request cancel: %w", err)
	}
	return n > 0, nil
}

// CancelRequested reports whether an operator asked to stop job id.
func (s *Store) CancelRequested(ctx context.Context, id string) (bool, error) {
	var flag int
	if err := s.db.QueryRowContext(ctx, `SELECT cancel_requested FROM jobs WHERE id = ?`, id).Scan(&flag); err != nil {
		return false, fmt.Errorf("read cancel flag: %w", err)
	}
	return flag != 0, nil
}

// ResetRunning moves jobs left running by a dead process to retrying. Their
// true completion state is unknown.
func (s *Store) ResetRunning(ctx context.Context) (int64, error) {
	now := s.stamp()
	n, err := s.exec(ctx,
		`UPDATE jobs SET status = ?, next_attempt_at = ?, updated_at = ?,
             last_error = COALESCE(last_error, 'interrupted before completion')
         WHERE status = ?`,
		StatusRetrying, now, now, StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("reset running jobs: %w", err)
	}
	return n, nil
}

// Purge deletes finished jobs that finished before cutoff.
func (s *Store) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.exec(ctx,
		`DELETE FROM jobs WHERE status IN (?, ?) AND finished_at IS NOT NULL AND finished_at < ?`,
		StatusSucceeded, StatusFailed, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge jobs: %w", err)
	}
	return n, nil
}

// Counts returns the number of jobs per status. Every status is present.
func (s *Store) Counts(ctx context.Context) (map[Status]int, error) {
	out := make(map[Status]int, len(Statuses()))
	for _, st := range Statuses() {
		out[st] = 0
	}
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[Status(st)] = n
	}
	return out, rows.Err()
}

// FlagForReview marks every job for source whose identity differs from
// externalID, and returns how many were flagged.
func (s *Store) FlagForReview(ctx context.Context, source, externalID, reason string) (int64, error) {
	n, err := s.exec(ctx,
		`UPDATE jobs SET needs_review = 1, review_reason = ?, updated_at = ?
         WHERE source_path = ? AND external_id IS NOT NULL AND external_id != ?`,
		reason, s.stamp(), source, externalID)
	if err != nil {
		return 0, fmt.Errorf("flag for review: %w", err)
	}
	return n, nil
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job                              Job
		status                           string
		target, lastError, outcome       sql.NullString
		externalID, identityJSON, reason sql.NullString
		nextAt, createdAt, updatedAt     sql.NullString
		startedAt, finishedAt            sql.NullString
		quality                          sql.NullInt64
		needsReview                      int
	)
	if err := scanner.Scan(
		&job.ID, &job.SourcePath, &target, &status, &job.Attempts, &job.MaxAttempts,
		&lastError, &outcome, &quality, &externalID, &identityJSON, &needsReview, &reason,
		&nextAt, &createdAt, &updatedAt, &startedAt, &finishedAt,
	); err != nil {
		return nil, err
	}
	job.TargetPath = target.String
	job.Status = Status(status)
	job.LastError = lastError.String
	job.Outcome = Outcome(outcome.String)
	job.Quality = int(quality.Int64)
	job.ExternalID = externalID.String
	job.NeedsReview = needsReview != 0
	job.ReviewReason = reason.String
	if identityJSON.Valid && identityJSON.String != "" {
		var id media.ResolvedIdentity
		if err := json.Unmarshal([]byte(identityJSON.String), &id); err == nil {
			job.Identity = &id
		}
	}
	job.NextAttemptAt, _ = parseTime(nextAt.String)
	job.CreatedAt, _ = parseTime(createdAt.String)
	job.UpdatedAt, _ = parseTime(updatedAt.String)
	job.StartedAt, _ = parseTime(startedAt.String)
	job.FinishedAt, _ = parseTime(finishedAt.String)
	return &job, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, value)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
