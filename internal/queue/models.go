package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/Digital-Shane/reel-tidy/internal/media"
)

var (
	// ErrConversionFailure wraps the last error of a job that ran out of
	// attempts.
	ErrConversionFailure = errors.New("conversion failure")
	// ErrCancelled marks a job an operator cancelled.
	ErrCancelled = errors.New("cancelled")
	// ErrJobNotFound is returned for unknown job ids or paths.
	ErrJobNotFound = errors.New("job not found")
	// ErrLocked means another process is already running the workers.
	ErrLocked = errors.New("queue is locked by another process")
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusRetrying  Status = "retrying"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Statuses lists every status in lifecycle order.
func Statuses() []Status {
	return []Status{StatusQueued, StatusRunning, StatusRetrying, StatusSucceeded, StatusFailed}
}

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses() {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// Live reports whether a job still occupies its source path.
func (s Status) Live() bool {
	return s == StatusQueued || s == StatusRunning || s == StatusRetrying
}

// Outcome is the final result of a finished job.
type Outcome string

const (
	OutcomeConverted Outcome = "converted"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Job is one file scheduled for conversion. Jobs are keyed by source path.
type Job struct {
	ID            string
	SourcePath    string
	TargetPath    string
	Identity      *media.ResolvedIdentity
	ExternalID    string
	Status        Status
	Attempts      int
	MaxAttempts   int
	LastError     string
	Outcome       Outcome
	Quality       int
	NeedsReview   bool
	ReviewReason  string
	NextAttemptAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Err returns the job's terminal error, or nil.
func (j *Job) Err() error {
	if j.Status != StatusFailed {
		return nil
	}
	if j.Outcome == OutcomeCancelled {
		return ErrCancelled
	}
	return fmt.Errorf("%w: %s", ErrConversionFailure, j.LastError)
}
