// Package executor applies validated rename plans and rolls them back.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/Digital-Shane/reel-tidy/internal/journal"
	"github.com/Digital-Shane/reel-tidy/internal/planner"
	"github.com/rs/zerolog/log"
)

// ErrPartialApplyFailure means a plan failed mid-apply. The entries applied
// before the failure have been rolled back.
var ErrPartialApplyFailure = errors.New("partial apply failure")

// ErrNotValidated is returned for plans that are not in the validated state.
var ErrNotValidated = errors.New("plan is not validated")

// PartialApplyError names the failing entry of a plan and what the automatic
// rollback did.
type PartialApplyError struct {
	PlanID string
	Failed planner.Entry
	// Index is the position of Failed in the plan.
	Index          int
	Cause          error
	RolledBack     []planner.Entry
	RollbackErrors []error
}

func (e *PartialApplyError) Error() string {
	state := "rollback complete"
	if len(e.RollbackErrors) > 0 {
		state = fmt.Sprintf("rollback incomplete: %v", errors.Join(e.RollbackErrors...))
	}
	return fmt.Sprintf("plan %s: entry %d (%s -> %s) failed: %v; %d renames reverted, %s",
		e.PlanID, e.Index, e.Failed.Source, e.Failed.Target, e.Cause, len(e.RolledBack), state)
}

func (e *PartialApplyError) Is(target error) bool {
	return target == ErrPartialApplyFailure
}

func (e *PartialApplyError) Unwrap() error {
	return e.Cause
}

// Result describes a fully applied plan.
type Result struct {
	PlanID      string
	Applied     []planner.Entry
	Unchanged   []planner.Entry
	JournalPath string
}

// Executor mutates the filesystem for a plan, one entry at a time.
type Executor struct {
	journal *journal.Journal
	fs      FileSystem
	locks   *DirLocks
	args    []string
}

// Option configures an Executor.
type Option func(*Executor)

// WithFileSystem replaces the real filesystem.
func WithFileSystem(fsys FileSystem) Option {
	return func(x *Executor) { x.fs = fsys }
}

// WithLocks shares a lock table between executors.
func WithLocks(l *DirLocks) Option {
	return func(x *Executor) { x.locks = l }
}

// WithArgs records the invoking command line in each journal.
func WithArgs(args []string) Option {
	return func(x *Executor) { x.args = args }
}

// New returns an executor that journals into j.
func New(j *journal.Journal, opts ...Option) *Executor {
	x := &Executor{journal: j, fs: OS()}
	for _, opt := range opts {
		opt(x)
	}
	if x.locks == nil {
		x.locks = NewDirLocks()
	}
	return x
}

// applied is one reversible step taken during Apply.
type applied struct {
	op    journal.Operation
	entry *planner.Entry
}

// Apply renames every entry of a validated plan in order. On the first
// failure it stops, reverts the renames it made in reverse order and returns
// a *PartialApplyError.
func (x *Executor) Apply(ctx context.Context, plan *planner.Plan) (*Result, error) {
	if plan.Status != planner.StatusValidated {
		return nil, fmt.Errorf("%w: plan %s is %s", ErrNotValidated, plan.ID, plan.Status)
	}
	if conflicts := planner.Validate(plan.Entries, 0); len(conflicts) > 0 {
		plan.Status = planner.StatusDraft
		plan.Conflicts = conflicts
		return nil, plan.Err()
	}

	dirs := make([]string, 0, len(plan.Entries)*2)
	for _, e := range plan.Changes() {
		dirs = append(dirs, lockDir(plan.Root, e.Source), lockDir(plan.Root, e.Target))
	}
	release, err := x.locks.Acquire(ctx, dirs)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := x.journal.Begin(plan, x.args)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	res := &Result{PlanID: plan.ID, JournalPath: sess.Path()}
	var done []applied

	for i := range plan.Entries {
		e := &plan.Entries[i]
		if e.NoOp() {
			res.Unchanged = append(res.Unchanged, *e)
			continue
		}
		steps, err := x.applyEntry(ctx, sess, e)
		done = append(done, steps...)
		if err != nil {
			perr := x.rollbackApplied(sess, plan, done)
			perr.Failed = *e
			perr.Index = i
			perr.Cause = err
			log.Error().Err(err).Str("plan", plan.ID).Int("entry", i).Str("source", e.Source).
				Int("reverted", len(perr.RolledBack)).Int("rollback_errors", len(perr.RollbackErrors)).
				Msg("plan apply failed")
			return nil, perr
		}
		res.Applied = append(res.Applied, *e)
		log.Debug().Str("source", e.Source).Str("target", e.Target).Msg("renamed")
	}

	plan.Status = planner.StatusApplied
	if err := sess.SetStatus(planner.StatusApplied); err != nil {
		log.Warn().Err(err).Str("plan", plan.ID).Msg("failed to journal applied status")
	}
	log.Info().Str("plan", plan.ID).Int("renamed", len(res.Applied)).Int("unchanged", len(res.Unchanged)).Msg("plan applied")
	return res, nil
}

// applyEntry performs one rename. It returns every step that changed the
// filesystem, even when it fails part way, so the caller can revert them.
// The rename is journaled as an intent before it happens and completed after,
// and a failure is journaled before returning.
func (x *Executor) applyEntry(ctx context.Context, sess *journal.Session, e *planner.Entry) (steps []applied, err error) {
	var intentID string
	recorded := false
	defer func() {
		if err == nil || recorded {
			return
		}
		var jerr error
		if intentID != "" {
			_, jerr = sess.Complete(intentID, *e, err)
		} else {
			_, jerr = sess.Rename(*e, err)
		}
		if jerr != nil {
			log.Warn().Err(jerr).Str("source", e.Source).Msg("failed to journal rename failure")
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := x.fs.Lstat(e.Source); err != nil {
		return nil, fmt.Errorf("source %s: %w", e.Source, err)
	}
	if _, err := x.fs.Lstat(e.Target); err == nil {
		return nil, fmt.Errorf("target %s: %w", e.Target, fs.ErrExist)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("target %s: %w", e.Target, err)
	}

	steps, err = x.makeParents(sess, filepath.Dir(e.Target))
	if err != nil {
		return steps, err
	}

	if intentID, err = sess.Intend(*e); err != nil {
		recorded = true
		return steps, err
	}
	if err := x.fs.Rename(e.Source, e.Target); err != nil {
		return steps, fmt.Errorf("rename %s: %w", e.Source, err)
	}
	step := applied{
		op:    journal.Operation{Type: journal.OpRename, SourcePath: e.Source, DestPath: e.Target, Success: true},
		entry: e,
	}
	id, err := sess.Complete(intentID, *e, nil)
	recorded = true
	step.op.ID = id
	if err != nil {
		// A revert of the intent settles it.
		step.op.ID = intentID
	}
	steps = append(steps, step)
	return steps, err
}

// makeParents creates the missing directories above a target from the top
// down, journaling each so a rollback can remove them again.
func (x *Executor) makeParents(sess *journal.Session, dir string) ([]applied, error) {
	var missing []string
	for d := dir; ; d = filepath.Dir(d) {
		if _, err := x.fs.Lstat(d); err == nil {
			break
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("stat %s: %w", d, err)
		}
		missing = append(missing, d)
		if parent := filepath.Dir(d); parent == d {
			break
		}
	}

	var steps []applied
	for i := len(missing) - 1; i >= 0; i-- {
		d := missing[i]
		if err := x.fs.Mkdir(d, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
			return steps, fmt.Errorf("mkdir %s: %w", d, err)
		}
		step := applied{op: journal.Operation{Type: journal.OpCreateDir, DestPath: d, Success: true}}
		id, err := sess.CreateDir(d)
		step.op.ID = id
		steps = append(steps, step)
		if err != nil {
			return steps, err
		}
	}
	return steps, nil
}

// rollbackApplied reverts steps in reverse order and records the plan's
// final status.
func (x *Executor) rollbackApplied(sess *journal.Session, plan *planner.Plan, steps []applied) *PartialApplyError {
	perr := &PartialApplyError{PlanID: plan.ID}
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		err := revert(x.fs, step.op)
		if step.op.ID != "" {
			if jerr := sess.Revert(step.op, err); jerr != nil {
				log.Warn().Err(jerr).Str("plan", plan.ID).Msg("failed to journal revert")
			}
		}
		if err != nil {
			perr.RollbackErrors = append(perr.RollbackErrors, err)
			continue
		}
		if step.entry != nil {
			perr.RolledBack = append(perr.RolledBack, *step.entry)
		}
	}

	status := planner.StatusRolledBack
	if len(perr.RollbackErrors) > 0 {
		status = journal.StatusIncomplete
	} else {
		plan.Status = planner.StatusRolledBack
	}
	if err := sess.SetStatus(status); err != nil {
		log.Warn().Err(err).Str("plan", plan.ID).Msg("failed to journal rollback status")
	}
	return perr
}

// RollbackResult reports an explicit rollback.
type RollbackResult struct {
	PlanID   string
	Reverted []journal.Operation
	Errors   []error
}

// Rollback reverts every outstanding step of a journaled plan, newest first.
// Steps that cannot be reverted are reported and skipped; they stay
// outstanding in the journal so a later rollback can retry them.
func (x *Executor) Rollback(ctx context.Context, planID string) (*RollbackResult, error) {
	h, err := x.journal.Read(planID)
	if err != nil {
		return nil, err
	}
	pending := h.Outstanding()
	if len(pending) == 0 {
		return nil, fmt.Errorf("plan %s has nothing to roll back", planID)
	}

	dirs := make([]string, 0, len(pending)*2)
	for _, op := range pending {
		if op.SourcePath != "" {
			dirs = append(dirs, lockDir(h.Root, op.SourcePath))
		}
		dirs = append(dirs, lockDir(h.Root, op.DestPath))
	}
	release, err := x.locks.Acquire(ctx, dirs)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, _, err := x.journal.Resume(planID)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	res := &RollbackResult{PlanID: planID}
	for i := len(pending) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, err)
			break
		}
		op := pending[i]
		err := revert(x.fs, op)
		if jerr := sess.Revert(op, err); jerr != nil {
			log.Warn().Err(jerr).Str("plan", planID).Msg("failed to journal revert")
		}
		if err != nil {
			res.Errors = append(res.Errors, err)
			continue
		}
		res.Reverted = append(res.Reverted, op)
	}

	status := planner.StatusRolledBack
	if len(res.Errors) > 0 {
		status = journal.StatusIncomplete
	}
	if err := sess.SetStatus(status); err != nil {
		return res, err
	}
	log.Info().Str("plan", planID).Int("reverted", len(res.Reverted)).Int("failed", len(res.Errors)).Msg("plan rolled back")
	if len(res.Errors) > 0 {
		return res, fmt.Errorf("plan %s rolled back with errors: %w", planID, errors.Join(res.Errors...))
	}
	return res, nil
}

// RollbackLatest rolls back the newest plan with outstanding renames.
func (x *Executor) RollbackLatest(ctx context.Context) (*RollbackResult, error) {
	h, err := x.journal.Latest()
	if err != nil {
		return nil, err
	}
	return x.Rollback(ctx, h.PlanID)
}

// Describe renders a rollback result for the terminal.
func (r *RollbackResult) Describe() string {
	var b strings.Builder
	for _, op := range r.Reverted {
		if op.Type == journal.OpRename || op.Type == journal.OpIntent {
			fmt.Fprintf(&b, "%s -> %s\n", op.DestPath, op.SourcePath)
		}
	}
	for _, err := range r.Errors {
		fmt.Fprintf(&b, "! %v\n", err)
	}
	return b.String()
}
