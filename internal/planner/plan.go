package planner

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Digital-Shane/reel-tidy/internal/media"
)

// ErrPlanValidationConflict means two or more entries claim one target path
// and no tie-break could separate them.
var ErrPlanValidationConflict = errors.New("plan validation conflict")

// Status is the lifecycle state of a plan.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusValidated  Status = "validated"
	StatusApplied    Status = "applied"
	StatusRolledBack Status = "rolled-back"
)

// Entry moves one source file to its canonical target.
type Entry struct {
	Source   string
	Target   string
	Identity media.ResolvedIdentity
	// Suffix is the tie-break appended to separate colliding targets.
	Suffix string
	Size   int64
}

// NoOp reports whether the entry leaves the file where it is.
func (e Entry) NoOp() bool {
	return e.Source == e.Target
}

// Plan is an ordered batch of renames.
type Plan struct {
	ID        string
	Root      string
	CreatedAt time.Time
	Status    Status
	Entries   []Entry
	Conflicts []*ConflictError
}

// ConflictError names a target path and every source that claims it.
type ConflictError struct {
	Target  string
	Sources []string
	Reason  string
}

func (e *ConflictError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "claimed by"
	}
	return fmt.Sprintf("target %s %s %s", e.Target, reason, strings.Join(e.Sources, ", "))
}

// Is matches ErrPlanValidationConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrPlanValidationConflict
}

// Err joins the plan's conflicts, or returns nil.
func (p *Plan) Err() error {
	if len(p.Conflicts) == 0 {
		return nil
	}
	errs := make([]error, len(p.Conflicts))
	for i, c := range p.Conflicts {
		errs[i] = c
	}
	return errors.Join(errs...)
}

// Validate runs the pure validation and moves a draft plan to validated when
// it passes. A failing plan stays draft with its conflicts recorded.
func (p *Plan) Validate(maxNameLength int) error {
	if p.Status != StatusDraft && p.Status != StatusValidated {
		return fmt.Errorf("plan %s is %s and cannot be validated", p.ID, p.Status)
	}
	p.Conflicts = Validate(p.Entries, maxNameLength)
	if len(p.Conflicts) > 0 {
		p.Status = StatusDraft
		return p.Err()
	}
	p.Status = StatusValidated
	return nil
}

// Changes returns the entries that actually move a file.
func (p *Plan) Changes() []Entry {
	out := make([]Entry, 0, len(p.Entries))
	for _, e := range p.Entries {
		if !e.NoOp() {
			out = append(out, e)
		}
	}
	return out
}

// pathKey folds case so that plans stay valid on case-insensitive volumes.
func pathKey(path string) string {
	return strings.ToLower(filepath.Clean(path))
}

// Validate checks entries without touching the filesystem. It reports:
// targets shared by two or more entries, targets that are another entry's
// source, empty paths, and path components longer than maxNameLength runes.
// The result is ordered by target path.
func Validate(entries []Entry, maxNameLength int) []*ConflictError {
	var conflicts []*ConflictError

	byTarget := make(map[string][]int)
	sources := make(map[string]int, len(entries))
	for i, e := range entries {
		sources[pathKey(e.Source)] = i
	}

	for i, e := range entries {
		if e.Source == "" || e.Target == "" {
			conflicts = append(conflicts, &ConflictError{Target: e.Target, Sources: []string{e.Source}, Reason: "has an empty path for"})
			continue
		}
		key := pathKey(e.Target)
		byTarget[key] = append(byTarget[key], i)

		if j, ok := sources[key]; ok && j != i {
			conflicts = append(conflicts, &ConflictError{
				Target:  e.Target,
				Sources: []string{e.Source, entries[j].Source},
				Reason:  "is the source of another entry; targeted by",
			})
		}
		if maxNameLength > 0 && tooLong(e.Target, maxNameLength) {
			conflicts = append(conflicts, &ConflictError{
				Target:  e.Target,
				Sources: []string{e.Source},
				Reason:  fmt.Sprintf("has a component longer than %d characters for", maxNameLength),
			})
		}
	}

	for _, idx := range byTarget {
		if len(idx) < 2 {
			continue
		}
		srcs := make([]string, len(idx))
		for k, i := range idx {
			srcs[k] = entries[i].Source
		}
		sort.Strings(srcs)
		conflicts = append(conflicts, &ConflictError{Target: entries[idx[0]].Target, Sources: srcs})
	}

	sort.SliceStable(conflicts, func(i, j int) bool {
		return conflicts[i].Target < conflicts[j].Target
	})
	return conflicts
}

func tooLong(path string, max int) bool {
	parts := strings.Split(filepath.ToSlash(path), "/")
	for i, part := range parts {
		if i == len(parts)-1 {
			part = strings.TrimSuffix(part, filepath.Ext(part))
		}
		if utf8.RuneCountInString(part) > max {
			return true
		}
	}
	return false
}
