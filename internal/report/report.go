// Package report collects what a run did into one queryable structure.
package report

import (
	"encoding/json"
	"errors"
	"io"
	"sort"
	"time"

	"github.com/Digital-Shane/reel-tidy/internal/core"
	"github.com/Digital-Shane/reel-tidy/internal/executor"
	"github.com/Digital-Shane/reel-tidy/internal/journal"
	"github.com/Digital-Shane/reel-tidy/internal/media"
	"github.com/Digital-Shane/reel-tidy/internal/planner"
	"github.com/Digital-Shane/reel-tidy/internal/queue"
)

// RenameState is what happened to one plan entry.
type RenameState string

const (
	RenamePlanned    RenameState = "planned"
	RenameApplied    RenameState = "applied"
	RenameUnchanged  RenameState = "unchanged"
	RenameFailed     RenameState = "failed"
	RenameRolledBack RenameState = "rolled-back"
	RenameNotApplied RenameState = "not-applied"
)

// Identity is a resolved entry.
type Identity struct {
	Path       string           `json:"path"`
	Title      string           `json:"title"`
	Year       int              `json:"year,omitempty"`
	Kind       media.Kind       `json:"kind"`
	Season     int              `json:"season,omitempty"`
	Episode    int              `json:"episode,omitempty"`
	ExternalID string           `json:"external_id"`
	Confidence float64          `json:"confidence"`
	Provenance media.Provenance `json:"provenance"`
}

// Unresolved is an entry no identity was accepted for, with enough context
// to fix it by hand.
type Unresolved struct {
	Path       string   `json:"path"`
	Title      string   `json:"title,omitempty"`
	Year       int      `json:"year,omitempty"`
	Reason     string   `json:"reason"`
	Error      string   `json:"error,omitempty"`
	Candidates []string `json:"candidates,omitempty"`
}

// Rename is one plan entry and its fate.
type Rename struct {
	Source     string      `json:"source"`
	Target     string      `json:"target"`
	Suffix     string      `json:"suffix,omitempty"`
	State      RenameState `json:"state"`
	ExternalID string      `json:"external_id,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// Conflict is a target path more than one source claims.
type Conflict struct {
	Target  string   `json:"target"`
	Sources []string `json:"sources"`
	Reason  string   `json:"reason"`
}

// Job is the state of a conversion job.
type Job struct {
	ID          string        `json:"id"`
	Source      string        `json:"source"`
	Target      string        `json:"target,omitempty"`
	Status      queue.Status  `json:"status"`
	Outcome     queue.Outcome `json:"outcome,omitempty"`
	Attempts    int           `json:"attempts"`
	Quality     int           `json:"quality,omitempty"`
	LastError   string        `json:"last_error,omitempty"`
	NeedsReview bool          `json:"needs_review,omitempty"`
	Review      string        `json:"review_reason,omitempty"`
}

// Report is the operator-facing summary of one run.
type Report struct {
	RunID      string          `json:"run_id"`
	Root       string          `json:"root"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	PlanID     string          `json:"plan_id,omitempty"`
	PlanStatus planner.Status  `json:"plan_status,omitempty"`
	Identities []Identity      `json:"identities"`
	Unresolved []Unresolved    `json:"unresolved"`
	Skipped    []media.Skipped `json:"skipped"`
	Renames    []Rename        `json:"renames"`
	Conflicts  []Conflict      `json:"conflicts"`
	Jobs       []Job           `json:"jobs"`
	Errors     []string        `json:"errors,omitempty"`
}

// New starts an empty report.
func New(runID, root string, started time.Time) *Report {
	return &Report{RunID: runID, Root: root, StartedAt: started}
}

// AddScan records what the scanner skipped.
func (r *Report) AddScan(res media.ScanResult) {
	r.Skipped = append(r.Skipped, res.Skipped...)
}

// AddResults records identification results.
func (r *Report) AddResults(results []core.Result) {
	for _, res := range results {
		if res.Resolved() {
			id := res.Identity
			r.Identities = append(r.Identities, Identity{
				Path:       res.Entry.Path,
				Title:      id.Candidate.Title,
				Year:       id.Candidate.Year,
				Kind:       id.Kind(),
				Season:     id.Season,
				Episode:    id.Episode,
				ExternalID: id.Candidate.ExternalID,
				Confidence: id.Candidate.Confidence,
				Provenance: id.Provenance,
			})
			continue
		}
		u := Unresolved{
			Path:   res.Entry.Path,
			Title:  res.Hints.Title,
			Year:   res.Hints.Year,
			Reason: res.Reason,
		}
		if res.Err != nil {
			u.Error = res.Err.Error()
		}
		for _, c := range res.AllCandidates() {
			u.Candidates = append(u.Candidates, c.Label())
		}
		r.Unresolved = append(r.Unresolved, u)
	}
}

// AddPlan records a plan's entries and conflicts in their current state.
func (r *Report) AddPlan(plan *planner.Plan) {
	r.PlanID = plan.ID
	r.PlanStatus = plan.Status
	r.Renames = r.Renames[:0]
	for _, e := range plan.Entries {
		state := RenamePlanned
		switch {
		case e.NoOp():
			state = RenameUnchanged
		case plan.Status == planner.StatusApplied:
			state = RenameApplied
		case plan.Status == planner.StatusRolledBack:
			state = RenameRolledBack
		}
		r.Renames = append(r.Renames, Rename{
			Source:     e.Source,
			Target:     e.Target,
			Suffix:     e.Suffix,
			State:      state,
			ExternalID: e.Identity.Candidate.ExternalID,
		})
	}
	r.Conflicts = r.Conflicts[:0]
	for _, c := range plan.Conflicts {
		r.Conflicts = append(r.Conflicts, Conflict{Target: c.Target, Sources: c.Sources, Reason: c.Error()})
	}
}

// AddApplyError records a failed apply. A partial failure marks the failing
// entry and what was rolled back; anything else is kept as a run error.
func (r *Report) AddApplyError(err error) {
	var pe *executor.PartialApplyError
	if !errors.As(err, &pe) {
		r.AddError(err)
		return
	}
	rolledBack := make(map[string]bool, len(pe.RolledBack))
	for _, e := range pe.RolledBack {
		rolledBack[e.Source] = true
	}
	for i := range r.Renames {
		rn := &r.Renames[i]
		switch {
		case rn.State == RenameUnchanged:
		case rn.Source == pe.Failed.Source:
			rn.State = RenameFailed
			rn.Error = pe.Cause.Error()
		case rolledBack[rn.Source]:
			rn.State = RenameRolledBack
		default:
			rn.State = RenameNotApplied
		}
	}
	r.PlanStatus = planner.StatusRolledBack
	if len(pe.RollbackErrors) > 0 {
		r.PlanStatus = journal.StatusIncomplete
	}
	r.AddError(err)
}

// AddJobs records conversion jobs.
func (r *Report) AddJobs(jobs []*queue.Job) {
	for _, j := range jobs {
		r.Jobs = append(r.Jobs, Job{
			ID:          j.ID,
			Source:      j.SourcePath,
			Target:      j.TargetPath,
			Status:      j.Status,
			Outcome:     j.Outcome,
			Attempts:    j.Attempts,
			Quality:     j.Quality,
			LastError:   j.LastError,
			NeedsReview: j.NeedsReview,
			Review:      j.ReviewReason,
		})
	}
	sort.SliceStable(r.Jobs, func(i, k int) bool { return r.Jobs[i].Source < r.Jobs[k].Source })
}

// AddError records a run-level failure.
func (r *Report) AddError(err error) {
	if err != nil {
		r.Errors = append(r.Errors, err.Error())
	}
}

// Finish stamps the end time.
func (r *Report) Finish(t time.Time) {
	r.FinishedAt = t
}

// Counts summarises the report.
type Counts struct {
	Resolved   int `json:"resolved"`
	Unresolved int `json:"unresolved"`
	Skipped    int `json:"skipped"`
	Renamed    int `json:"renamed"`
	Unchanged  int `json:"unchanged"`
	Conflicts  int `json:"conflicts"`
	JobsFailed int `json:"jobs_failed"`
	JobsDone   int `json:"jobs_done"`
}

// Counts tallies every section.
func (r *Report) Counts() Counts {
	c := Counts{
		Resolved:   len(r.Identities),
		Unresolved: len(r.Unresolved),
		Skipped:    len(r.Skipped),
		Conflicts:  len(r.Conflicts),
	}
	for _, rn := range r.Renames {
		switch rn.State {
		case RenameApplied:
			c.Renamed++
		case RenameUnchanged:
			c.Unchanged++
		}
	}
	for _, j := range r.Jobs {
		switch j.Status {
		case queue.StatusFailed:
			c.JobsFailed++
		case queue.StatusSucceeded:
			c.JobsDone++
		}
	}
	return c
}

// RenamesIn returns the renames in state.
func (r *Report) RenamesIn(state RenameState) []Rename {
	var out []Rename
	for _, rn := range r.Renames {
		if rn.State == state {
			out = append(out, rn)
		}
	}
	return out
}

// JobsWith returns the jobs in status.
func (r *Report) JobsWith(status queue.Status) []Job {
	var out []Job
	for _, j := range r.Jobs {
		if j.Status == status {
			out = append(out, j)
		}
	}
	return out
}

// Lookup finds everything the report knows about path, as source or target.
func (r *Report) Lookup(path string) (id *Identity, u *Unresolved, rn *Rename) {
	for i := range r.Identities {
		if r.Identities[i].Path == path {
			id = &r.Identities[i]
		}
	}
	for i := range r.Unresolved {
		if r.Unresolved[i].Path == path {
			u = &r.Unresolved[i]
		}
	}
	for i := range r.Renames {
		if r.Renames[i].Source == path || r.Renames[i].Target == path {
			rn = &r.Renames[i]
		}
	}
	return id, u, rn
}

// Clean reports whether nothing needs operator attention.
func (r *Report) Clean() bool {
	c := r.Counts()
	return c.Unresolved == 0 && c.Conflicts == 0 && c.JobsFailed == 0 && len(r.Errors) == 0
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
