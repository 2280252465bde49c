// Package planner builds and validates rename plans.
package planner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Digital-Shane/reel-tidy/internal/media"
	"github.com/Digital-Shane/reel-tidy/internal/provider/ffprobe"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultMaxNameLength is the rune limit for one path component.
const DefaultMaxNameLength = 120

// Prober reads duration metadata for the collision tie-break.
type Prober interface {
	Probe(ctx context.Context, path string) (ffprobe.MediaInfo, error)
}

// Options configure a Planner.
type Options struct {
	Root          string
	MaxNameLength int
	// Prober is optional; without it only file sizes separate collisions.
	Prober Prober
	// Exists reports whether a path is taken on disk. Defaults to Lstat.
	Exists func(path string) bool
	Now    func() time.Time
}

// Input pairs a scanned file with its accepted identity.
type Input struct {
	Entry    media.RawEntry
	Identity media.ResolvedIdentity
}

// Planner turns identities into rename plans.
type Planner struct {
	opts Options
}

// New creates a planner with defaults applied.
func New(opts Options) *Planner {
	if opts.MaxNameLength <= 0 {
		opts.MaxNameLength = DefaultMaxNameLength
	}
	if opts.Exists == nil {
		opts.Exists = func(path string) bool {
			_, err := os.Lstat(path)
			return err == nil
		}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Planner{opts: opts}
}

// MaxNameLength returns the component limit the planner enforces.
func (p *Planner) MaxNameLength() int {
	return p.opts.MaxNameLength
}

// Build computes a plan for inputs. Entries are ordered by source path.
// Colliding targets are separated by a duration or size suffix when one
// distinguishes them; otherwise the plan stays draft and the collisions are
// listed in Conflicts.
func (p *Planner) Build(ctx context.Context, inputs []Input) (*Plan, error) {
	sorted := make([]Input, len(inputs))
	copy(sorted, inputs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Entry.Path < sorted[j].Entry.Path })

	plan := &Plan{
		ID:        uuid.NewString(),
		Root:      p.opts.Root,
		CreatedAt: p.opts.Now(),
		Status:    StatusDraft,
		Entries:   make([]Entry, 0, len(sorted)),
	}
	for _, in := range sorted {
		target, err := p.target(in, "")
		if err != nil {
			return nil, fmt.Errorf("plan %s: %w", in.Entry.Path, err)
		}
		plan.Entries = append(plan.Entries, Entry{
			Source:   in.Entry.Path,
			Target:   target,
			Identity: in.Identity,
			Size:     in.Entry.Size,
		})
	}

	if err := p.separateCollisions(ctx, plan, sorted); err != nil {
		return nil, err
	}

	err := plan.Validate(p.opts.MaxNameLength)
	if err != nil && !errors.Is(err, ErrPlanValidationConflict) {
		return nil, err
	}

	if existing := p.existingConflicts(plan); len(existing) > 0 {
		plan.Conflicts = append(plan.Conflicts, existing...)
		sort.SliceStable(plan.Conflicts, func(i, j int) bool { return plan.Conflicts[i].Target < plan.Conflicts[j].Target })
		plan.Status = StatusDraft
	}

	log.Debug().Str("plan", plan.ID).Int("entries", len(plan.Entries)).Int("conflicts", len(plan.Conflicts)).Str("status", string(plan.Status)).Msg("plan built")
	return plan, nil
}

func (p *Planner) target(in Input, suffix string) (string, error) {
	rel, err := RelativeTarget(in.Identity, filepath.Ext(in.Entry.Path), suffix, p.opts.MaxNameLength)
	if err != nil {
		return "", err
	}
	return filepath.Join(p.opts.Root, rel), nil
}

// separateCollisions suffixes entries that share a target with another entry
// or with a file already on disk that the plan does not move.
func (p *Planner) separateCollisions(ctx context.Context, plan *Plan, inputs []Input) error {
	sources := make(map[string]bool, len(plan.Entries))
	for _, e := range plan.Entries {
		sources[pathKey(e.Source)] = true
	}

	groups := make(map[string][]int)
	var order []string
	for i, e := range plan.Entries {
		key := pathKey(e.Target)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	for _, key := range order {
		idx := groups[key]
		anchored := false
		movers := make([]int, 0, len(idx))
		for _, i := range idx {
			if plan.Entries[i].NoOp() {
				anchored = true
				continue
			}
			movers = append(movers, i)
		}
		if len(movers) == 0 {
			continue
		}
		// A file the plan does not move already sits on the target.
		if !anchored && !sources[key] && p.opts.Exists(plan.Entries[movers[0]].Target) {
			anchored = true
		}
		if !anchored && len(movers) < 2 {
			continue
		}

		suffixes := p.tieBreak(ctx, plan.Entries, movers)
		if suffixes == nil {
			continue
		}
		for k, i := range movers {
			target, err := p.target(inputs[i], suffixes[k])
			if err != nil {
				return err
			}
			plan.Entries[i].Target = target
			plan.Entries[i].Suffix = suffixes[k]
		}
	}
	return nil
}

// tieBreak returns one distinct suffix per mover, preferring durations, then
// sizes. It returns nil when neither separates every mover.
func (p *Planner) tieBreak(ctx context.Context, entries []Entry, movers []int) []string {
	if p.opts.Prober != nil {
		suffixes := make([]string, len(movers))
		for k, i := range movers {
			info, err := p.opts.Prober.Probe(ctx, entries[i].Source)
			if err != nil || info.Duration <= 0 {
				log.Debug().Err(err).Str("file", entries[i].Source).Msg("no duration for tie-break")
				suffixes = nil
				break
			}
			suffixes[k] = fmt.Sprintf(" [%s]", info.Duration.Round(time.Second))
		}
		if distinct(suffixes) {
			return suffixes
		}
	}

	suffixes := make([]string, len(movers))
	for k, i := range movers {
		if entries[i].Size <= 0 {
			return nil
		}
		suffixes[k] = fmt.Sprintf(" [%d bytes]", entries[i].Size)
	}
	if distinct(suffixes) {
		return suffixes
	}
	return nil
}

func distinct(values []string) bool {
	if len(values) == 0 {
		return false
	}
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if seen[v] {
			return false
		}
		seen[v] = true
	}
	return true
}

// existingConflicts reports targets already present on disk that the plan
// neither moves away nor leaves in place.
func (p *Planner) existingConflicts(plan *Plan) []*ConflictError {
	sources := make(map[string]bool, len(plan.Entries))
	for _, e := range plan.Entries {
		sources[pathKey(e.Source)] = true
	}
	var out []*ConflictError
	for _, e := range plan.Entries {
		if e.NoOp() || sources[pathKey(e.Target)] {
			continue
		}
		if p.opts.Exists(e.Target) {
			out = append(out, &ConflictError{
				Target:  e.Target,
				Sources: []string{e.Source},
				Reason:  "already exists on disk; wanted by",
			})
		}
	}
	return out
}

// Describe renders one line per entry for logs and dry runs.
func (p *Plan) Describe() string {
	var b strings.Builder
	for _, e := range p.Entries {
		if e.NoOp() {
			fmt.Fprintf(&b, "= %s\n", e.Source)
			continue
		}
		fmt.Fprintf(&b, "%s -> %s\n", e.Source, e.Target)
	}
	return b.String()
}
