// Package journal keeps an append-only record of every rename a plan applies,
// so that the plan can be rolled back later.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Digital-Shane/reel-tidy/internal/media"
	"github.com/Digital-Shane/reel-tidy/internal/planner"
	"github.com/rs/zerolog/log"
)

// ErrNotFound means no journal exists for the requested plan.
var ErrNotFound = errors.New("journal not found")

// StatusIncomplete marks a journal whose plan never reached a final state,
// either because the process died mid-apply or because a rollback failed.
const StatusIncomplete planner.Status = "incomplete"

type OperationType string

const (
	OpBegin     OperationType = "begin"
	OpRename    OperationType = "rename"
	OpIntent    OperationType = "intent"
	OpCreateDir OperationType = "create_dir"
	OpRevert    OperationType = "revert"
	OpStatus    OperationType = "status"
)

// Operation is one line of a journal file.
type Operation struct {
	ID         string        `json:"id"`
	Timestamp  time.Time     `json:"timestamp"`
	Type       OperationType `json:"type"`
	SourcePath string        `json:"source_path,omitempty"`
	DestPath   string        `json:"dest_path,omitempty"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`

	// Reverts names the operation a revert undid.
	Reverts string `json:"reverts,omitempty"`
	// Completes names the intent a rename settles.
	Completes string `json:"completes,omitempty"`

	PlanID     string           `json:"plan_id,omitempty"`
	Root       string           `json:"root,omitempty"`
	Args       []string         `json:"args,omitempty"`
	Status     planner.Status   `json:"status,omitempty"`
	Provenance media.Provenance `json:"provenance,omitempty"`
	ExternalID string           `json:"external_id,omitempty"`
}

// Journal stores one file per plan under a directory.
type Journal struct {
	dir string
	now func() time.Time
}

// Option configures a Journal.
type Option func(*Journal)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(j *Journal) { j.now = now }
}

// New returns a journal rooted at dir. The directory is created on first write.
func New(dir string, opts ...Option) *Journal {
	j := &Journal{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Dir returns the journal directory.
func (j *Journal) Dir() string {
	return j.dir
}

func (j *Journal) fileName(t time.Time, planID string) string {
	return filepath.Join(j.dir, fmt.Sprintf("%s.%03d_%s.jsonl",
		t.UTC().Format("2006-01-02_150405"), t.Nanosecond()/1000000, planID))
}

// Session appends operations for one plan. It is safe for concurrent use.
type Session struct {
	mu     sync.Mutex
	planID string
	path   string
	file   *os.File
	seq    int
	now    func() time.Time
}

// Begin creates the journal file for plan and writes its header.
func (j *Journal) Begin(plan *planner.Plan, args []string) (*Session, error) {
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	now := j.now()
	path := j.fileName(now, plan.ID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create journal: %w", err)
	}
	s := &Session{planID: plan.ID, path: path, file: f, now: j.now}
	if err := s.append(Operation{Type: OpBegin, Success: true, Root: plan.Root, Args: args}); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// Resume reopens the journal of an earlier plan for appending, as a rollback
// does.
func (j *Journal) Resume(planID string) (*Session, *History, error) {
	h, err := j.Read(planID)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(h.Path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return &Session{planID: planID, path: h.Path, file: f, seq: h.next, now: j.now}, h, nil
}

// Path returns the journal file of the session.
func (s *Session) Path() string {
	return s.path
}

// Rename records a rename attempt. The returned ID identifies the line for a
// later revert.
func (s *Session) Rename(entry planner.Entry, err error) (string, error) {
	return s.appendID(renameOp(entry, err))
}

// Intend records a rename that is about to happen. It must be followed by
// Complete once the rename returns.
func (s *Session) Intend(entry planner.Entry) (string, error) {
	return s.appendID(Operation{
		Type:       OpIntent,
		SourcePath: entry.Source,
		DestPath:   entry.Target,
		Success:    true,
		Provenance: entry.Identity.Provenance,
		ExternalID: entry.Identity.Candidate.ExternalID,
	})
}

// Complete records the outcome of the rename announced by intentID.
func (s *Session) Complete(intentID string, entry planner.Entry, err error) (string, error) {
	op := renameOp(entry, err)
	op.Completes = intentID
	return s.appendID(op)
}

func renameOp(entry planner.Entry, err error) Operation {
	op := Operation{
		Type:       OpRename,
		SourcePath: entry.Source,
		DestPath:   entry.Target,
		Success:    err == nil,
		Provenance: entry.Identity.Provenance,
		ExternalID: entry.Identity.Candidate.ExternalID,
	}
	if err != nil {
		op.Error = err.Error()
	}
	return op
}

// CreateDir records a directory the executor created.
func (s *Session) CreateDir(dir string) (string, error) {
	return s.appendID(Operation{Type: OpCreateDir, DestPath: dir, Success: true})
}

// Revert records the undoing of op.
func (s *Session) Revert(op Operation, err error) error {
	rec := Operation{
		Type:       OpRevert,
		SourcePath: op.SourcePath,
		DestPath:   op.DestPath,
		Reverts:    op.ID,
		Success:    err == nil,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	return s.append(rec)
}

// SetStatus records the plan's new lifecycle state.
func (s *Session) SetStatus(status planner.Status) error {
	return s.append(Operation{Type: OpStatus, Status: status, Success: true})
}

// Close releases the journal file.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *Session) appendID(op Operation) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeLocked(&op); err != nil {
		return "", err
	}
	return op.ID, nil
}

func (s *Session) append(op Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(&op)
}

// writeLocked appends one JSON line and syncs it, so that a crash right
// after a rename still leaves the pair on disk.
func (s *Session) writeLocked(op *Operation) error {
	if s.file == nil {
		return fmt.Errorf("journal %s is closed", s.path)
	}
	op.ID = fmt.Sprintf("%s_%d", s.planID, s.seq)
	op.PlanID = s.planID
	op.Timestamp = s.now()
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to marshal journal operation: %w", err)
	}
	data = append(data, '\n')
	if _, err := s.file.Write(data); err != nil {
		return fmt.Errorf("failed to write journal: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync journal: %w", err)
	}
	s.seq++
	return nil
}

// History is the parsed journal of one plan.
type History struct {
	Path       string
	PlanID     string
	Root       string
	Args       []string
	Started    time.Time
	Status     planner.Status
	Operations []Operation

	next int
}

// Outstanding returns the successful renames and directory creations that
// have not been reverted, in the order they were applied. Intents with no
// completion are included: the process stopped around their rename and
// only the filesystem knows whether it happened.
func (h *History) Outstanding() []Operation {
	settled := make(map[string]bool)
	for _, op := range h.Operations {
		switch {
		case op.Type == OpRevert && op.Success:
			settled[op.Reverts] = true
		case op.Completes != "":
			settled[op.Completes] = true
		}
	}
	var out []Operation
	for _, op := range h.Operations {
		if !op.Success || settled[op.ID] {
			continue
		}
		if op.Type == OpRename || op.Type == OpCreateDir || op.Type == OpIntent {
			out = append(out, op)
		}
	}
	return out
}

// InDoubt returns the intents that were never completed or reverted.
func (h *History) InDoubt() []Operation {
	var out []Operation
	for _, op := range h.Outstanding() {
		if op.Type == OpIntent {
			out = append(out, op)
		}
	}
	return out
}

// Renames returns the outstanding renames only.
func (h *History) Renames() []Operation {
	var out []Operation
	for _, op := range h.Outstanding() {
		if op.Type == OpRename {
			out = append(out, op)
		}
	}
	return out
}

// ReadFile parses one journal file. A torn final line, left by a crash
// mid-write, is ignored.
func ReadFile(path string) (*History, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	defer f.Close()

	h := &History{Path: path, Status: StatusIncomplete}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var op Operation
		if err := json.Unmarshal([]byte(raw), &op); err != nil {
			log.Warn().Err(err).Str("journal", path).Int("line", line).Msg("skipping unreadable journal line")
			continue
		}
		if seq := sequence(op.ID); seq >= h.next {
			h.next = seq + 1
		}
		switch op.Type {
		case OpBegin:
			h.PlanID = op.PlanID
			h.Root = op.Root
			h.Args = op.Args
			h.Started = op.Timestamp
		case OpStatus:
			h.Status = op.Status
		default:
			h.Operations = append(h.Operations, op)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan journal: %w", err)
	}
	if h.PlanID == "" {
		return nil, fmt.Errorf("journal %s has no header", path)
	}
	return h, nil
}

func sequence(id string) int {
	i := strings.LastIndexByte(id, '_')
	if i < 0 {
		return -1
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil {
		return -1
	}
	return n
}

func (j *Journal) files() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(j.dir, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to list journals: %w", err)
	}
	// Names start with the UTC timestamp, so lexical order is age order.
	sort.Sort(sort.Reverse(sort.StringSlice(files)))
	return files, nil
}

// List returns up to limit histories, newest first. Unreadable files are
// skipped. A limit of zero or less lists everything.
func (j *Journal) List(limit int) ([]*History, error) {
	files, err := j.files()
	if err != nil {
		return nil, err
	}
	out := make([]*History, 0, len(files))
	for _, file := range files {
		if limit > 0 && len(out) == limit {
			break
		}
		h, err := ReadFile(file)
		if err != nil {
			log.Warn().Err(err).Str("journal", file).Msg("skipping corrupted journal")
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

// Read returns the history of planID.
func (j *Journal) Read(planID string) (*History, error) {
	files, err := j.files()
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		if strings.HasSuffix(file, "_"+planID+".jsonl") {
			return ReadFile(file)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, planID)
}

// Latest returns the newest plan that still has outstanding renames.
func (j *Journal) Latest() (*History, error) {
	all, err := j.List(0)
	if err != nil {
		return nil, err
	}
	for _, h := range all {
		if h.Status != planner.StatusRolledBack && (len(h.Renames()) > 0 || len(h.InDoubt()) > 0) {
			return h, nil
		}
	}
	return nil, fmt.Errorf("%w: no applied plans", ErrNotFound)
}

// Targets returns every path a journaled rename still points at. The scanner
// uses it to skip files that are already organized.
func (j *Journal) Targets() (map[string]bool, error) {
	all, err := j.List(0)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool)
	for _, h := range all {
		for _, op := range h.Renames() {
			out[filepath.Clean(op.DestPath)] = true
		}
	}
	return out, nil
}

// Purge removes journals last written before now minus retention and
// returns how many were removed.
func (j *Journal) Purge(retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, nil
	}
	files, err := j.files()
	if err != nil {
		return 0, err
	}
	cutoff := j.now().Add(-retention)
	removed := 0
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Str("journal", file).Msg("failed to remove old journal")
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Debug().Int("removed", removed).Dur("retention", retention).Msg("purged old journals")
	}
	return removed, nil
}
