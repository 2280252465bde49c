// Package progress shows identification progress and lets the operator fix
// entries the engine could not resolve.
package progress

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/Digital-Shane/reel-tidy/internal/core"
	"github.com/Digital-Shane/reel-tidy/internal/media"
	"github.com/Digital-Shane/reel-tidy/internal/tui/theme"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

type engineEventMsg struct {
	event core.Event
	done  bool
}

type overrideFinishedMsg struct {
	result core.Result
}

const errorBaseLines = 6

var queryYearRe = regexp.MustCompile(`^(.*?)\s*\((\d{4})\)\s*$`)

// Engine is the part of core.Engine the view drives.
type Engine interface {
	Start(ctx context.Context, entries []media.RawEntry) <-chan core.Event
	Results() []core.Result
	Override(ctx context.Context, entry media.RawEntry, title string, year int) core.Result
}

// IdentifyModel runs the engine and, when it finishes with unresolved
// entries, offers a manual lookup for each of them.
type IdentifyModel struct {
	engine  Engine
	entries []media.RawEntry
	events  <-chan core.Event
	summary core.Summary
	errors  []string
	manual  bool

	width  int
	height int

	progress progress.Model
	input    textinput.Model
	theme    theme.Theme

	unresolved   []core.Result
	selected     int
	overridden   int
	retrying     bool
	manualActive bool
	status       string

	ctx    context.Context
	cancel context.CancelFunc

	canceled bool
	done     bool
}

// Option configures an IdentifyModel.
type Option func(*IdentifyModel)

// WithManualOverride lets the operator retry unresolved entries by hand
// once the run is over.
func WithManualOverride(enabled bool) Option {
	return func(m *IdentifyModel) { m.manual = enabled }
}

// NewIdentifyModel prepares a view that identifies entries with engine.
func NewIdentifyModel(engine Engine, entries []media.RawEntry, th theme.Theme, opts ...Option) *IdentifyModel {
	from, to := th.ProgressGradient()
	prog := progress.New(progress.WithGradient(from, to))
	prog.Width = 50

	ti := textinput.New()
	ti.Prompt = ""
	ti.CharLimit = 256
	colors := th.Colors()
	ti.Cursor.Style = lipgloss.NewStyle().Foreground(colors.Background).Background(colors.Accent)
	ti.TextStyle = lipgloss.NewStyle().Foreground(colors.Primary)
	ti.Width = 64

	m := &IdentifyModel{
		engine:   engine,
		entries:  entries,
		summary:  core.Summary{TotalItems: len(entries)},
		width:    80,
		height:   12,
		progress: prog,
		input:    ti,
		theme:    th,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *IdentifyModel) Init() tea.Cmd {
	if len(m.entries) == 0 {
		m.done = true
		return tea.Quit
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.events = m.engine.Start(m.ctx, m.entries)
	return m.waitForEvent()
}

func (m *IdentifyModel) waitForEvent() tea.Cmd {
	events := m.events
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return engineEventMsg{done: true}
		}
		return engineEventMsg{event: ev}
	}
}

func (m *IdentifyModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.progress.Width = max(msg.Width-4, 10)
		m.input.Width = max(msg.Width-24, 20)
		return m, nil
	case tea.KeyMsg:
		if m.manualActive {
			return m.handleManualKey(msg)
		}
		switch msg.String() {
		case "ctrl+c", "esc":
			m.stop()
			return m, tea.Quit
		}
	case engineEventMsg:
		return m.handleEvent(msg)
	case overrideFinishedMsg:
		return m.handleOverride(msg.result)
	case progress.FrameMsg:
		pm, cmd := m.progress.Update(msg)
		m.progress = pm.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *IdentifyModel) stop() {
	m.canceled = true
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *IdentifyModel) handleEvent(msg engineEventMsg) (tea.Model, tea.Cmd) {
	if msg.done {
		return m.finish()
	}
	ev := msg.event
	m.summary = ev.Summary
	if ev.Result != nil && ev.Result.Err != nil {
		m.errors = append(m.errors, fmt.Sprintf("%s: %v", filepath.Base(ev.Result.Entry.Path), ev.Result.Err))
	}
	if ev.Err != nil && !errors.Is(ev.Err, context.Canceled) {
		m.errors = append(m.errors, ev.Err.Error())
	}

	ratio := 0.0
	if m.summary.TotalItems > 0 {
		ratio = float64(m.summary.ProcessedItems) / float64(m.summary.TotalItems)
	}
	return m, tea.Batch(m.progress.SetPercent(ratio), m.waitForEvent())
}

func (m *IdentifyModel) finish() (tea.Model, tea.Cmd) {
	if m.canceled || m.summary.Canceled {
		return m, tea.Quit
	}
	if m.manual {
		for _, res := range m.engine.Results() {
			if !res.Resolved() {
				m.unresolved = append(m.unresolved, res)
			}
		}
	}
	if len(m.unresolved) == 0 {
		m.done = true
		return m, tea.Quit
	}
	m.manualActive = true
	m.selected = 0
	m.prepareInput()
	return m, nil
}

func (m *IdentifyModel) handleManualKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		m.stop()
		return m, tea.Quit
	case tea.KeyUp, tea.KeyShiftTab:
		m.moveSelection(-1)
		return m, nil
	case tea.KeyDown, tea.KeyTab:
		m.moveSelection(1)
		return m, nil
	case tea.KeyCtrlS:
		m.manualActive = false
		m.done = true
		return m, tea.Quit
	case tea.KeyEnter:
		if m.retrying || len(m.unresolved) == 0 {
			return m, nil
		}
		title, year := ParseQuery(m.input.Value())
		if title == "" {
			m.status = "Enter a title to search for."
			return m, nil
		}
		m.retrying = true
		m.status = fmt.Sprintf("Searching for %q…", m.input.Value())
		entry := m.unresolved[m.selected].Entry
		return m, m.overrideCmd(entry, title, year)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *IdentifyModel) overrideCmd(entry media.RawEntry, title string, year int) tea.Cmd {
	return func() tea.Msg {
		ctx := m.ctx
		if ctx == nil || ctx.Err() != nil {
			ctx = context.Background()
		}
		return overrideFinishedMsg{result: m.engine.Override(ctx, entry, title, year)}
	}
}

func (m *IdentifyModel) handleOverride(res core.Result) (tea.Model, tea.Cmd) {
	m.retrying = false
	if !res.Resolved() {
		m.status = res.Reason
		if res.Err != nil {
			m.status = fmt.Sprintf("%s: %v", res.Reason, res.Err)
		}
		for i := range m.unresolved {
			if m.unresolved[i].Entry.Path == res.Entry.Path {
				m.unresolved[i] = res
			}
		}
		return m, nil
	}

	m.overridden++
	for i := range m.unresolved {
		if m.unresolved[i].Entry.Path == res.Entry.Path {
			m.unresolved = append(m.unresolved[:i], m.unresolved[i+1:]...)
			break
		}
	}
	if len(m.unresolved) == 0 {
		m.manualActive = false
		m.done = true
		return m, tea.Quit
	}
	m.selected = min(m.selected, len(m.unresolved)-1)
	m.status = fmt.Sprintf("Matched %s. %d remaining.", res.Identity.Candidate.Label(), len(m.unresolved))
	m.prepareInput()
	return m, nil
}

func (m *IdentifyModel) moveSelection(delta int) {
	if len(m.unresolved) == 0 {
		return
	}
	m.selected = max(0, min(m.selected+delta, len(m.unresolved)-1))
	m.prepareInput()
}

func (m *IdentifyModel) prepareInput() {
	res := m.unresolved[m.selected]
	query := res.Hints.Title
	if res.Hints.Year > 0 {
		query = fmt.Sprintf("%s (%d)", query, res.Hints.Year)
	}
	m.input.SetValue(query)
	m.input.CursorEnd()
	m.input.Focus()
	if m.status == "" || !m.retrying {
		m.status = describe(res)
	}
}

// ParseQuery splits "Title (1999)" into title and year.
func ParseQuery(s string) (string, int) {
	s = strings.TrimSpace(s)
	if match := queryYearRe.FindStringSubmatch(s); match != nil {
		year, _ := strconv.Atoi(match[2])
		return strings.TrimSpace(match[1]), year
	}
	return s, 0
}

func describe(res core.Result) string {
	reason := res.Reason
	if reason == "" {
		reason = "unresolved"
	}
	if res.Err != nil {
		reason = fmt.Sprintf("%s: %v", reason, res.Err)
	}
	return fmt.Sprintf("%s: %s", filepath.Base(res.Entry.Path), reason)
}

// Done reports whether the run completed without the operator aborting.
func (m *IdentifyModel) Done() bool {
	return m.done
}

// Canceled reports whether the operator aborted the run.
func (m *IdentifyModel) Canceled() bool {
	return m.canceled
}

// Overridden counts entries the operator resolved by hand.
func (m *IdentifyModel) Overridden() int {
	return m.overridden
}

// Results returns the engine results, manual overrides included.
func (m *IdentifyModel) Results() []core.Result {
	return m.engine.Results()
}

func (m *IdentifyModel) View() string {
	if m.manualActive {
		return m.renderManual()
	}
	if m.summary.TotalItems == 0 {
		return "No media files to identify.\n"
	}

	percent := 100 * m.summary.ProcessedItems / m.summary.TotalItems
	stats := []string{
		fmt.Sprintf("Files: %d/%d (%d%%)", m.summary.ProcessedItems, m.summary.TotalItems, percent),
		fmt.Sprintf("Resolved: %d  Unresolved: %d  Errors: %d", m.summary.Resolved, m.summary.Unresolved, m.summary.ErrorCount),
		fmt.Sprintf("Workers: %d", m.summary.WorkerLimit),
	}
	panel := m.theme.PanelStyle()
	panelWidth := max(m.width-panel.GetHorizontalFrameSize(), 0)
	blocks := []string{strings.Join(stats, "\n")}
	if errBlock := m.renderErrors(); errBlock != "" {
		blocks = append(blocks, errBlock)
	}

	statusText := "Identifying files… please wait"
	if m.summary.LastItem != "" {
		statusText = m.summary.LastItem
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.theme.HeaderStyle().Width(m.width).Render("Identifying Media"),
		m.progress.View(),
		panel.Width(panelWidth).Render(strings.Join(blocks, "\n")),
		m.theme.StatusBarStyle().Width(m.width).Render(statusText),
	)
}

func (m *IdentifyModel) renderErrors() string {
	if len(m.errors) == 0 {
		return ""
	}
	maxLines := max(m.height-errorBaseLines-1, 1)
	show := min(len(m.errors), maxLines)
	width := max(m.width-4, 10)

	lines := []string{fmt.Sprintf("Errors: %d", len(m.errors))}
	for _, msg := range m.errors[len(m.errors)-show:] {
		lines = append(lines, "• "+runewidth.Truncate(msg, width, "..."))
	}
	if len(m.errors) > show {
		lines = append(lines, fmt.Sprintf("... and %d more", len(m.errors)-show))
	}
	return lipgloss.NewStyle().Foreground(m.theme.Colors().Error).Render(strings.Join(lines, "\n"))
}

func (m *IdentifyModel) renderManual() string {
	colors := m.theme.Colors()
	muted := lipgloss.NewStyle().Foreground(colors.Muted).Width(m.width)

	panel := m.theme.PanelStyle()
	panelWidth := max(m.width-panel.GetHorizontalFrameSize(), 20)
	normal := lipgloss.NewStyle().Foreground(colors.Error)
	selected := lipgloss.NewStyle().Foreground(colors.Accent).Bold(true)

	items := make([]string, 0, len(m.unresolved))
	for i, res := range m.unresolved {
		indicator, style := "•", normal
		if i == m.selected {
			indicator, style = "➜", selected
		}
		line := fmt.Sprintf("%s %s %s", indicator, m.theme.Icon("unknown"), filepath.Base(res.Entry.Path))
		items = append(items, style.Render(runewidth.Truncate(line, panelWidth, "…")))
	}

	statusText := m.status
	if m.retrying {
		statusText = "Searching…"
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.theme.HeaderStyle().Width(m.width).Render("Resolve Unidentified Files"),
		muted.Render(fmt.Sprintf("Unresolved: %d (fixed: %d)", len(m.unresolved), m.overridden)),
		muted.Render("↑/↓ choose a file, edit the title, Enter to search, ctrl+s to continue without them."),
		panel.Width(panelWidth).Render(strings.Join(items, "\n")),
		"Title (Year): "+m.input.View(),
		m.theme.StatusBarStyle().Width(m.width).Render(statusText),
	)
}
