// Package rollback is the interactive browser for journaled plans.
package rollback

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Digital-Shane/reel-tidy/internal/executor"
	"github.com/Digital-Shane/reel-tidy/internal/journal"
	"github.com/Digital-Shane/reel-tidy/internal/tui/theme"
	"github.com/Digital-Shane/treeview"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// Func reverts the plan with the given ID.
type Func func(ctx context.Context, planID string) (*executor.RollbackResult, error)

// CompleteMsg is emitted when a rollback finishes.
type CompleteMsg struct {
	Result *executor.RollbackResult
	Err    error
}

// Model lists journaled plans and rolls back the selected one after
// confirmation.
type Model struct {
	*treeview.TuiTreeModel[journal.Summary]
	rollback Func
	theme    theme.Theme

	confirming bool
	inProgress bool
	complete   bool
	reverted   int
	failed     int
	err        error

	width      int
	height     int
	splitRatio float64

	details        *viewport.Model
	detailsFocused bool
}

// Option configures a Model.
type Option func(*Model)

// WithTheme overrides the default theme.
func WithTheme(th theme.Theme) Option {
	return func(m *Model) { m.theme = th }
}

// NewTree builds the plan list, one node per journal.
func NewTree(summaries []journal.Summary) *treeview.Tree[journal.Summary] {
	nodes := make([]*treeview.Node[journal.Summary], 0, len(summaries))
	for _, s := range summaries {
		name := fmt.Sprintf("%s %s - %s (%d renames)", s.Icon, s.History.PlanID, s.RelativeTime, s.Renames)
		nodes = append(nodes, treeview.NewNode(s.History.PlanID, name, s))
	}
	tree := treeview.NewTree(nodes)
	if len(nodes) > 0 {
		_, _ = tree.SetFocusedID(context.Background(), nodes[0].ID())
	}
	return tree
}

// New creates the browser over tree. fn performs the actual rollback.
func New(tree *treeview.Tree[journal.Summary], fn Func, opts ...Option) *Model {
	m := &Model{
		rollback:   fn,
		theme:      theme.Default(),
		width:      80,
		height:     24,
		splitRatio: 0.5,
	}
	for _, opt := range opts {
		opt(m)
	}

	keyMap := treeview.DefaultKeyMap()
	keyMap.SearchStart = []string{}
	keyMap.Reset = []string{}

	treeWidth := m.treeWidth()
	m.TuiTreeModel = treeview.NewTuiTreeModel(tree,
		treeview.WithTuiWidth[journal.Summary](treeWidth),
		treeview.WithTuiHeight[journal.Summary](m.height-4),
		treeview.WithTuiAllowResize[journal.Summary](true),
		treeview.WithTuiDisableNavBar[journal.Summary](true),
		treeview.WithTuiKeyMap[journal.Summary](keyMap),
	)

	vp := viewport.New(m.width-treeWidth-6, m.height-8)
	vp.Style = lipgloss.NewStyle()
	m.details = &vp
	return m
}

func (m *Model) treeWidth() int {
	return int(float64(m.width)*m.splitRatio) - 2
}

func (m *Model) Init() tea.Cmd {
	return nil
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		treeWidth := m.treeWidth()
		treeModel, cmd := m.TuiTreeModel.Update(tea.WindowSizeMsg{Width: treeWidth, Height: m.height - 4})
		m.TuiTreeModel = treeModel.(*treeview.TuiTreeModel[journal.Summary])
		m.details.Width = m.width - treeWidth - 6
		m.details.Height = m.height - 8
		return m, cmd

	case tea.KeyMsg:
		switch msg.String() {
		case "esc", "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.detailsFocused = !m.detailsFocused
			return m, nil
		case "up":
			if m.detailsFocused {
				m.details.ScrollUp(1)
				return m, nil
			}
		case "down":
			if m.detailsFocused {
				m.details.ScrollDown(1)
				return m, nil
			}
		case "pgup":
			if m.detailsFocused {
				m.details.HalfPageUp()
				return m, nil
			}
		case "pgdown":
			if m.detailsFocused {
				m.details.HalfPageDown()
				return m, nil
			}
		case "enter":
			if m.inProgress || m.complete {
				return m, nil
			}
			if !m.confirming {
				if s := m.focused(); s != nil && s.Renames > 0 {
					m.confirming = true
				}
				return m, nil
			}
			if s := m.focused(); s != nil {
				m.confirming = false
				m.inProgress = true
				return m, m.perform(s.History.PlanID)
			}
			return m, nil
		case "n", "N":
			m.confirming = false
			return m, nil
		}

	case CompleteMsg:
		m.inProgress = false
		m.complete = true
		m.err = msg.Err
		if msg.Result != nil {
			m.reverted = len(msg.Result.Reverted)
			m.failed = len(msg.Result.Errors)
		}
		return m, nil
	}

	if !m.confirming && !m.inProgress && !m.detailsFocused {
		treeModel, cmd := m.TuiTreeModel.Update(msg)
		m.TuiTreeModel = treeModel.(*treeview.TuiTreeModel[journal.Summary])
		return m, cmd
	}
	return m, nil
}

func (m *Model) focused() *journal.Summary {
	node := m.TuiTreeModel.Tree.GetFocusedNode()
	if node == nil {
		return nil
	}
	return node.Data()
}

func (m *Model) perform(planID string) tea.Cmd {
	fn := m.rollback
	return func() tea.Msg {
		res, err := fn(context.Background(), planID)
		return CompleteMsg{Result: res, Err: err}
	}
}

// Err returns the error of the last rollback, if any.
func (m *Model) Err() error {
	return m.err
}

func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(m.theme.HeaderStyle().Width(m.width).Render("Reel-Tidy Rollback"))
	b.WriteByte('\n')

	switch {
	case m.complete:
		text := fmt.Sprintf("Rollback completed: %d operations reverted", m.reverted)
		if m.failed > 0 {
			text = fmt.Sprintf("Rollback completed: %d reverted, %d failed", m.reverted, m.failed)
		} else if m.err != nil {
			text = fmt.Sprintf("Rollback failed: %v", m.err)
		}
		b.WriteString(m.theme.StatusBarStyle().Width(m.width).Render(text))
		b.WriteByte('\n')
		b.WriteString(lipgloss.NewStyle().
			Width(m.width).
			Align(lipgloss.Center).
			Foreground(m.theme.Colors().Muted).
			Render("Press 'Ctrl+C' or 'esc' to exit"))
	case m.inProgress:
		b.WriteString(m.theme.StatusBarStyle().Width(m.width).Render("Rolling back..."))
		b.WriteByte('\n')
	case m.confirming:
		if s := m.focused(); s != nil {
			b.WriteString(m.renderConfirmation(*s))
		}
	default:
		b.WriteString(m.renderMain())
	}
	return b.String()
}

func (m *Model) sizedPanel(width, height int, border lipgloss.Color) lipgloss.Style {
	style := m.theme.PanelStyle().BorderForeground(border)
	if width > 0 {
		style = style.Width(max(width-style.GetHorizontalFrameSize(), 0))
	}
	if height > 0 {
		style = style.Height(max(height-style.GetVerticalFrameSize(), 0))
	}
	return style.Padding(0, 1)
}

func (m *Model) renderMain() string {
	leftWidth := int(float64(m.width) * m.splitRatio)
	rightWidth := m.width - leftWidth
	colors := m.theme.Colors()

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(colors.Primary).
		Width(max(leftWidth-4, 0)).
		Align(lipgloss.Center).
		Render("Plans")
	left := m.sizedPanel(leftWidth, m.height-3, colors.Primary).Render(title + "\n" + m.TuiTreeModel.View())

	content := lipgloss.NewStyle().Italic(true).Foreground(colors.Muted).Render("Select a plan to view details")
	if s := m.focused(); s != nil {
		content = m.formatDetails(*s, m.details.Width)
	}
	m.details.SetContent(content)

	indicator := ""
	if m.details.TotalLineCount() > m.details.Height {
		indicator = " [Tab to scroll]"
		if m.detailsFocused {
			indicator = " [Use Tab+↑↓]"
		}
	}
	detailsTitle := lipgloss.NewStyle().
		Bold(true).
		Foreground(colors.Secondary).
		Width(max(rightWidth-4, 0)).
		Align(lipgloss.Center).
		Render("Plan Details" + indicator)
	right := m.sizedPanel(rightWidth, m.height-3, colors.Secondary).
		Render(lipgloss.JoinVertical(lipgloss.Left, detailsTitle, "", m.details.View()))

	focus := "Tab: Details Focus | "
	if m.detailsFocused {
		focus = "Tab: List Focus | "
	}
	help := lipgloss.NewStyle().
		Italic(true).
		Width(m.width).
		Align(lipgloss.Center).
		Foreground(colors.Muted).
		Render(focus + "↑↓ Navigate | PgUp/PgDn: Page | Enter: Roll back | Esc/Ctrl+C: Quit")

	return lipgloss.JoinHorizontal(lipgloss.Top, left, right) + "\n" + help
}

func (m *Model) formatDetails(s journal.Summary, width int) string {
	h := s.History
	colors := m.theme.Colors()
	label := lipgloss.NewStyle().Bold(true).Foreground(colors.Accent)
	value := lipgloss.NewStyle().Foreground(colors.Primary)
	indent := lipgloss.NewStyle().MarginLeft(2)

	var b strings.Builder
	line := func(name, v string) {
		b.WriteString(label.Render(name + ": "))
		b.WriteString(value.Render(v))
		b.WriteByte('\n')
	}
	line("Command", strings.Join(h.Args, " "))
	line("Time", s.RelativeTime)
	line("Date", h.Started.Local().Format("2006-01-02 15:04:05"))
	line("Root", runewidth.Truncate(h.Root, max(width-6, 10), "..."))
	line("Status", string(h.Status))
	b.WriteByte('\n')

	outstanding := h.Outstanding()
	b.WriteString(label.Render("Operations:"))
	b.WriteByte('\n')
	b.WriteString(indent.Render(value.Render(fmt.Sprintf("Renames: %d\nOutstanding: %d", s.Renames, len(outstanding)))))
	b.WriteString("\n\n")

	if len(outstanding) > 0 {
		b.WriteString(label.Render("Will revert:"))
		b.WriteByte('\n')
		for i := len(outstanding) - 1; i >= 0; i-- {
			op := outstanding[i]
			text := m.formatOperation(op, width-6)
			b.WriteString(indent.Render(m.theme.Icon(iconFor(op)) + " " + text))
			b.WriteByte('\n')
		}
	}

	b.WriteByte('\n')
	b.WriteString(label.Render("Plan ID: "))
	b.WriteString(lipgloss.NewStyle().Foreground(colors.Muted).Italic(true).Render(h.PlanID))
	return b.String()
}

func iconFor(op journal.Operation) string {
	switch op.Type {
	case journal.OpRename, journal.OpIntent:
		return "revert"
	case journal.OpCreateDir:
		return "folder"
	default:
		return "unknown"
	}
}

func (m *Model) formatOperation(op journal.Operation, maxWidth int) string {
	var text string
	switch op.Type {
	case journal.OpRename:
		text = fmt.Sprintf("%s → %s", filepath.Base(op.DestPath), filepath.Base(op.SourcePath))
	case journal.OpIntent:
		text = fmt.Sprintf("%s → %s (unconfirmed)", filepath.Base(op.DestPath), filepath.Base(op.SourcePath))
	case journal.OpCreateDir:
		text = fmt.Sprintf("Remove: %s/", filepath.Base(op.DestPath))
	default:
		text = string(op.Type)
	}
	return runewidth.Truncate(text, max(maxWidth, 10), "...")
}

func (m *Model) renderConfirmation(s journal.Summary) string {
	h := s.History
	colors := m.theme.Colors()
	box := m.theme.PanelStyle().
		BorderForeground(colors.Accent).
		Padding(1, 2).
		Width(60).
		Align(lipgloss.Center).
		Background(colors.Background)

	text := fmt.Sprintf(
		"Confirm Rollback\n\n"+
			"Plan: %s\n"+
			"Time: %s\n"+
			"Renames: %d (outstanding steps: %d)\n"+
			"Root: %s\n\n"+
			"Every outstanding step is reverted, newest first.\n\n"+
			"Press ENTER to confirm or 'n' to cancel",
		h.PlanID, s.RelativeTime, s.Renames, len(h.Outstanding()), h.Root)

	return lipgloss.NewStyle().
		Width(m.width).
		Height(m.height-2).
		Align(lipgloss.Center, lipgloss.Center).
		Render(box.Render(text))
}
