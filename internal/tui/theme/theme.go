// Package theme holds the palette, styles and icons shared by the views.
package theme

import (
	"maps"
	"os"
	"runtime"

	"github.com/charmbracelet/lipgloss"
)

// IconSet maps semantic names to icons.
type IconSet map[string]string

// Colors is the palette used across the views.
type Colors struct {
	Primary    lipgloss.Color
	Secondary  lipgloss.Color
	Accent     lipgloss.Color
	Background lipgloss.Color
	Muted      lipgloss.Color
	Success    lipgloss.Color
	Warning    lipgloss.Color
	Error      lipgloss.Color
}

// Theme bundles palette, panel border and icons.
type Theme struct {
	colors   Colors
	border   lipgloss.Border
	icons    IconSet
	fallback IconSet
}

// Option configures a Theme.
type Option func(*Theme)

// WithColors overrides the palette.
func WithColors(colors Colors) Option {
	return func(t *Theme) { t.colors = colors }
}

// WithIconSet overrides the icons. The set is copied.
func WithIconSet(set IconSet) Option {
	return func(t *Theme) { t.icons = maps.Clone(set) }
}

// WithBorder overrides the panel border.
func WithBorder(b lipgloss.Border) Option {
	return func(t *Theme) { t.border = b }
}

// New builds a theme from defaults and opts.
func New(opts ...Option) Theme {
	t := Theme{
		colors: Colors{
			Primary:    lipgloss.Color("#2f5d7c"),
			Secondary:  lipgloss.Color("#4f7f9f"),
			Accent:     lipgloss.Color("#e0a458"),
			Background: lipgloss.Color("#f8f8f8"),
			Muted:      lipgloss.Color("#9ba8c0"),
			Success:    lipgloss.Color("#5dc796"),
			Warning:    lipgloss.Color("#e6c229"),
			Error:      lipgloss.Color("#f04c56"),
		},
		border:   lipgloss.RoundedBorder(),
		icons:    defaultIconSet(),
		fallback: maps.Clone(asciiIcons),
	}
	for _, opt := range opts {
		opt(&t)
	}
	return t
}

// Default returns the default theme.
func Default() Theme {
	return New()
}

func (t Theme) Colors() Colors {
	return t.colors
}

// Icon returns the named icon, the ASCII fallback, or "".
func (t Theme) Icon(name string) string {
	if icon, ok := t.icons[name]; ok {
		return icon
	}
	return t.fallback[name]
}

func (t Theme) HeaderStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Bold(true).
		Background(t.colors.Primary).
		Foreground(t.colors.Background).
		Align(lipgloss.Center)
}

func (t Theme) StatusBarStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Background(t.colors.Secondary).
		Foreground(t.colors.Background).
		Padding(0, 1)
}

func (t Theme) PanelStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Border(t.border).
		BorderForeground(t.colors.Accent).
		Padding(0, 1)
}

// ProgressGradient returns the two colors of progress bars.
func (t Theme) ProgressGradient() (string, string) {
	return string(t.colors.Primary), string(t.colors.Accent)
}

func defaultIconSet() IconSet {
	if isLimitedTerminal() {
		return maps.Clone(asciiIcons)
	}
	return maps.Clone(emojiIcons)
}

// isLimitedTerminal detects sessions where emoji rarely render.
func isLimitedTerminal() bool {
	if os.Getenv("SSH_CLIENT") != "" || os.Getenv("SSH_TTY") != "" || os.Getenv("SSH_CONNECTION") != "" {
		return true
	}
	return runtime.GOOS == "windows"
}

var emojiIcons = IconSet{
	"movie":    "🎬",
	"episode":  "📺",
	"folder":   "📁",
	"rename":   "✅",
	"revert":   "↩️",
	"error":    "❌",
	"unknown":  "❓",
	"resolved": "✅",
	"override": "✍️",
}

var asciiIcons = IconSet{
	"movie":    "[M]",
	"episode":  "[E]",
	"folder":   "[D]",
	"rename":   "[v]",
	"revert":   "[<]",
	"error":    "[!]",
	"unknown":  "[?]",
	"resolved": "[v]",
	"override": "[*]",
}
