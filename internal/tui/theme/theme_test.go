package theme

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
)

func TestWithIconSetCopies(t *testing.T) {
	icons := IconSet{"movie": "🎬"}
	th := New(WithIconSet(icons))
	icons["movie"] = "mutated"

	if got := th.Icon("movie"); got != "🎬" {
		t.Errorf("Icon(movie) = %q, want 🎬", got)
	}
}

func TestIconLookupOrder(t *testing.T) {
	th := Theme{
		icons:    IconSet{"primary": "icon"},
		fallback: IconSet{"fallback": "fallback-icon"},
	}
	tests := []struct {
		key  string
		want string
	}{
		{"primary", "icon"},
		{"fallback", "fallback-icon"},
		{"missing", ""},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := th.Icon(tt.key); got != tt.want {
				t.Errorf("Icon(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestOptions(t *testing.T) {
	colors := Colors{Primary: lipgloss.Color("#111111"), Accent: lipgloss.Color("#222222")}
	th := New(WithColors(colors), WithBorder(lipgloss.ThickBorder()))

	if th.Colors() != colors {
		t.Errorf("Colors() = %+v, want %+v", th.Colors(), colors)
	}
	if got := th.PanelStyle().GetBorderStyle(); got != lipgloss.ThickBorder() {
		t.Errorf("panel border = %+v, want thick", got)
	}
	from, to := th.ProgressGradient()
	if from != "#111111" || to != "#222222" {
		t.Errorf("ProgressGradient() = %s, %s", from, to)
	}
}

func TestIconsCoverFallback(t *testing.T) {
	for name := range asciiIcons {
		if _, ok := emojiIcons[name]; !ok {
			t.Errorf("emoji icon set missing %q", name)
		}
	}
	if isLimitedTerminal() {
		t.Skip("limited terminal uses ascii icons")
	}
	if got := Default().Icon("movie"); got != emojiIcons["movie"] {
		t.Errorf("Default().Icon(movie) = %q", got)
	}
}
