package journal

import (
	"fmt"
	"time"

	"github.com/Digital-Shane/reel-tidy/internal/planner"
)

// Summary is a one-line view of a journaled plan for listings.
type Summary struct {
	History      *History
	RelativeTime string
	Icon         string
	Renames      int
}

// Summaries returns summaries of every journal, newest first.
func (j *Journal) Summaries() ([]Summary, error) {
	all, err := j.List(0)
	if err != nil {
		return nil, err
	}
	now := j.now()
	out := make([]Summary, 0, len(all))
	for _, h := range all {
		out = append(out, Summary{
			History:      h,
			RelativeTime: formatRelativeTime(now, h.Started),
			Icon:         statusIcon(h.Status),
			Renames:      len(h.Renames()),
		})
	}
	return out, nil
}

func formatRelativeTime(now, t time.Time) string {
	duration := now.Sub(t)
	switch {
	case duration < time.Minute:
		return "just now"
	case duration < time.Hour:
		mins := int(duration.Minutes())
		return fmt.Sprintf("%d minute%s ago", mins, plural(mins))
	case duration < 24*time.Hour:
		hours := int(duration.Hours())
		return fmt.Sprintf("%d hour%s ago", hours, plural(hours))
	case duration < 7*24*time.Hour:
		days := int(duration.Hours() / 24)
		return fmt.Sprintf("%d day%s ago", days, plural(days))
	default:
		return t.Format("Jan 2, 2006")
	}
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func statusIcon(status planner.Status) string {
	switch status {
	case planner.StatusApplied:
		return "✅"
	case planner.StatusRolledBack:
		return "↩️"
	case StatusIncomplete:
		return "⚠️"
	default:
		return "📝"
	}
}
