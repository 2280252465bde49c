package report

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Digital-Shane/reel-tidy/internal/queue"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Render writes the report as tables. Paths below the report root are shown
// relative to it.
func (r *Report) Render(w io.Writer) error {
	var b strings.Builder
	c := r.Counts()
	fmt.Fprintf(&b, "Run %s", r.RunID)
	if r.PlanID != "" {
		fmt.Fprintf(&b, "  plan %s (%s)", r.PlanID, r.PlanStatus)
	}
	fmt.Fprintf(&b, "\nresolved %d  unresolved %d  skipped %d  renamed %d  unchanged %d  conflicts %d\n",
		c.Resolved, c.Unresolved, c.Skipped, c.Renamed, c.Unchanged, c.Conflicts)

	if len(r.Renames) > 0 {
		rows := make([][]string, 0, len(r.Renames))
		for _, rn := range r.Renames {
			target := r.rel(rn.Target)
			if rn.State == RenameUnchanged {
				target = "="
			}
			rows = append(rows, []string{string(rn.State), r.rel(rn.Source), target, rn.Error})
		}
		section(&b, "Renames", []string{"State", "Source", "Target", "Error"}, rows, nil)
	}
	if len(r.Conflicts) > 0 {
		rows := make([][]string, 0, len(r.Conflicts))
		for _, cf := range r.Conflicts {
			sources := make([]string, len(cf.Sources))
			for i, s := range cf.Sources {
				sources[i] = r.rel(s)
			}
			rows = append(rows, []string{r.rel(cf.Target), strings.Join(sources, "\n")})
		}
		section(&b, "Conflicts", []string{"Target", "Claimed by"}, rows, nil)
	}
	if len(r.Unresolved) > 0 {
		rows := make([][]string, 0, len(r.Unresolved))
		for _, u := range r.Unresolved {
			reason := u.Reason
			if u.Error != "" {
				reason += ": " + u.Error
			}
			rows = append(rows, []string{r.rel(u.Path), u.Title, yearString(u.Year), reason, strings.Join(u.Candidates, "\n")})
		}
		section(&b, "Unresolved", []string{"File", "Title", "Year", "Reason", "Candidates"}, rows, nil)
	}
	if len(r.Skipped) > 0 {
		rows := make([][]string, 0, len(r.Skipped))
		for _, s := range r.Skipped {
			rows = append(rows, []string{r.rel(s.Path), string(s.Reason)})
		}
		section(&b, "Skipped", []string{"File", "Reason"}, rows, nil)
	}
	if len(r.Jobs) > 0 {
		b.WriteString("\nConversion jobs\n")
		b.WriteString(JobTable(r.Jobs, r.rel))
		b.WriteString("\n")
	}
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "\nerror: %s\n", e)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// JobTable renders jobs. rel shortens paths and may be nil.
func JobTable(jobs []Job, rel func(string) string) string {
	if rel == nil {
		rel = func(p string) string { return p }
	}
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		review := ""
		if j.NeedsReview {
			review = j.Review
		}
		quality := ""
		if j.Quality > 0 {
			quality = strconv.Itoa(j.Quality)
		}
		rows = append(rows, []string{
			j.ID, rel(j.Source), string(j.Status), string(j.Outcome),
			strconv.Itoa(j.Attempts), quality, j.LastError, review,
		})
	}
	return renderTable(
		[]string{"ID", "Source", "Status", "Outcome", "Attempts", "Quality", "Last error", "Review"},
		rows,
		[]text.Align{text.AlignLeft, text.AlignLeft, text.AlignLeft, text.AlignLeft, text.AlignRight, text.AlignRight},
	)
}

// JobsFrom converts queue jobs for rendering.
func JobsFrom(jobs []*queue.Job) []Job {
	r := &Report{}
	r.AddJobs(jobs)
	return r.Jobs
}

// StatsTable renders job counts in lifecycle order.
func StatsTable(counts map[queue.Status]int) string {
	rows := make([][]string, 0, len(counts))
	for _, st := range queue.Statuses() {
		rows = append(rows, []string{string(st), strconv.Itoa(counts[st])})
	}
	return renderTable([]string{"Status", "Jobs"}, rows, []text.Align{text.AlignLeft, text.AlignRight})
}

func section(b *strings.Builder, title string, headers []string, rows [][]string, aligns []text.Align) {
	fmt.Fprintf(b, "\n%s\n", title)
	b.WriteString(renderTable(headers, rows, aligns))
	b.WriteString("\n")
}

func renderTable(headers []string, rows [][]string, aligns []text.Align) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range headers {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) {
			align = aligns[i]
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

func (r *Report) rel(path string) string {
	if r.Root == "" || path == "" {
		return path
	}
	rel, err := filepath.Rel(r.Root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

func yearString(y int) string {
	if y <= 0 {
		return ""
	}
	return strconv.Itoa(y)
}

// Table renders arbitrary rows in the report's table style.
func Table(headers []string, rows [][]string) string {
	return renderTable(headers, rows, nil)
}
