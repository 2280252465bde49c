package cmd

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Digital-Shane/reel-tidy/internal/media"
	"github.com/Digital-Shane/reel-tidy/internal/provider/local"
	"github.com/Digital-Shane/reel-tidy/internal/report"
	"github.com/spf13/cobra"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	var fast bool

	cmd := &cobra.Command{
		Use:   "scan DIR",
		Short: "List media files and the hints extracted from their names",
		Long: `Scan walks DIR and prints what the extractor reads from every media file name.
No metadata source is contacted and nothing is renamed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			res, err := ctx.scan(cmd, root, fast)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(res.Entries) == 0 {
				fmt.Fprintln(out, "No media files found")
			} else {
				x := local.NewExtractor()
				rows := make([][]string, 0, len(res.Entries))
				for _, e := range res.Entries {
					rows = append(rows, hintRow(root, e, x.Extract(filepath.Base(e.Path))))
				}
				fmt.Fprintln(out, report.Table(
					[]string{"File", "Kind", "Title", "Year", "Episode", "Edition", "Group", "Tags"}, rows))
			}
			if len(res.Skipped) > 0 {
				rows := make([][]string, 0, len(res.Skipped))
				for _, s := range res.Skipped {
					rows = append(rows, []string{relPath(root, s.Path), string(s.Reason)})
				}
				fmt.Fprintln(out, report.Table([]string{"Skipped", "Reason"}, rows))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&fast, "fast", false, "Skip files already renamed by an earlier apply")
	return cmd
}

// scan walks root, skipping the conversion safe folder and, when fast is
// set, every file a journaled rename already produced.
func (c *commandContext) scan(cmd *cobra.Command, root string, fast bool) (media.ScanResult, error) {
	opts := media.ScanOptions{}
	if c.config.MoveOriginalTo != "" {
		opts.IgnoreDirs = []string{c.config.MoveOriginalTo}
	}
	if fast {
		targets, err := c.journal().Targets()
		if err != nil {
			return media.ScanResult{}, fmt.Errorf("failed to read journals: %w", err)
		}
		opts.Done = func(path string) bool { return targets[filepath.Clean(path)] }
	}
	return media.Scan(cmd.Context(), root, opts)
}

func hintRow(root string, e media.RawEntry, h media.Hints) []string {
	episode := ""
	if h.HasEpisode {
		episode = fmt.Sprintf("S%02dE%02d", h.Season, h.Episode)
	}
	year := ""
	if h.Year > 0 {
		year = strconv.Itoa(h.Year)
	}
	return []string{
		relPath(root, e.Path), string(h.Kind), h.Title, year, episode, h.Edition, h.Group, strings.Join(h.Tags, " "),
	}
}

func relPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}
