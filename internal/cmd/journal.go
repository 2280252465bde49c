package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/Digital-Shane/reel-tidy/internal/report"
	"github.com/spf13/cobra"
)

func newJournalCommand(ctx *commandContext) *cobra.Command {
	journalCmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the rename journal",
	}
	journalCmd.AddCommand(newJournalListCommand(ctx))
	journalCmd.AddCommand(newJournalExportCommand(ctx))
	return journalCmd
}

func newJournalListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List journaled plans, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			summaries, err := ctx.journal().Summaries()
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No journaled plans")
				return nil
			}
			rows := make([][]string, 0, len(summaries))
			for _, s := range summaries {
				rows = append(rows, []string{
					s.History.PlanID, string(s.History.Status), s.RelativeTime,
					strconv.Itoa(s.Renames), s.History.Root,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.Table([]string{"Plan", "Status", "When", "Renames", "Root"}, rows))
			return nil
		},
	}
}

func newJournalExportCommand(ctx *commandContext) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export outstanding renames as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			var w io.Writer = cmd.OutOrStdout()
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("failed to create export file: %w", err)
				}
				defer f.Close()
				w = f
			}
			n, err := ctx.journal().ExportCSV(w)
			if err != nil {
				return err
			}
			if outPath != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d renames to %s\n", n, outPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write to this file instead of stdout")
	return cmd
}
