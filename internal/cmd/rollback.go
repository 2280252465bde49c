package cmd

import (
	"fmt"

	"github.com/Digital-Shane/reel-tidy/internal/executor"
	"github.com/Digital-Shane/reel-tidy/internal/tui/rollback"
	"github.com/Digital-Shane/reel-tidy/internal/tui/theme"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

func newRollbackCommand(ctx *commandContext) *cobra.Command {
	var interactive bool

	cmd := &cobra.Command{
		Use:   "rollback [PLAN_ID]",
		Short: "Undo the renames of an applied plan",
		Long: `Rollback reverts every outstanding rename of a journaled plan, newest first.
Without a PLAN_ID the most recent plan with outstanding renames is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			x := executor.New(ctx.journal())
			out := cmd.OutOrStdout()

			if interactive {
				summaries, err := ctx.journal().Summaries()
				if err != nil {
					return fmt.Errorf("failed to read journals: %w", err)
				}
				if len(summaries) == 0 {
					fmt.Fprintln(out, "No journaled plans found to roll back.")
					return nil
				}
				model := rollback.New(rollback.NewTree(summaries), x.Rollback, rollback.WithTheme(theme.Default()))
				program := tea.NewProgram(model, tea.WithContext(cmd.Context()), tea.WithAltScreen())
				if _, err := program.Run(); err != nil && cmd.Context().Err() == nil {
					return err
				}
				return model.Err()
			}

			var (
				res *executor.RollbackResult
				err error
			)
			if len(args) == 1 {
				res, err = x.Rollback(cmd.Context(), args[0])
			} else {
				res, err = x.RollbackLatest(cmd.Context())
			}
			if res != nil {
				fmt.Fprint(out, res.Describe())
				fmt.Fprintf(out, "Plan %s: %d operations reverted, %d failed\n", res.PlanID, len(res.Reverted), len(res.Errors))
			}
			return err
		},
	}

	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Browse journaled plans and pick one to roll back")
	return cmd
}
