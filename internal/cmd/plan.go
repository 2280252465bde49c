package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Digital-Shane/reel-tidy/internal/core"
	"github.com/Digital-Shane/reel-tidy/internal/executor"
	"github.com/Digital-Shane/reel-tidy/internal/media"
	"github.com/Digital-Shane/reel-tidy/internal/metrics"
	"github.com/Digital-Shane/reel-tidy/internal/planner"
	"github.com/Digital-Shane/reel-tidy/internal/provider/ffprobe"
	"github.com/Digital-Shane/reel-tidy/internal/queue"
	"github.com/Digital-Shane/reel-tidy/internal/report"
	"github.com/Digital-Shane/reel-tidy/internal/resolve"
	"github.com/Digital-Shane/reel-tidy/internal/tui/progress"
	"github.com/Digital-Shane/reel-tidy/internal/tui/theme"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type pipelineFlags struct {
	fast        bool
	interactive bool
	jsonOutput  bool
	metricsFile string
}

func (f *pipelineFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.fast, "fast", false, "Skip files already renamed by an earlier apply")
	cmd.Flags().BoolVarP(&f.interactive, "interactive", "i", false, "Show identification progress and resolve unidentified files by hand")
	cmd.Flags().BoolVar(&f.jsonOutput, "json", false, "Print the report as JSON")
	cmd.Flags().StringVar(&f.metricsFile, "metrics-textfile", "", "Write lookup metrics to this file when done")
}

func newPlanCommand(ctx *commandContext) *cobra.Command {
	var flags pipelineFlags

	cmd := &cobra.Command{
		Use:   "plan DIR",
		Short: "Identify media files and show the renames that apply would make",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, _, err := ctx.buildPlan(cmd, args[0], flags)
			if rep != nil {
				rep.Finish(ctx.now())
				if werr := writeReport(cmd, rep, flags.jsonOutput); werr != nil && err == nil {
					err = werr
				}
			}
			return err
		},
	}
	flags.register(cmd)
	return cmd
}

func newApplyCommand(ctx *commandContext) *cobra.Command {
	var flags pipelineFlags
	var convert bool

	cmd := &cobra.Command{
		Use:   "apply DIR",
		Short: "Identify media files and rename them",
		Long: `Apply identifies every media file under DIR, builds a rename plan and carries
it out when it validates. Every rename is journaled; a failure part way reverts
the renames already made. Use 'reel-tidy rollback' to undo a finished apply.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, plan, err := ctx.buildPlan(cmd, args[0], flags)
			if err == nil {
				err = ctx.applyPlan(cmd, rep, plan, convert)
			}
			if rep != nil {
				rep.Finish(ctx.now())
				if werr := writeReport(cmd, rep, flags.jsonOutput); werr != nil && err == nil {
					err = werr
				}
			}
			return err
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&convert, "convert", false, "Queue renamed files for conversion to MP4")
	return cmd
}

// buildPlan scans dir, identifies what it finds and plans the renames. The
// report is returned even when a later stage fails.
func (c *commandContext) buildPlan(cmd *cobra.Command, dir string, flags pipelineFlags) (*report.Report, *planner.Plan, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, nil, err
	}
	scanned, err := c.scan(cmd, root, flags.fast)
	if err != nil {
		return nil, nil, err
	}

	rep := report.New(uuid.NewString(), root, c.now())
	rep.AddScan(scanned)

	var mgr *metrics.Manager
	var observer resolve.LookupObserver
	if flags.metricsFile != "" {
		mgr = metrics.NewManager()
		observer = mgr
	}
	engine, err := c.newEngine(observer)
	if err != nil {
		return rep, nil, err
	}

	results, err := c.identify(cmd, engine, scanned.Entries, flags.interactive)
	rep.AddResults(results)
	if mgr != nil {
		if werr := mgr.WriteTextfile(flags.metricsFile); werr != nil {
			log.Warn().Err(werr).Str("path", flags.metricsFile).Msg("failed to write metrics")
		}
	}
	if err != nil {
		rep.AddError(err)
		return rep, nil, err
	}

	inputs := make([]planner.Input, 0, len(results))
	for _, res := range results {
		if res.Resolved() {
			inputs = append(inputs, planner.Input{Entry: res.Entry, Identity: *res.Identity})
		}
	}
	libraryRoot := root
	if c.config.LibraryRoot != "" {
		libraryRoot = c.config.LibraryRoot
	}
	p := planner.New(planner.Options{
		Root:          libraryRoot,
		MaxNameLength: c.config.MaxFilenameLength,
		Prober:        ffprobe.New(),
		Now:           c.now,
	})
	plan, err := p.Build(cmd.Context(), inputs)
	if err != nil {
		rep.AddError(err)
		return rep, nil, err
	}
	rep.AddPlan(plan)
	log.Info().Str("plan", plan.ID).Str("status", string(plan.Status)).
		Int("entries", len(plan.Entries)).Int("conflicts", len(plan.Conflicts)).Msg("plan built")
	return rep, plan, nil
}

func (c *commandContext) identify(cmd *cobra.Command, engine *core.Engine, entries []media.RawEntry, interactive bool) ([]core.Result, error) {
	if !interactive {
		return engine.Run(cmd.Context(), entries)
	}

	model := progress.NewIdentifyModel(engine, entries, theme.Default(), progress.WithManualOverride(true))
	program := tea.NewProgram(model,
		tea.WithContext(cmd.Context()),
		tea.WithOutput(cmd.ErrOrStderr()),
		tea.WithAltScreen(),
	)
	_, err := program.Run()
	if err != nil && cmd.Context().Err() == nil {
		return nil, fmt.Errorf("identification view failed: %w", err)
	}
	if model.Canceled() || cmd.Context().Err() != nil {
		return model.Results(), context.Canceled
	}
	return model.Results(), nil
}

// applyPlan carries out a validated plan and optionally queues conversions
// for the renamed files.
func (c *commandContext) applyPlan(cmd *cobra.Command, rep *report.Report, plan *planner.Plan, convert bool) error {
	if plan.Status != planner.StatusValidated {
		err := plan.Err()
		if err == nil {
			err = fmt.Errorf("plan %s is %s", plan.ID, plan.Status)
		}
		return fmt.Errorf("nothing was renamed: %w", err)
	}

	x := executor.New(c.journal(), executor.WithArgs(os.Args))
	res, err := x.Apply(cmd.Context(), plan)
	if err != nil {
		rep.AddApplyError(err)
		return err
	}
	rep.AddPlan(plan)
	if !convert || len(res.Applied) == 0 {
		return nil
	}

	return c.withQueue(cmd.Context(), nil, func(q *queue.Queue) error {
		jobs := make([]*queue.Job, 0, len(res.Applied))
		for _, e := range res.Applied {
			identity := e.Identity
			job, err := q.Submit(cmd.Context(), e.Target, &identity)
			if err != nil {
				rep.AddError(err)
				continue
			}
			jobs = append(jobs, job)
		}
		rep.AddJobs(jobs)
		log.Info().Int("jobs", len(jobs)).Msg("conversions queued; run 'reel-tidy queue run' to process them")
		return nil
	})
}

func writeReport(cmd *cobra.Command, rep *report.Report, asJSON bool) error {
	if asJSON {
		return rep.WriteJSON(cmd.OutOrStdout())
	}
	return rep.Render(cmd.OutOrStdout())
}
