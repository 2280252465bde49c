package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/Digital-Shane/reel-tidy/internal/media"
	"github.com/Digital-Shane/reel-tidy/internal/metrics"
	"github.com/Digital-Shane/reel-tidy/internal/queue"
	"github.com/Digital-Shane/reel-tidy/internal/report"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the conversion queue",
	}

	queueCmd.AddCommand(newQueueSubmitCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueCancelCommand(ctx))
	queueCmd.AddCommand(newQueueRunCommand(ctx))
	queueCmd.AddCommand(newQueuePurgeCommand(ctx))
	queueCmd.AddCommand(newQueueStatsCommand(ctx))

	return queueCmd
}

func newQueueSubmitCommand(ctx *commandContext) *cobra.Command {
	var identify bool

	cmd := &cobra.Command{
		Use:   "submit PATH...",
		Short: "Queue files for conversion to MP4",
		Long: `Submit queues each PATH for conversion. A path that already has a waiting or
running job is not queued twice. With --identify every path is looked up first
and the identity is stored on the job.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries := make([]media.RawEntry, 0, len(args))
			for _, arg := range args {
				path, err := filepath.Abs(arg)
				if err != nil {
					return err
				}
				entries = append(entries, media.RawEntry{Path: path})
			}

			identities := make(map[string]*media.ResolvedIdentity, len(entries))
			if identify {
				engine, err := ctx.newEngine(nil)
				if err != nil {
					return err
				}
				results, err := engine.Run(cmd.Context(), entries)
				if err != nil {
					return err
				}
				for _, res := range results {
					if res.Resolved() {
						identities[res.Entry.Path] = res.Identity
						continue
					}
					log.Warn().Str("path", res.Entry.Path).Str("reason", res.Reason).Msg("queued without identity")
				}
			}

			return ctx.withQueue(cmd.Context(), nil, func(q *queue.Queue) error {
				jobs := make([]*queue.Job, 0, len(entries))
				var errs []error
				for _, e := range entries {
					job, err := q.Submit(cmd.Context(), e.Path, identities[e.Path])
					if err != nil {
						errs = append(errs, err)
						continue
					}
					jobs = append(jobs, job)
				}
				if len(jobs) > 0 {
					fmt.Fprintln(cmd.OutOrStdout(), report.JobTable(report.JobsFrom(jobs), nil))
				}
				return errors.Join(errs...)
			})
		},
	}

	cmd.Flags().BoolVar(&identify, "identify", false, "Identify each file before queueing it")
	return cmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversion jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := make([]queue.Status, 0, len(statuses))
			for _, s := range statuses {
				st, err := queue.ParseStatus(s)
				if err != nil {
					return err
				}
				filter = append(filter, st)
			}
			return ctx.withQueue(cmd.Context(), nil, func(q *queue.Queue) error {
				jobs, err := q.List(cmd.Context(), filter...)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), report.JobTable(report.JobsFrom(jobs), nil))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Only list jobs in these statuses (queued, running, retrying, succeeded, failed)")
	return cmd
}

func newQueueCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel JOB_ID|PATH",
		Short: "Cancel a waiting or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]
			return ctx.withQueue(cmd.Context(), nil, func(q *queue.Queue) error {
				job, err := q.Cancel(cmd.Context(), target)
				if errors.Is(err, queue.ErrJobNotFound) {
					if abs, aerr := filepath.Abs(target); aerr == nil && abs != target {
						job, err = q.Cancel(cmd.Context(), abs)
					}
				}
				if err != nil {
					return err
				}
				if job.Status == queue.StatusRunning {
					fmt.Fprintf(cmd.OutOrStdout(), "Cancellation of job %s requested\n", job.ID)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s cancelled\n", job.ID)
				return nil
			})
		},
	}
}

func newQueueRunCommand(ctx *commandContext) *cobra.Command {
	var metricsAddr string
	var drain bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process queued conversions",
		Long: `Run starts the conversion workers and keeps processing jobs until interrupted.
Jobs left running by an earlier process are resumed first. With --drain it
exits once nothing is left to do. Only one process may run a queue at a time.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := metrics.NewManager()
			return ctx.withQueue(cmd.Context(), mgr, func(q *queue.Queue) error {
				if drain {
					if err := q.Drain(cmd.Context()); err != nil {
						return err
					}
					jobs, err := q.List(cmd.Context())
					if err != nil {
						return err
					}
					if len(jobs) > 0 {
						fmt.Fprintln(cmd.OutOrStdout(), report.JobTable(report.JobsFrom(jobs), nil))
					}
					return nil
				}

				g, gctx := errgroup.WithContext(cmd.Context())
				if metricsAddr != "" {
					g.Go(func() error { return mgr.Serve(gctx, metricsAddr) })
				}
				g.Go(func() error { return q.Run(gctx) })
				err := g.Wait()
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9464")
	cmd.Flags().BoolVar(&drain, "drain", false, "Exit once every due job is finished")
	return cmd
}

func newQueuePurgeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete finished jobs older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd.Context(), nil, func(q *queue.Queue) error {
				removed, err := q.Purge(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Purged %d jobs\n", removed)
				return nil
			})
		},
	}
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count jobs by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd.Context(), nil, func(q *queue.Queue) error {
				counts, err := q.Stats(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), report.StatsTable(counts))
				return nil
			})
		},
	}
}
