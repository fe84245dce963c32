package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xsync/xsync/internal/models"
	"github.com/xsync/xsync/internal/scheduler"
	"github.com/xsync/xsync/internal/service"
)

const timeLayout = time.RFC3339

// NewRunOnceCommand creates the run-once command.
func NewRunOnceCommand(opts *RootOptions) *cobra.Command {
	var username, since string

	cmd := &cobra.Command{
		Use:   "run-once <account>",
		Short: "Collect and store an account's interactions now",
		Long: `Collect the account's quotes, retweets, replies and mentions since the
given time (default: the configured ad-hoc lookback) and store them, merging
with rows already present.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(opts, cmd.OutOrStdout())

			var sinceTime *time.Time
			if since != "" {
				t, err := time.Parse(timeLayout, since)
				if err != nil {
					return f.fail(WrapExitError(ExitCommandError, "invalid --since", err))
				}
				sinceTime = &t
			}

			return opts.withBackend(cmd.Context(), func(b *Backend) error {
				stored, err := b.Service.RunOnce(cmd.Context(), args[0], username, sinceTime)
				if err != nil {
					return f.fail(classify(err))
				}
				return f.emit(stored, func(tw *tabwriter.Writer) {
					writeInteractions(tw, stored)
					fmt.Fprintf(tw, "\n%d interaction(s) stored\n", len(stored))
				})
			})
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "only keep interactions by this actor")
	cmd.Flags().StringVar(&since, "since", "", "lower bound, RFC 3339 (e.g. 2025-01-23T12:00:00Z)")
	return cmd
}

// NewInteractionsCommand creates the interactions command.
func NewInteractionsCommand(opts *RootOptions) *cobra.Command {
	var (
		q          models.InteractionQuery
		start, end string
	)

	cmd := &cobra.Command{
		Use:   "interactions <account>",
		Short: "List stored interactions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(opts, cmd.OutOrStdout())
			q.Account = args[0]

			for _, b := range []struct {
				raw  string
				dst  **time.Time
				name string
			}{{start, &q.Start, "--start"}, {end, &q.End, "--end"}} {
				if b.raw == "" {
					continue
				}
				t, err := time.Parse(timeLayout, b.raw)
				if err != nil {
					return f.fail(WrapExitError(ExitCommandError, "invalid "+b.name, err))
				}
				*b.dst = &t
			}

			return opts.withBackend(cmd.Context(), func(b *Backend) error {
				page, err := b.Service.ListInteractions(cmd.Context(), q)
				if err != nil {
					return f.fail(classify(err))
				}
				return f.emit(page, func(tw *tabwriter.Writer) {
					writeInteractions(tw, page.Interactions)
					p := page.Pagination
					fmt.Fprintf(tw, "\npage %d of %d (%d total)\n", p.CurrentPage, p.TotalPages, p.TotalItems)
				})
			})
		},
	}

	cmd.Flags().StringVarP(&q.Username, "username", "u", "", "filter by actor username")
	cmd.Flags().StringVar(&start, "start", "", "earliest interaction time, RFC 3339")
	cmd.Flags().StringVar(&end, "end", "", "latest interaction time, RFC 3339")
	cmd.Flags().IntVar(&q.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&q.PerPage, "per-page", service.DefaultPerPage, fmt.Sprintf("results per page (max %d)", service.MaxPerPage))
	return cmd
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <user-id>",
		Short: "Count a user's stored interactions per type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(opts, cmd.OutOrStdout())
			return opts.withBackend(cmd.Context(), func(b *Backend) error {
				stats, err := b.Service.InteractionStats(cmd.Context(), args[0])
				if err != nil {
					return f.fail(classify(err))
				}
				return f.emit(stats, func(tw *tabwriter.Writer) {
					fmt.Fprintln(tw, "TYPE\tCOUNT")
					for _, t := range models.Channels {
						fmt.Fprintf(tw, "%s\t%d\n", t, stats.ByType[t])
					}
					fmt.Fprintf(tw, "total\t%d\n", stats.Total)
				})
			})
		},
	}
}

// NewJobsCommand creates the jobs command.
func NewJobsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List persisted sync schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(opts, cmd.OutOrStdout())
			return opts.withBackend(cmd.Context(), func(b *Backend) error {
				jobs, err := b.Jobs.List(cmd.Context())
				if err != nil {
					return f.fail(WrapExitError(ExitFailure, "list jobs", err))
				}
				if jobs == nil {
					jobs = []models.SyncJob{}
				}
				return f.emit(jobs, func(tw *tabwriter.Writer) {
					fmt.Fprintln(tw, "ACCOUNT\tFREQUENCY\tSTART\tLAST RUN\tNEXT RUN")
					for _, j := range jobs {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
							j.Account, j.Frequency, j.BackfillStart.UTC().Format(timeLayout),
							formatOptional(j.LastRunAt), formatOptional(j.NextRunAt))
					}
				})
			})
		},
	}
}

// NewCheckFrequencyCommand creates the check-frequency command.
func NewCheckFrequencyCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-frequency <spec>",
		Short: `Validate a frequency such as "5 minutes"`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(opts, cmd.OutOrStdout())
			spec := strings.Join(args, " ")

			interval, err := scheduler.ParseFrequency(spec)
			if err != nil {
				return f.fail(classify(err))
			}

			result := struct {
				Frequency string `json:"frequency"`
				Seconds   int64  `json:"interval_seconds"`
			}{spec, int64(interval / time.Second)}
			return f.emit(result, func(tw *tabwriter.Writer) {
				fmt.Fprintf(tw, "%s\t%s\n", spec, interval)
			})
		},
	}
}

// classify maps caller mistakes to ExitCommandError and everything else to
// ExitFailure.
func classify(err error) error {
	if service.IsValidationError(err) {
		return WrapExitError(ExitCommandError, "invalid input", err)
	}
	return WrapExitError(ExitFailure, "operation failed", err)
}

func writeInteractions(tw *tabwriter.Writer, items []models.Interaction) {
	fmt.Fprintln(tw, "TIME\tTYPE\tUSER\tID\tPUBLISHED")
	for _, in := range items {
		fmt.Fprintf(tw, "%s\t%s\t@%s\t%s\t%t\n",
			in.InteractionTime.UTC().Format(timeLayout), in.Type, in.Username, in.InteractionID, in.Published)
	}
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(timeLayout)
}
