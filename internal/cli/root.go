// Package cli implements xsyncctl, the operator command line for the sync
// store and schedules.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags and the backend factory shared by commands.
type RootOptions struct {
	Format string // "json" | "text"
	Open   Opener
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the xsyncctl command tree. open builds the backend for
// commands that need the store.
func NewRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{Open: open}

	cmd := &cobra.Command{
		Use:   "xsyncctl",
		Short: "Inspect and drive interaction sync",
		Long:  "Operator tool for the interaction sync store: ad-hoc runs, stored interactions, stats and schedules.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewRunOnceCommand(opts))
	cmd.AddCommand(NewInteractionsCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewJobsCommand(opts))
	cmd.AddCommand(NewCheckFrequencyCommand(opts))

	return cmd
}
