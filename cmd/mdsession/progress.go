// ABOUTME: The progress subcommand parses an engine log offline, optionally following it as it grows.
// ABOUTME: Works without a server; --total and --dt enable percent and time-remaining output.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389-research/mdsession/progress"
	"github.com/2389-research/mdsession/reconcile"
	"github.com/2389-research/mdsession/session/core"
	"github.com/2389-research/mdsession/tui"
)

type progressOptions struct {
	total  int64
	dtPs   float64
	asJSON bool
	follow bool
}

func newProgressCmd(root *rootOptions) *cobra.Command {
	opts := &progressOptions{}
	cmd := &cobra.Command{
		Use:   "progress <md.log>",
		Short: "Report the latest step recorded in an engine log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if !opts.follow {
				return writeProgress(out, progress.Read(args[0]), opts)
			}
			ctx, stop := context.WithCancel(cmd.Context())
			defer stop()
			logger, err := root.logger()
			if err != nil {
				return err
			}
			w := progress.NewWatcher(args[0], 2*time.Second, logger)
			var werr error
			err = w.Run(ctx, func(s progress.Sample) {
				if werr == nil {
					werr = writeProgress(out, progress.Result{Available: true, Progress: &s}, opts)
				}
				if werr != nil {
					stop()
				}
			})
			if werr != nil {
				return werr
			}
			if err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&opts.total, "total", 0, "expected number of steps")
	cmd.Flags().Float64Var(&opts.dtPs, "dt", 0, "timestep in ps, for the time-remaining estimate")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the parsed result as JSON")
	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "keep reporting as the log grows")
	return cmd
}

func writeProgress(w io.Writer, res progress.Result, opts *progressOptions) error {
	if opts.asJSON {
		return json.NewEncoder(w).Encode(res)
	}
	if !res.Available {
		_, err := fmt.Fprintln(w, "No progress recorded yet.")
		return err
	}
	d := reconcile.Display{
		Status:   core.StatusRunning,
		Progress: res.Progress,
		Total:    opts.total,
		Percent:  reconcile.Percent(res.Progress.Step, opts.total, core.StatusRunning),
	}
	line := fmt.Sprintf("step %s  time %.2f ps", tui.StepText(d), res.Progress.TimePs)
	if res.Progress.NsPerDay > 0 {
		line += fmt.Sprintf("  %.2f ns/day", res.Progress.NsPerDay)
	}
	if eta := tui.ETAText(d, opts.dtPs); eta != "" {
		line += "  eta " + eta
	}
	_, err := fmt.Fprintln(w, line)
	return err
}
