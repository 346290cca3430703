// ABOUTME: status and watch subcommands that report a session's run through the reconciler.
// ABOUTME: watch uses the TUI on a terminal and plain timestamped lines otherwise.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/2389-research/mdsession/client"
	"github.com/2389-research/mdsession/reconcile"
	"github.com/2389-research/mdsession/simconfig"
	"github.com/2389-research/mdsession/tui"
)

func newStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show a session's run status and progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printStatus(cmd.Context(), cmd.OutOrStdout(), root.client(), args[0])
		},
	}
}

// printStatus polls once and writes a short report.
func printStatus(ctx context.Context, w io.Writer, api *client.Client, id string) error {
	st, err := api.Status(ctx, id)
	if err != nil {
		return err
	}
	snap := reconcile.Snapshot{SessionID: id, Status: st, At: time.Now()}
	if st.Status.Active() || st.Status.Terminal() {
		if res, err := api.Progress(ctx, id); err == nil {
			snap.Progress = res
		}
	}

	view := reconcile.NewView()
	snap.Epoch = view.SwitchSession(id)
	view.ApplySnapshot(snap)
	d := view.Display()

	fmt.Fprintf(w, "Session:  %s\n", id)
	fmt.Fprintf(w, "Status:   %s\n", d.Status)
	if st.PID > 0 {
		fmt.Fprintf(w, "PID:      %d\n", st.PID)
	}
	if step := tui.StepText(d); step != "" {
		fmt.Fprintf(w, "Step:     %s\n", step)
	}
	if d.Progress != nil && d.Progress.NsPerDay > 0 {
		fmt.Fprintf(w, "Speed:    %.2f ns/day\n", d.Progress.NsPerDay)
	}
	if eta := tui.ETAText(d, sessionTimestep(ctx, api, id)); eta != "" {
		fmt.Fprintf(w, "ETA:      %s\n", eta)
	}
	if out := tui.OutcomeText(d); out != "" {
		fmt.Fprintf(w, "Outcome:  %s\n", out)
	}
	return nil
}

// sessionTimestep reads gromacs.dt from the session config, or 0.
func sessionTimestep(ctx context.Context, api *client.Client, id string) float64 {
	tree, err := api.Config(ctx, id)
	if err != nil {
		return 0
	}
	dt, _ := simconfig.Timestep(tree)
	return dt
}

type watchOptions struct {
	interval time.Duration
	plain    bool
}

func newWatchCmd(root *rootOptions) *cobra.Command {
	opts := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch <session-id>",
		Short: "Follow a session's run until it finishes",
		Long: `Poll a session's status and progress until the run leaves the active states.

On a terminal this opens an interactive view; press q to stop watching (the run
keeps going). Otherwise one line is printed per change.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]
			api := root.client()
			dt := sessionTimestep(ctx, api, id)

			out := cmd.OutOrStdout()
			if !opts.plain && isTerminal(out) {
				d, err := tui.Run(ctx, api, id, sessionLabel(ctx, api, id), opts.interval, dt, zap.NewNop())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: %s\n", id, tui.Describe(d, dt))
				return nil
			}

			logger, err := root.logger()
			if err != nil {
				return err
			}
			_, err = tui.PrintUpdates(ctx, out, api, id, opts.interval, dt, logger)
			return err
		},
	}
	cmd.Flags().DurationVar(&opts.interval, "interval", reconcile.DefaultPollInterval, "poll interval")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "print lines even on a terminal")
	return cmd
}

// sessionLabel prefers the nickname for display.
func sessionLabel(ctx context.Context, api *client.Client, id string) string {
	sessions, err := api.ListSessions(ctx, "")
	if err != nil {
		return id
	}
	for _, s := range sessions {
		if s.SessionID == id && s.Nickname != "" {
			return s.Nickname + " (" + id + ")"
		}
	}
	return id
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
