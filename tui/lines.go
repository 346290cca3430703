// ABOUTME: Line-oriented watch output for terminals without a TTY, such as CI logs and pipes.
// ABOUTME: Prints a timestamped line whenever the reconciled status or step changes.
package tui

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/2389-research/mdsession/reconcile"
)

// PrintUpdates polls sessionID and writes one line per change to w until
// the run leaves the active states or ctx is cancelled.
func PrintUpdates(ctx context.Context, w io.Writer, src reconcile.Source, sessionID string, interval time.Duration, dtPs float64, logger *zap.Logger) (reconcile.Display, error) {
	view := reconcile.NewView()
	epoch := view.SwitchSession(sessionID)
	poller := reconcile.StartPoller(ctx, src, sessionID, epoch, interval, logger)
	defer poller.Stop()

	var last string
	var lastErr error
	for snap := range poller.Updates() {
		if snap.Err != nil {
			if lastErr == nil || lastErr.Error() != snap.Err.Error() {
				if _, err := fmt.Fprintf(w, "%s poll failed: %v\n", snap.At.Format("15:04:05"), snap.Err); err != nil {
					return view.Display(), err
				}
			}
			lastErr = snap.Err
			continue
		}
		lastErr = nil
		if !view.ApplySnapshot(snap) {
			continue
		}
		line := Describe(view.Display(), dtPs)
		if line == last {
			continue
		}
		last = line
		if _, err := fmt.Fprintf(w, "%s %s\n", snap.At.Format("15:04:05"), line); err != nil {
			return view.Display(), err
		}
	}
	if err := ctx.Err(); err != nil {
		return view.Display(), err
	}
	return view.Display(), nil
}
