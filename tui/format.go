// ABOUTME: Plain-text descriptions of a reconciled Display shared by the TUI and line output.
// ABOUTME: Formats step counts, throughput, time remaining and exit information.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/2389-research/mdsession/reconcile"
)

// StepText renders "2500/50000 (5.0%)", or just the step when the total is
// unknown, or "" without progress.
func StepText(d reconcile.Display) string {
	if d.Progress == nil {
		return ""
	}
	if d.Total <= 0 {
		return fmt.Sprintf("%d", d.Progress.Step)
	}
	return fmt.Sprintf("%d/%d (%.1f%%)", d.Progress.Step, d.Total, d.Percent)
}

// ETAText estimates the time left, or "" when it cannot be computed.
func ETAText(d reconcile.Display, dtPs float64) string {
	if d.Progress == nil || !d.Status.Active() {
		return ""
	}
	eta, ok := reconcile.ETA(d.Progress.Step, d.Total, dtPs, d.Progress.NsPerDay)
	if !ok {
		return ""
	}
	return formatDuration(eta)
}

// formatDuration renders "45s", "12m5s" or "3h20m".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// OutcomeText describes how a run ended: exit code and message, if any.
func OutcomeText(d reconcile.Display) string {
	var parts []string
	if d.ExitCode != nil {
		parts = append(parts, fmt.Sprintf("exit %d", *d.ExitCode))
	}
	if d.Message != "" {
		parts = append(parts, d.Message)
	}
	return strings.Join(parts, ": ")
}

// Describe renders a one-line summary of d.
func Describe(d reconcile.Display, dtPs float64) string {
	parts := []string{statusLabel(d.Status)}
	if step := StepText(d); step != "" {
		parts = append(parts, "step "+step)
	}
	if d.Progress != nil && d.Progress.NsPerDay > 0 {
		parts = append(parts, fmt.Sprintf("%.2f ns/day", d.Progress.NsPerDay))
	}
	if eta := ETAText(d, dtPs); eta != "" {
		parts = append(parts, "eta "+eta)
	}
	if out := OutcomeText(d); out != "" {
		parts = append(parts, out)
	}
	return strings.Join(parts, "  ")
}
