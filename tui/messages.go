// ABOUTME: Bubble Tea message types and commands that bridge a reconcile.Poller into the update loop.
// ABOUTME: Each snapshot arrives as a SnapshotMsg; PollerDoneMsg follows once polling stops.
package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389-research/mdsession/reconcile"
)

// SnapshotMsg wraps one poll result.
type SnapshotMsg struct {
	Snapshot reconcile.Snapshot
}

// PollerDoneMsg signals that the poller exited, normally on a terminal status.
type PollerDoneMsg struct{}

// WaitForSnapshot returns a command that blocks until the next snapshot.
func WaitForSnapshot(updates <-chan reconcile.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-updates
		if !ok {
			return PollerDoneMsg{}
		}
		return SnapshotMsg{Snapshot: snap}
	}
}

// TickMsg refreshes time-based text such as elapsed watch time.
type TickMsg time.Time

// TickCmd schedules the next TickMsg.
func TickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
