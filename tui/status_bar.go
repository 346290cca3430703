// ABOUTME: Single-line status bar for the bottom of the watch view.
// ABOUTME: Shows the session label, time watched, time since the last poll and key help.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// StatusBarModel displays watch status in a single line.
type StatusBarModel struct {
	label     string
	startTime time.Time
	lastPoll  time.Time
	width     int
}

// NewStatusBarModel returns a bar for the given session label.
func NewStatusBarModel(label string) StatusBarModel {
	return StatusBarModel{label: label}
}

// Start records when watching began.
func (m *StatusBarModel) Start(now time.Time) {
	m.startTime = now
}

// SetLastPoll records when the last snapshot arrived.
func (m *StatusBarModel) SetLastPoll(at time.Time) {
	m.lastPoll = at
}

// SetWidth sets the bar width.
func (m *StatusBarModel) SetWidth(w int) {
	m.width = w
}

// formatElapsed renders "12s" under a minute, "2m30s" otherwise.
func formatElapsed(d time.Duration) string {
	d = d.Truncate(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) - minutes*60
	return fmt.Sprintf("%dm%ds", minutes, seconds)
}

// View renders the bar relative to now.
func (m StatusBarModel) View(now time.Time) string {
	watched := "0s"
	if !m.startTime.IsZero() {
		watched = formatElapsed(now.Sub(m.startTime))
	}
	polled := "never"
	if !m.lastPoll.IsZero() {
		polled = formatElapsed(now.Sub(m.lastPoll)) + " ago"
	}
	content := fmt.Sprintf("Session: %s | Watching: %s | Last poll: %s | q quit", m.label, watched, polled)
	if m.width <= 0 {
		return StatusBarStyle.Render(content)
	}
	return lipgloss.PlaceHorizontal(m.width, lipgloss.Left, StatusBarStyle.Width(m.width).Render(content))
}
