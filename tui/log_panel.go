// ABOUTME: Scrollable history of run status changes built on the bubbles viewport.
// ABOUTME: One line per change, colored by the status it reports.
package tui

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"

	"github.com/2389-research/mdsession/session/core"
)

// LogEntry is one line in the history.
type LogEntry struct {
	At     time.Time
	Status core.RunStatus
	Text   string
}

// LogPanelModel keeps the most recent entries.
type LogPanelModel struct {
	entries  []LogEntry
	max      int
	viewport viewport.Model
	width    int
	height   int
}

// NewLogPanelModel returns a panel holding at most maxEntries lines;
// maxEntries <= 0 means 200.
func NewLogPanelModel(maxEntries int) LogPanelModel {
	if maxEntries <= 0 {
		maxEntries = 200
	}
	return LogPanelModel{
		entries:  make([]LogEntry, 0, maxEntries),
		max:      maxEntries,
		viewport: viewport.New(80, 6),
	}
}

// Append adds an entry, evicting the oldest at capacity.
func (m *LogPanelModel) Append(e LogEntry) {
	if len(m.entries) >= m.max {
		m.entries = m.entries[1:]
	}
	m.entries = append(m.entries, e)
	m.syncViewport()
}

// Len returns the number of entries.
func (m LogPanelModel) Len() int {
	return len(m.entries)
}

// SetSize sets the outer dimensions including the border.
func (m *LogPanelModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.viewport.Width = max(w-2, 1)
	m.viewport.Height = max(h-3, 1)
	m.syncViewport()
}

// View renders the panel.
func (m LogPanelModel) View() string {
	content := "No status changes yet"
	if len(m.entries) > 0 {
		content = m.viewport.View()
	}
	rendered := TitleStyle.Render("HISTORY") + "\n" + content
	if m.width <= 2 || m.height <= 2 {
		return rendered
	}
	return BorderStyle.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(rendered)
}

func (m *LogPanelModel) syncViewport() {
	lines := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		lines = append(lines, formatEntry(e))
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
	m.viewport.GotoBottom()
}

func formatEntry(e LogEntry) string {
	parts := []string{
		LogTimestampStyle.Render(e.At.Format("15:04:05")),
		StyleForStatus(e.Status).Render(statusLabel(e.Status)),
	}
	if e.Text != "" {
		parts = append(parts, LogMessageStyle.Render(e.Text))
	}
	return strings.Join(parts, " ")
}
