// ABOUTME: Lipgloss styles for the session watch view: panels, run status colors and log lines.
// ABOUTME: StyleForStatus maps a RunStatus to its display style.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/2389-research/mdsession/session/core"
)

var (
	BorderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62"))

	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170"))

	// Run status colors
	IdleStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	ActiveStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	FinishedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	FailedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	UnknownStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)

	LogTimestampStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	LogMessageStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))

	StatusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)

	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Width(10)
	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))
)

// StyleForStatus returns the display style for a run status. The empty
// status (nothing known yet) renders as unknown.
func StyleForStatus(status core.RunStatus) lipgloss.Style {
	switch status {
	case core.StatusIdle:
		return IdleStyle
	case core.StatusSettingUp, core.StatusRunning:
		return ActiveStyle
	case core.StatusFinished:
		return FinishedStyle
	case core.StatusFailed:
		return FailedStyle
	default:
		return UnknownStyle
	}
}

// statusLabel names a status for display.
func statusLabel(status core.RunStatus) string {
	if status == "" {
		return "waiting for status"
	}
	return string(status)
}
