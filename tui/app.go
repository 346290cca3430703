// ABOUTME: Top-level Bubble Tea WatchModel that follows one session's run through a reconcile.Poller.
// ABOUTME: Renders status, a progress bar, run details and a history of status changes.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	progressbar "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/2389-research/mdsession/reconcile"
	"github.com/2389-research/mdsession/session/core"
)

// WatchModel is the Bubble Tea model for `mdsession watch`.
type WatchModel struct {
	view    *reconcile.View
	updates <-chan reconcile.Snapshot
	label   string
	dtPs    float64

	spinner   spinner.Model
	bar       progressbar.Model
	log       LogPanelModel
	statusBar StatusBarModel

	lastStatus core.RunStatus
	seen       bool
	pollErr    error
	done       bool
	now        time.Time
	width      int
	height     int
}

// NewWatchModel builds a model reading snapshots from updates into view.
// dtPs is the timestep used for the time-remaining estimate; 0 hides it.
func NewWatchModel(view *reconcile.View, updates <-chan reconcile.Snapshot, label string, dtPs float64) WatchModel {
	now := time.Now()
	sb := NewStatusBarModel(label)
	sb.Start(now)
	return WatchModel{
		view:      view,
		updates:   updates,
		label:     label,
		dtPs:      dtPs,
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(ActiveStyle)),
		bar:       progressbar.New(progressbar.WithDefaultGradient(), progressbar.WithWidth(40)),
		log:       NewLogPanelModel(200),
		statusBar: sb,
		now:       now,
	}
}

// Display returns the current reconciled state.
func (m WatchModel) Display() reconcile.Display {
	return m.view.Display()
}

// Done reports whether polling has finished.
func (m WatchModel) Done() bool {
	return m.done
}

// Init implements tea.Model.
func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(
		WaitForSnapshot(m.updates),
		m.spinner.Tick,
		TickCmd(time.Second),
	)
}

// Update implements tea.Model.
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleWindowSize(msg)

	case SnapshotMsg:
		return m.handleSnapshot(msg)

	case PollerDoneMsg:
		m.done = true
		return m, tea.Quit

	case TickMsg:
		m.now = time.Time(msg)
		if m.done {
			return m, nil
		}
		return m, TickCmd(time.Second)

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m WatchModel) handleWindowSize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height
	m.bar.Width = max(min(msg.Width-16, 60), 10)
	return m, nil
}

// handleSnapshot folds one poll into the view and logs status changes.
func (m WatchModel) handleSnapshot(msg SnapshotMsg) (tea.Model, tea.Cmd) {
	snap := msg.Snapshot
	m.statusBar.SetLastPoll(snap.At)
	if snap.Err != nil {
		if m.pollErr == nil || m.pollErr.Error() != snap.Err.Error() {
			m.log.Append(LogEntry{At: snap.At, Status: m.lastStatus, Text: "poll failed: " + snap.Err.Error()})
		}
		m.pollErr = snap.Err
		return m, WaitForSnapshot(m.updates)
	}
	m.pollErr = nil
	if !m.view.ApplySnapshot(snap) {
		return m, WaitForSnapshot(m.updates)
	}
	d := m.view.Display()
	if !m.seen || d.Status != m.lastStatus {
		m.log.Append(LogEntry{At: snap.At, Status: d.Status, Text: OutcomeText(d)})
		m.lastStatus = d.Status
		m.seen = true
	}
	return m, WaitForSnapshot(m.updates)
}

// View implements tea.Model.
func (m WatchModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}
	if m.width < 40 || m.height < 10 {
		return fmt.Sprintf("Terminal too small (%dx%d). Minimum: 40x10.", m.width, m.height)
	}

	d := m.view.Display()

	var b strings.Builder
	b.WriteString(TitleStyle.Render("mdsession watch") + "  " + ValueStyle.Render(m.label))
	b.WriteString("\n\n")
	b.WriteString(m.statusLine(d))
	b.WriteString("\n")
	b.WriteString(m.bar.ViewAs(d.Percent / 100))
	b.WriteString("\n\n")
	details := m.detailLines(d)
	for _, line := range details {
		b.WriteString(line)
		b.WriteString("\n")
	}

	statusBarHeight := 1
	used := 4 + len(details) + statusBarHeight
	m.log.SetSize(m.width, max(m.height-used, 3))
	m.statusBar.SetWidth(m.width)

	b.WriteString(m.log.View())
	b.WriteString("\n")
	b.WriteString(m.statusBar.View(m.now))
	return b.String()
}

func (m WatchModel) statusLine(d reconcile.Display) string {
	status := StyleForStatus(d.Status).Render(statusLabel(d.Status))
	prefix := "  "
	if !m.done && (d.Pending || d.Status.Active()) {
		prefix = m.spinner.View() + " "
	}
	line := prefix + status
	if m.pollErr != nil {
		line += "  " + FailedStyle.Render("(server unreachable)")
	}
	return line
}

func (m WatchModel) detailLines(d reconcile.Display) []string {
	row := func(label, value string) string {
		return LabelStyle.Render(label) + ValueStyle.Render(value)
	}
	var lines []string
	if step := StepText(d); step != "" {
		lines = append(lines, row("Step", step))
	}
	if d.Progress != nil {
		lines = append(lines, row("Time", fmt.Sprintf("%.2f ps", d.Progress.TimePs)))
		if d.Progress.NsPerDay > 0 {
			lines = append(lines, row("Speed", fmt.Sprintf("%.2f ns/day", d.Progress.NsPerDay)))
		}
	}
	if eta := ETAText(d, m.dtPs); eta != "" {
		lines = append(lines, row("ETA", eta))
	}
	if out := OutcomeText(d); out != "" {
		lines = append(lines, row("Outcome", out))
	}
	return lines
}

// Run watches one session until its run leaves the active states or the
// user quits, and returns the last reconciled state.
func Run(ctx context.Context, src reconcile.Source, sessionID, label string, interval time.Duration, dtPs float64, logger *zap.Logger) (reconcile.Display, error) {
	view := reconcile.NewView()
	epoch := view.SwitchSession(sessionID)
	poller := reconcile.StartPoller(ctx, src, sessionID, epoch, interval, logger)
	defer poller.Stop()

	model := NewWatchModel(view, poller.Updates(), label, dtPs)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil && !(errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil) {
		return view.Display(), fmt.Errorf("watch %s: %w", sessionID, err)
	}
	if wm, ok := final.(WatchModel); ok {
		return wm.Display(), nil
	}
	return view.Display(), nil
}
