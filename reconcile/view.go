// ABOUTME: Client-side view cache merging polls, pushed events and session switches.
// ABOUTME: The first poll after a switch is authoritative; until then only a cached terminal status is shown.
package reconcile

import (
	"sync"

	"github.com/2389-research/mdsession/progress"
	"github.com/2389-research/mdsession/session/core"
	"github.com/2389-research/mdsession/stream"
)

// Display is what a client renders for the current session.
type Display struct {
	SessionID string
	// Status is empty while waiting for the first poll with nothing
	// trustworthy cached.
	Status   core.RunStatus
	Pending  bool
	ExitCode *int
	Message  string
	Progress *progress.Sample
	Total    int64
	Percent  float64
}

type entry struct {
	status   core.RunStatus
	exitCode *int
	message  string
	progress *progress.Sample
	total    int64
	polled   bool
}

// View holds the last known state per session. Safe for concurrent use.
type View struct {
	mu      sync.Mutex
	entries map[string]*entry
	current string
	epoch   uint64
}

// NewView returns an empty view.
func NewView() *View {
	return &View{entries: make(map[string]*entry)}
}

func (v *View) entry(id string) *entry {
	e, ok := v.entries[id]
	if !ok {
		e = &entry{}
		v.entries[id] = e
	}
	return e
}

// SwitchSession makes id current and returns the epoch that polls for this
// switch must carry. The cached state for id becomes provisional.
func (v *View) SwitchSession(id string) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.epoch++
	v.current = id
	v.entry(id).polled = false
	return v.epoch
}

// Current returns the current session id and epoch.
func (v *View) Current() (string, uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current, v.epoch
}

// ApplySnapshot records a poll result. It reports false when the snapshot is
// stale (an older epoch for the current session) or failed.
func (v *View) ApplySnapshot(s Snapshot) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if s.Err != nil {
		return false
	}
	if s.SessionID == v.current && s.Epoch != v.epoch {
		return false
	}
	e := v.entry(s.SessionID)
	e.status = s.Status.Status
	e.exitCode = s.Status.ExitCode
	e.message = s.Status.Message
	if s.Status.ExpectedSteps > 0 {
		e.total = s.Status.ExpectedSteps
	}
	if s.Progress.Available {
		e.progress = s.Progress.Progress
	}
	e.polled = true
	return true
}

// ApplyEvent folds pushed simulation events into the view. Other event
// kinds are ignored.
func (v *View) ApplyEvent(sessionID string, ev stream.Event) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e := v.entry(sessionID)
	switch ev.Type {
	case stream.KindSimProgress:
		e.progress = &progress.Sample{Step: ev.Step, TimePs: ev.TimePs, NsPerDay: ev.NsPerDay}
		if ev.TotalSteps > 0 {
			e.total = ev.TotalSteps
		}
	case stream.KindSimStatus:
		st, err := core.ParseRunStatus(ev.Status)
		if err != nil {
			return
		}
		e.status = st
		e.exitCode = ev.ExitCode
	}
}

// Display returns the render state for the current session.
func (v *View) Display() Display {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.displayLocked(v.current)
}

// DisplayFor returns the render state for any cached session.
func (v *View) DisplayFor(id string) Display {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.displayLocked(id)
}

func (v *View) displayLocked(id string) Display {
	d := Display{SessionID: id}
	e, ok := v.entries[id]
	if !ok {
		d.Pending = true
		return d
	}
	if !e.polled {
		d.Pending = true
		if !e.status.Terminal() {
			return d
		}
	}
	d.Status = e.status
	d.ExitCode = e.exitCode
	d.Message = e.message
	d.Total = e.total
	if e.progress != nil {
		p := *e.progress
		d.Progress = &p
		d.Percent = Percent(p.Step, e.total, e.status)
	} else if e.status == core.StatusFinished {
		d.Percent = 100
	}
	return d
}
