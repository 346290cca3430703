// ABOUTME: Session metadata, run state, and the in-memory SessionState owned by each actor.
// ABOUTME: Apply folds journal events into state; the same fold drives live commands and replay.
package core

import (
	"time"

	"github.com/2389-research/mdsession/simconfig"
)

// RunState is the last known state of a session's simulation process.
type RunState struct {
	Status        RunStatus  `json:"status"`
	PID           int        `json:"pid,omitempty"`
	ExitCode      *int       `json:"exit_code,omitempty"`
	Message       string     `json:"message,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	ExpectedFiles []string   `json:"expected_files,omitempty"`
	ExpectedSteps int64      `json:"expected_steps,omitempty"`
	LogFile       string     `json:"log_file,omitempty"`
}

// Session is the registry record for one unit of work.
type Session struct {
	ID               string           `json:"session_id"`
	Owner            string           `json:"owner"`
	Nickname         string           `json:"nickname"`
	WorkDir          string           `json:"work_dir"`
	SelectedArtifact string           `json:"selected_artifact,omitempty"`
	Choice           simconfig.Choice `json:"choice"`
	Run              RunState         `json:"run"`
	Deleted          bool             `json:"deleted,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// SessionState is the full actor-owned state: metadata plus config tree.
type SessionState struct {
	Session Session
	Config  map[string]any
	Version uint64 // number of events applied
}

// NewSessionState returns an empty state for replay or creation.
func NewSessionState() *SessionState {
	return &SessionState{Config: map[string]any{}, Session: Session{Run: RunState{Status: StatusIdle}}}
}

// Clone returns a deep copy safe to mutate independently.
func (s *SessionState) Clone() *SessionState {
	cp := *s
	cp.Config = simconfig.Clone(s.Config)
	cp.Session = s.Session.Clone()
	return &cp
}

// Clone returns a copy of the session with no shared slices or pointers.
func (s Session) Clone() Session {
	cp := s
	cp.Run = s.Run.Clone()
	return cp
}

// Clone returns a copy of the run state with no shared slices or pointers.
func (r RunState) Clone() RunState {
	cp := r
	if r.ExitCode != nil {
		code := *r.ExitCode
		cp.ExitCode = &code
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		cp.StartedAt = &t
	}
	if r.EndedAt != nil {
		t := *r.EndedAt
		cp.EndedAt = &t
	}
	cp.ExpectedFiles = append([]string(nil), r.ExpectedFiles...)
	return cp
}

// Apply folds one event into the state.
func (s *SessionState) Apply(e *Event) {
	switch e.Kind {
	case EventSessionCreated:
		if e.Session != nil {
			s.Session = e.Session.Clone()
		}
		s.Config = simconfig.Clone(e.Config)
	case EventNicknameChanged:
		s.Session.Nickname = e.Value
	case EventArtifactSelected:
		s.Session.SelectedArtifact = e.Value
	case EventConfigUpdated:
		for _, u := range e.Updates {
			if next, err := simconfig.Set(s.Config, u.Path, u.Value); err == nil {
				s.Config = next
			}
		}
	case EventRunTransitioned:
		if e.Run != nil {
			s.Session.Run = e.Run.Clone()
		}
	case EventSessionDeleted:
		s.Session.Deleted = true
	}
	s.Session.UpdatedAt = e.Timestamp
	s.Version++
}
