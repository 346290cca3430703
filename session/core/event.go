// ABOUTME: Journal events recorded for every accepted session mutation.
// ABOUTME: Events carry enough data to rebuild SessionState by replay after a restart.
package core

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/2389-research/mdsession/simconfig"
)

// EventKind discriminates journal events.
type EventKind string

const (
	EventSessionCreated   EventKind = "session_created"
	EventNicknameChanged  EventKind = "nickname_changed"
	EventArtifactSelected EventKind = "artifact_selected"
	EventConfigUpdated    EventKind = "config_updated"
	EventRunTransitioned  EventKind = "run_transitioned"
	EventSessionDeleted   EventKind = "session_deleted"
)

// Event is one journal entry. Only the fields relevant to Kind are set.
type Event struct {
	EventID   ulid.ULID          `json:"event_id"`
	SessionID string             `json:"session_id"`
	Timestamp time.Time          `json:"timestamp"`
	Kind      EventKind          `json:"kind"`
	Session   *Session           `json:"session,omitempty"`
	Config    map[string]any     `json:"config,omitempty"`
	Value     string             `json:"value,omitempty"`
	Updates   []simconfig.Update `json:"updates,omitempty"`
	Run       *RunState          `json:"run,omitempty"`
}
