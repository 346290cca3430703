// ABOUTME: RunStatus lifecycle for a session's simulation process and its legal transitions.
// ABOUTME: finished and failed are sticky; only an explicit stop returns a running session to idle.
package core

import "fmt"

// RunStatus is the lifecycle state of a session's external process.
type RunStatus string

const (
	StatusIdle      RunStatus = "idle"
	StatusSettingUp RunStatus = "setting_up"
	StatusRunning   RunStatus = "running"
	StatusFinished  RunStatus = "finished"
	StatusFailed    RunStatus = "failed"
)

// transitions lists every legal from→to edge.
var transitions = map[RunStatus][]RunStatus{
	StatusIdle:      {StatusSettingUp},
	StatusSettingUp: {StatusRunning, StatusFailed},
	StatusRunning:   {StatusFinished, StatusFailed, StatusIdle},
}

// Terminal reports whether s is finished or failed.
func (s RunStatus) Terminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// Active reports whether a process is being set up or is running.
func (s RunStatus) Active() bool {
	return s == StatusSettingUp || s == StatusRunning
}

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	switch s {
	case StatusIdle, StatusSettingUp, StatusRunning, StatusFinished, StatusFailed:
		return true
	}
	return false
}

// ParseRunStatus converts a string into a RunStatus. Empty input is idle.
func ParseRunStatus(s string) (RunStatus, error) {
	if s == "" {
		return StatusIdle, nil
	}
	rs := RunStatus(s)
	if !rs.Valid() {
		return "", fmt.Errorf("unknown run status %q", s)
	}
	return rs, nil
}

// CanTransition reports whether from→to is a legal edge.
func CanTransition(from, to RunStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
