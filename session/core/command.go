// ABOUTME: Commands accepted by the session actor.
// ABOUTME: Each command is validated against current state and turned into zero or more journal events.
package core

import "github.com/2389-research/mdsession/simconfig"

// Command is a request to mutate a session.
type Command interface {
	isCommand()
}

// CreateSessionCommand records a new session with its initial config.
type CreateSessionCommand struct {
	Session Session
	Config  map[string]any
}

// RenameCommand changes the display nickname.
type RenameCommand struct {
	Nickname string
}

// SelectArtifactCommand records the primary artifact chosen by the user.
type SelectArtifactCommand struct {
	Name string
}

// UpdateConfigCommand applies leaf updates to the config tree. Rejected with
// simconfig.ErrLocked unless the run status is idle.
type UpdateConfigCommand struct {
	Updates []simconfig.Update
}

// TransitionRunCommand moves the run status to To. Patch, when set, edits a
// copy of the current run state before Status is overwritten. With AllowSame,
// a command whose To equals the current status is a no-op instead of an error.
type TransitionRunCommand struct {
	To        RunStatus
	Patch     func(run *RunState)
	AllowSame bool
}

// DeleteSessionCommand marks the session deleted. Later commands are refused.
type DeleteSessionCommand struct{}

func (CreateSessionCommand) isCommand()  {}
func (RenameCommand) isCommand()         {}
func (SelectArtifactCommand) isCommand() {}
func (UpdateConfigCommand) isCommand()   {}
func (TransitionRunCommand) isCommand()  {}
func (DeleteSessionCommand) isCommand()  {}
