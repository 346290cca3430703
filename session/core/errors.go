// ABOUTME: Sentinel and typed errors for session actor command validation.
// ABOUTME: Transition and lock violations are non-fatal rejections that leave state unchanged.
package core

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition indicates a run-status change that the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid run status transition")

	// ErrSessionDeleted indicates a command sent to a session removed from the registry.
	ErrSessionDeleted = errors.New("session has been deleted")

	// ErrChannelClosed indicates the actor has shut down.
	ErrChannelClosed = errors.New("actor channel closed")

	// ErrActorBusy indicates the actor's command buffer is full.
	ErrActorBusy = errors.New("actor command buffer full")

	// ErrUnknownCommand indicates the command type is not recognized by the actor.
	ErrUnknownCommand = errors.New("unknown command type")
)

// TransitionError describes a rejected run-status change.
type TransitionError struct {
	From RunStatus
	To   RunStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid run status transition: %s -> %s", e.From, e.To)
}

// Is makes errors.Is(err, ErrInvalidTransition) match.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// SessionNotFoundError indicates the referenced session doesn't exist.
type SessionNotFoundError struct {
	ID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session not found: %s", e.ID)
}
