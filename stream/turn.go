// ABOUTME: TurnWriter enforces the ordering rules of one agent turn on top of a Sink.
// ABOUTME: Tool results must follow their tool_start, and nothing follows agent_done or error.
package stream

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrTurnClosed is returned for events sent after the turn ended.
	ErrTurnClosed = errors.New("turn already ended")
	// ErrOrphanToolResult is returned for a tool_result with no prior tool_start.
	ErrOrphanToolResult = errors.New("tool_result without matching tool_start")
	// ErrDuplicateToolStart is returned when a tool id is started twice.
	ErrDuplicateToolStart = errors.New("duplicate tool_start id")
)

// TurnWriter validates and forwards events for a single turn.
type TurnWriter struct {
	mu      sync.Mutex
	sink    Sink
	started map[string]bool
	results map[string]bool
	closed  bool
}

// NewTurnWriter wraps sink.
func NewTurnWriter(sink Sink) *TurnWriter {
	return &TurnWriter{sink: sink, started: map[string]bool{}, results: map[string]bool{}}
}

// Send implements Sink. Rejected events are never forwarded.
func (t *TurnWriter) Send(e Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTurnClosed
	}
	switch e.Type {
	case KindToolStart:
		if e.ID == "" {
			return fmt.Errorf("tool_start for %q has no id", e.Name)
		}
		if t.started[e.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateToolStart, e.ID)
		}
	case KindToolResult:
		if !t.started[e.ID] || t.results[e.ID] {
			return fmt.Errorf("%w: %s", ErrOrphanToolResult, e.ID)
		}
	}

	if err := t.sink.Send(e); err != nil {
		return err
	}

	switch e.Type {
	case KindToolStart:
		t.started[e.ID] = true
	case KindToolResult:
		t.results[e.ID] = true
	}
	if e.Terminal() {
		t.closed = true
	}
	return nil
}

// Closed reports whether a terminal event has been sent.
func (t *TurnWriter) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// PendingTools returns the ids of started tools that have no result yet.
func (t *TurnWriter) PendingTools() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for id := range t.started {
		if !t.results[id] {
			out = append(out, id)
		}
	}
	return out
}

// Recorder is an in-memory Sink.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Send implements Sink.
func (r *Recorder) Send(e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of everything recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
