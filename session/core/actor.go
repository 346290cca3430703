// ABOUTME: Goroutine-based actor that serializes every mutation of one session.
// ABOUTME: Status check-and-set, config lock checks, and persistence all happen on the actor goroutine.
package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/2389-research/mdsession/simconfig"
)

// Persister durably records a state snapshot and the events that produced it.
// It runs on the actor goroutine before the new state becomes visible.
type Persister interface {
	Persist(state *SessionState, events []Event) error
}

// EventBroadcaster provides a fan-out mechanism for events to multiple subscribers.
// Each subscriber gets a buffered channel. Broadcast is non-blocking (drops if full).
type EventBroadcaster struct {
	mu          sync.RWMutex
	subscribers []chan Event
}

// NewEventBroadcaster creates a broadcaster with no initial subscribers.
func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{}
}

// Subscribe creates a new buffered channel for receiving broadcast events.
func (b *EventBroadcaster) Subscribe() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, 256)
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Unsubscribe removes a channel from the subscriber list and closes it.
func (b *EventBroadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subscribers {
		if sub == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

// Broadcast sends an event to all subscribers, dropping for full buffers.
func (b *EventBroadcaster) Broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

type commandMessage struct {
	cmd   Command
	reply chan commandResult
}

type commandResult struct {
	events []Event
	err    error
}

// SessionHandle is the public interface for interacting with a session actor.
// It is safe for concurrent use.
type SessionHandle struct {
	cmdCh       chan commandMessage
	done        chan struct{}
	closeOnce   sync.Once
	broadcaster *EventBroadcaster
	state       *SessionState
	mu          sync.RWMutex // protects state
	SessionID   string
}

// SendCommand sends a command to the actor and waits for the result.
func (h *SessionHandle) SendCommand(cmd Command) ([]Event, error) {
	reply := make(chan commandResult, 1)
	msg := commandMessage{cmd: cmd, reply: reply}

	select {
	case <-h.done:
		return nil, ErrChannelClosed
	default:
	}

	select {
	case h.cmdCh <- msg:
	default:
		return nil, ErrActorBusy
	}

	select {
	case result := <-reply:
		return result.events, result.err
	case <-h.done:
		return nil, ErrChannelClosed
	}
}

// Subscribe returns a channel that receives broadcast events.
func (h *SessionHandle) Subscribe() chan Event {
	return h.broadcaster.Subscribe()
}

// Unsubscribe removes a channel from the broadcast subscriber list and closes it.
func (h *SessionHandle) Unsubscribe(ch chan Event) {
	h.broadcaster.Unsubscribe(ch)
}

// ReadState calls the given function with a read lock on the current state.
// The function should not modify the state or hold references after returning.
func (h *SessionHandle) ReadState(fn func(s *SessionState)) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	fn(h.state)
}

// Session returns a copy of the session metadata.
func (h *SessionHandle) Session() Session {
	var out Session
	h.ReadState(func(s *SessionState) { out = s.Session.Clone() })
	return out
}

// Config returns a deep copy of the config tree.
func (h *SessionHandle) Config() map[string]any {
	var out map[string]any
	h.ReadState(func(s *SessionState) { out = simconfig.Clone(s.Config) })
	return out
}

// Run returns a copy of the run state.
func (h *SessionHandle) Run() RunState {
	var out RunState
	h.ReadState(func(s *SessionState) { out = s.Session.Run.Clone() })
	return out
}

// Close stops the actor goroutine. Pending and later commands get ErrChannelClosed.
func (h *SessionHandle) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// SpawnActor starts an actor goroutine for the given state and returns its handle.
// persister may be nil for purely in-memory sessions.
func SpawnActor(sessionID string, initialState *SessionState, persister Persister) *SessionHandle {
	if initialState == nil {
		initialState = NewSessionState()
	}
	handle := &SessionHandle{
		cmdCh:       make(chan commandMessage, 64),
		done:        make(chan struct{}),
		broadcaster: NewEventBroadcaster(),
		state:       initialState,
		SessionID:   sessionID,
	}

	actor := &sessionActor{
		handle:    handle,
		persister: persister,
		now:       func() time.Time { return time.Now().UTC() },
	}
	go actor.run()

	return handle
}

type sessionActor struct {
	handle    *SessionHandle
	persister Persister
	now       func() time.Time
}

func (a *sessionActor) run() {
	for {
		select {
		case msg := <-a.handle.cmdCh:
			msg.reply <- a.processCommand(msg.cmd)
		case <-a.handle.done:
			return
		}
	}
}

func (a *sessionActor) processCommand(cmd Command) commandResult {
	a.handle.mu.RLock()
	current := a.handle.state
	events, err := a.commandToEvents(current, cmd)
	a.handle.mu.RUnlock()
	if err != nil || len(events) == 0 {
		return commandResult{err: err}
	}

	// Only this goroutine writes state, so the clone cannot go stale.
	next := current.Clone()
	for i := range events {
		next.Apply(&events[i])
	}

	if a.persister != nil {
		if err := a.persister.Persist(next, events); err != nil {
			return commandResult{err: fmt.Errorf("persist session %s: %w", a.handle.SessionID, err)}
		}
	}

	a.handle.mu.Lock()
	a.handle.state = next
	a.handle.mu.Unlock()

	for _, event := range events {
		a.handle.broadcaster.Broadcast(event)
	}
	return commandResult{events: events}
}

// commandToEvents validates a command against state and converts it to events.
// An empty, nil-error result means the command was an idempotent no-op.
func (a *sessionActor) commandToEvents(state *SessionState, cmd Command) ([]Event, error) {
	if state.Session.Deleted {
		return nil, ErrSessionDeleted
	}

	ev := Event{SessionID: a.handle.SessionID}

	switch c := cmd.(type) {
	case CreateSessionCommand:
		sess := c.Session.Clone()
		if sess.Run.Status == "" {
			sess.Run.Status = StatusIdle
		}
		ev.Kind = EventSessionCreated
		ev.Session = &sess
		ev.Config = simconfig.Clone(c.Config)

	case RenameCommand:
		if state.Session.Nickname == c.Nickname {
			return nil, nil
		}
		ev.Kind = EventNicknameChanged
		ev.Value = c.Nickname

	case SelectArtifactCommand:
		if state.Session.SelectedArtifact == c.Name {
			return nil, nil
		}
		ev.Kind = EventArtifactSelected
		ev.Value = c.Name

	case UpdateConfigCommand:
		if len(c.Updates) == 0 {
			return nil, nil
		}
		policy := simconfig.Policy{Locked: state.Session.Run.Status != StatusIdle}
		merged := state.Config
		for _, u := range c.Updates {
			if err := policy.Check(u.Path); err != nil {
				return nil, err
			}
			next, err := simconfig.Set(merged, u.Path, u.Value)
			if err != nil {
				return nil, err
			}
			merged = next
		}
		if err := simconfig.Validate(merged); err != nil {
			return nil, err
		}
		ev.Kind = EventConfigUpdated
		ev.Updates = append([]simconfig.Update(nil), c.Updates...)

	case TransitionRunCommand:
		from := state.Session.Run.Status
		if from == c.To && c.AllowSame {
			return nil, nil
		}
		if !CanTransition(from, c.To) {
			return nil, &TransitionError{From: from, To: c.To}
		}
		run := state.Session.Run.Clone()
		if c.Patch != nil {
			c.Patch(&run)
		}
		run.Status = c.To
		ev.Kind = EventRunTransitioned
		ev.Run = &run

	case DeleteSessionCommand:
		ev.Kind = EventSessionDeleted

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}

	ev.EventID = NewULID()
	ev.Timestamp = a.now()
	return []Event{ev}, nil
}
