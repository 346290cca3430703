// ABOUTME: Per-session chat history with a single-turn gate.
// ABOUTME: A second turn on the same session is refused while one is open.
package agent

import (
	"errors"
	"sync"

	"github.com/2389-research/mux/llm"
)

// ErrTurnInProgress is returned when a session already has an open turn.
var ErrTurnInProgress = errors.New("a chat turn is already in progress for this session")

// maxHistory bounds the messages kept per session.
const maxHistory = 200

// Conversation holds one session's chat history.
type Conversation struct {
	mu       sync.Mutex
	open     bool
	messages []llm.Message
}

// Begin claims the turn slot and returns a snapshot of the history. The
// caller must call Finish exactly once.
func (c *Conversation) Begin() ([]llm.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		return nil, ErrTurnInProgress
	}
	c.open = true
	return append([]llm.Message(nil), c.messages...), nil
}

// Finish releases the turn slot, replacing the history when messages is
// non-nil. A cancelled turn passes nil and leaves history untouched.
func (c *Conversation) Finish(messages []llm.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	if messages == nil {
		return
	}
	if len(messages) > maxHistory {
		messages = trimHistory(messages, maxHistory)
	}
	c.messages = messages
}

// Len returns the number of stored messages.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// trimHistory drops the oldest messages but never starts on a tool result,
// which would orphan it from its tool call.
func trimHistory(messages []llm.Message, limit int) []llm.Message {
	start := len(messages) - limit
	for start < len(messages) && startsWithToolResult(messages[start]) {
		start++
	}
	return append([]llm.Message(nil), messages[start:]...)
}

func startsWithToolResult(m llm.Message) bool {
	return len(m.Blocks) > 0 && m.Blocks[0].Type == llm.ContentTypeToolResult
}

// Conversations maps session ids to their conversation.
type Conversations struct {
	mu    sync.Mutex
	convs map[string]*Conversation
}

// NewConversations returns an empty set.
func NewConversations() *Conversations {
	return &Conversations{convs: make(map[string]*Conversation)}
}

// Get returns the conversation for id, creating it on first use.
func (cs *Conversations) Get(id string) *Conversation {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c, ok := cs.convs[id]
	if !ok {
		c = &Conversation{}
		cs.convs[id] = c
	}
	return c
}

// Drop forgets a session's conversation.
func (cs *Conversations) Drop(id string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	delete(cs.convs, id)
}
