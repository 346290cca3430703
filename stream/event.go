// ABOUTME: Typed events streamed to a client during one agent turn.
// ABOUTME: Each kind marshals to a flat JSON object tagged by "type".
package stream

import (
	"encoding/json"
	"unicode/utf8"
)

// Kind discriminates stream events.
type Kind string

const (
	KindTextDelta   Kind = "text_delta"
	KindThinking    Kind = "thinking"
	KindToolStart   Kind = "tool_start"
	KindToolResult  Kind = "tool_result"
	KindAgentDone   Kind = "agent_done"
	KindError       Kind = "error"
	KindSimProgress Kind = "sim_progress"
	KindSimStatus   Kind = "sim_status"
)

// MaxToolResult caps the characters of a tool result sent to the client.
const MaxToolResult = 2000

const truncatedMarker = "\n…[truncated]"

// Event is one stream message. Only the fields of its Type are meaningful.
type Event struct {
	Type Kind `json:"type"`

	Text    string `json:"text,omitempty"`
	Content string `json:"content,omitempty"`

	ID      string         `json:"id,omitempty"`
	Name    string         `json:"name,omitempty"`
	Input   map[string]any `json:"input,omitempty"`
	Result  string         `json:"result,omitempty"`
	IsError bool           `json:"is_error,omitempty"`

	FinalText string `json:"final_text,omitempty"`
	Message   string `json:"message,omitempty"`

	Step       int64   `json:"step,omitempty"`
	TotalSteps int64   `json:"total_steps,omitempty"`
	NsPerDay   float64 `json:"ns_per_day,omitempty"`
	TimePs     float64 `json:"time_ps,omitempty"`

	Status   string `json:"status,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

// Terminal reports whether e ends a turn.
func (e Event) Terminal() bool {
	return e.Type == KindAgentDone || e.Type == KindError
}

// MarshalJSON writes only the fields that belong to the event kind, so
// zero values such as step 0 are still sent.
func (e Event) MarshalJSON() ([]byte, error) {
	m := map[string]any{"type": e.Type}
	switch e.Type {
	case KindTextDelta:
		m["text"] = e.Text
	case KindThinking:
		m["content"] = e.Content
	case KindToolStart:
		m["id"] = e.ID
		m["name"] = e.Name
		input := e.Input
		if input == nil {
			input = map[string]any{}
		}
		m["input"] = input
	case KindToolResult:
		m["id"] = e.ID
		m["name"] = e.Name
		m["result"] = e.Result
		if e.IsError {
			m["is_error"] = true
		}
	case KindAgentDone:
		m["final_text"] = e.FinalText
	case KindError:
		m["message"] = e.Message
	case KindSimProgress:
		m["step"] = e.Step
		m["total_steps"] = e.TotalSteps
		m["ns_per_day"] = e.NsPerDay
		m["time_ps"] = e.TimePs
	case KindSimStatus:
		m["status"] = e.Status
		if e.ExitCode != nil {
			m["exit_code"] = *e.ExitCode
		}
	}
	return json.Marshal(m)
}

// TextDelta is an incremental chunk of assistant text.
func TextDelta(text string) Event { return Event{Type: KindTextDelta, Text: text} }

// Thinking carries model reasoning content.
func Thinking(content string) Event { return Event{Type: KindThinking, Content: content} }

// ToolStart announces a tool invocation.
func ToolStart(id, name string, input map[string]any) Event {
	return Event{Type: KindToolStart, ID: id, Name: name, Input: input}
}

// ToolResult reports a tool's output, truncated to MaxToolResult characters.
func ToolResult(id, name, result string, isError bool) Event {
	return Event{Type: KindToolResult, ID: id, Name: name, Result: Truncate(result, MaxToolResult), IsError: isError}
}

// AgentDone ends a turn successfully.
func AgentDone(finalText string) Event { return Event{Type: KindAgentDone, FinalText: finalText} }

// Error ends a turn with a failure.
func Error(message string) Event { return Event{Type: KindError, Message: message} }

// SimProgress reports simulation progress while a run is active.
func SimProgress(step, totalSteps int64, nsPerDay, timePs float64) Event {
	return Event{Type: KindSimProgress, Step: step, TotalSteps: totalSteps, NsPerDay: nsPerDay, TimePs: timePs}
}

// SimStatus reports a run status change.
func SimStatus(status string, exitCode *int) Event {
	return Event{Type: KindSimStatus, Status: status, ExitCode: exitCode}
}

// Truncate shortens s to at most limit characters, appending a marker when cut.
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + truncatedMarker
}
