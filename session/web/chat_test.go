// ABOUTME: Tests for the streamed chat endpoint with a scripted model client.
// ABOUTME: Covers plain turns, tool round trips, the one-turn gate and pushed simulation events.
package web

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/2389-research/mux/llm"

	"github.com/2389-research/mdsession/session/server"
	"github.com/2389-research/mdsession/stream"
	"github.com/2389-research/mdsession/supervisor"
)

// scriptedLLM replays one event script per stream call. When gate is set,
// each stream waits for it to close before emitting anything.
type scriptedLLM struct {
	mu      sync.Mutex
	scripts [][]llm.StreamEvent
	gate    chan struct{}
}

func (c *scriptedLLM) CreateMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	return nil, errors.New("not used")
}

func (c *scriptedLLM) CreateMessageStream(ctx context.Context, req *llm.Request) (<-chan llm.StreamEvent, error) {
	c.mu.Lock()
	if len(c.scripts) == 0 {
		c.mu.Unlock()
		return nil, errors.New("no script left")
	}
	script := c.scripts[0]
	c.scripts = c.scripts[1:]
	gate := c.gate
	c.mu.Unlock()

	ch := make(chan llm.StreamEvent)
	go func() {
		defer close(ch)
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return
			}
		}
		for _, evt := range script {
			select {
			case ch <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func textTurn(parts ...string) []llm.StreamEvent {
	evts := []llm.StreamEvent{{Type: llm.EventContentStart, Block: &llm.ContentBlock{Type: llm.ContentTypeText}}}
	for _, p := range parts {
		evts = append(evts, llm.StreamEvent{Type: llm.EventContentDelta, Text: p})
	}
	return append(evts,
		llm.StreamEvent{Type: llm.EventContentStop},
		llm.StreamEvent{Type: llm.EventMessageStop, Response: &llm.Response{StopReason: llm.StopReasonEndTurn}},
	)
}

func toolTurn(id, name, input string) []llm.StreamEvent {
	return []llm.StreamEvent{
		{Type: llm.EventContentStart, Block: &llm.ContentBlock{Type: llm.ContentTypeToolUse, ID: id, Name: name}},
		{Type: llm.EventContentDelta, Text: input},
		{Type: llm.EventContentStop},
		{Type: llm.EventMessageStop, Response: &llm.Response{StopReason: llm.StopReasonToolUse}},
	}
}

func kinds(evts []stream.Event) []stream.Kind {
	out := make([]stream.Kind, 0, len(evts))
	for _, e := range evts {
		out = append(out, e.Type)
	}
	return out
}

func (f *fixture) chat(t *testing.T, id, message string, fn func(stream.Event)) []stream.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var evts []stream.Event
	err := f.api.Chat(ctx, id, message, func(e stream.Event) error {
		evts = append(evts, e)
		if fn != nil {
			fn(e)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	return evts
}

func TestChatStreamsTextTurn(t *testing.T) {
	model := &scriptedLLM{scripts: [][]llm.StreamEvent{textTurn("Hello", " there")}}
	f := newFixture(t, server.Options{LLMClient: model, LLMModel: "test-model"})
	id := f.create(t).SessionID

	evts := f.chat(t, id, "hi", nil)
	want := []stream.Kind{stream.KindTextDelta, stream.KindTextDelta, stream.KindAgentDone}
	if !slices.Equal(kinds(evts), want) {
		t.Fatalf("kinds = %v, want %v", kinds(evts), want)
	}
	if evts[2].FinalText != "" {
		t.Errorf("final text = %q, want empty once all text was streamed", evts[2].FinalText)
	}
	if n := f.state.Registry.Conversations().Get(id).Len(); n != 2 {
		t.Errorf("history length = %d, want 2", n)
	}
}

func TestChatToolRoundTrip(t *testing.T) {
	model := &scriptedLLM{scripts: [][]llm.StreamEvent{
		toolTurn("call_1", "get_config", `{"path":"gromacs.dt"}`),
		textTurn("dt is 0.002 ps"),
	}}
	f := newFixture(t, server.Options{LLMClient: model, LLMModel: "test-model"})
	id := f.create(t).SessionID

	evts := f.chat(t, id, "what is the timestep?", nil)
	want := []stream.Kind{stream.KindToolStart, stream.KindToolResult, stream.KindTextDelta, stream.KindAgentDone}
	if !slices.Equal(kinds(evts), want) {
		t.Fatalf("kinds = %v, want %v", kinds(evts), want)
	}
	if evts[1].ID != "call_1" || evts[1].IsError || !strings.Contains(evts[1].Result, "0.002") {
		t.Errorf("tool_result = %+v", evts[1])
	}
}

func TestChatRefusesSecondTurn(t *testing.T) {
	model := &scriptedLLM{scripts: [][]llm.StreamEvent{textTurn("ok")}}
	f := newFixture(t, server.Options{LLMClient: model, LLMModel: "test-model"})
	id := f.create(t).SessionID

	conv := f.state.Registry.Conversations().Get(id)
	if _, err := conv.Begin(); err != nil {
		t.Fatal(err)
	}
	code, _ := f.request(t, http.MethodPost, "/api/sessions/"+id+"/chat", map[string]string{"message": "hi"})
	if code != http.StatusConflict {
		t.Errorf("second turn = %d, want 409", code)
	}
	conv.Finish(nil)

	if evts := f.chat(t, id, "hi", nil); len(evts) == 0 || !evts[len(evts)-1].Terminal() {
		t.Errorf("turn after release = %v", kinds(evts))
	}
}

func TestChatRequiresProviderAndMessage(t *testing.T) {
	f := newFixture(t, server.Options{})
	id := f.create(t).SessionID

	if code, _ := f.request(t, http.MethodPost, "/api/sessions/"+id+"/chat", map[string]string{"message": "hi"}); code != http.StatusServiceUnavailable {
		t.Errorf("chat without provider = %d, want 503", code)
	}

	g := newFixture(t, server.Options{LLMClient: &scriptedLLM{}})
	gid := g.create(t).SessionID
	if code, _ := g.request(t, http.MethodPost, "/api/sessions/"+gid+"/chat", map[string]string{"message": "   "}); code != http.StatusBadRequest {
		t.Errorf("empty message = %d, want 400", code)
	}
}

func TestChatStreamErrorEndsTurn(t *testing.T) {
	f := newFixture(t, server.Options{LLMClient: &scriptedLLM{}, LLMModel: "test-model"})
	id := f.create(t).SessionID

	evts := f.chat(t, id, "hi", nil)
	if !slices.Equal(kinds(evts), []stream.Kind{stream.KindError}) {
		t.Fatalf("kinds = %v, want [error]", kinds(evts))
	}
	if n := f.state.Registry.Conversations().Get(id).Len(); n != 0 {
		t.Errorf("failed turn kept %d messages", n)
	}
}

// While a run is active the chat stream carries sim_progress from the engine
// log and sim_status for every run transition.
func TestChatPushesSimulationEvents(t *testing.T) {
	gate := make(chan struct{})
	model := &scriptedLLM{scripts: [][]llm.StreamEvent{textTurn("done")}, gate: gate}
	f := newFixture(t, server.Options{LLMClient: model, LLMModel: "test-model"})
	created := f.create(t)
	id := created.SessionID

	if _, err := f.api.Start(context.Background(), id); err != nil {
		t.Fatalf("Start: %v", err)
	}
	logPath := filepath.Join(created.WorkDir, supervisor.LogFile)
	log := "           Step           Time\n           2500        5.00000\n\n"
	if err := os.WriteFile(logPath, []byte(log), 0o644); err != nil {
		t.Fatal(err)
	}

	var stopOnce, gateOnce sync.Once
	evts := f.chat(t, id, "how is it going?", func(e stream.Event) {
		switch e.Type {
		case stream.KindSimProgress:
			stopOnce.Do(func() {
				if _, err := f.api.Stop(context.Background(), id); err != nil {
					t.Errorf("Stop: %v", err)
				}
			})
		case stream.KindSimStatus:
			if e.Status == "idle" {
				gateOnce.Do(func() { close(gate) })
			}
		}
	})

	var progress, status *stream.Event
	for i := range evts {
		switch evts[i].Type {
		case stream.KindSimProgress:
			progress = &evts[i]
		case stream.KindSimStatus:
			status = &evts[i]
		}
	}
	if progress == nil || progress.Step != 2500 || progress.TotalSteps == 0 {
		t.Errorf("sim_progress = %+v", progress)
	}
	if status == nil || status.Status != "idle" {
		t.Errorf("sim_status = %+v", status)
	}
	if last := evts[len(evts)-1]; last.Type != stream.KindAgentDone {
		t.Errorf("last event = %v, want agent_done", last.Type)
	}
}
