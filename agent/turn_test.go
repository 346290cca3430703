// ABOUTME: Tests for the streamed agent turn against a scripted mux client.
// ABOUTME: Covers text streaming, tool round trips, stream errors and the iteration limit.
package agent

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/2389-research/mux/llm"
	"github.com/2389-research/mux/tool"

	"github.com/2389-research/mdsession/reconcile"
	"github.com/2389-research/mdsession/stream"
)

// scriptedClient replays one event script per CreateMessageStream call.
type scriptedClient struct {
	mu       sync.Mutex
	scripts  [][]llm.StreamEvent
	requests []*llm.Request
	repeat   bool
}

func (c *scriptedClient) CreateMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	return nil, errors.New("not used")
}

func (c *scriptedClient) CreateMessageStream(ctx context.Context, req *llm.Request) (<-chan llm.StreamEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if len(c.scripts) == 0 {
		return nil, errors.New("no script left")
	}
	script := c.scripts[0]
	if !c.repeat {
		c.scripts = c.scripts[1:]
	}
	ch := make(chan llm.StreamEvent, len(script))
	for _, evt := range script {
		ch <- evt
	}
	close(ch)
	return ch, nil
}

func textScript(parts ...string) []llm.StreamEvent {
	evts := []llm.StreamEvent{{Type: llm.EventContentStart, Block: &llm.ContentBlock{Type: llm.ContentTypeText}}}
	for _, p := range parts {
		evts = append(evts, llm.StreamEvent{Type: llm.EventContentDelta, Text: p})
	}
	return append(evts,
		llm.StreamEvent{Type: llm.EventContentStop},
		llm.StreamEvent{Type: llm.EventMessageStop, Response: &llm.Response{StopReason: llm.StopReasonEndTurn}},
	)
}

func toolScript(id, name string, jsonParts ...string) []llm.StreamEvent {
	evts := []llm.StreamEvent{{Type: llm.EventContentStart, Block: &llm.ContentBlock{Type: llm.ContentTypeToolUse, ID: id, Name: name}}}
	for _, p := range jsonParts {
		evts = append(evts, llm.StreamEvent{Type: llm.EventContentDelta, Text: p})
	}
	return append(evts,
		llm.StreamEvent{Type: llm.EventContentStop},
		llm.StreamEvent{Type: llm.EventMessageStop, Response: &llm.Response{StopReason: llm.StopReasonToolUse}},
	)
}

// echoTool returns its "msg" input.
type echoTool struct{ calls int }

func (e *echoTool) Name() string { return "echo" }
func (e *echoTool) Description() string { return "echo the msg input" }
func (e *echoTool) RequiresApproval(_ map[string]any) bool { return false }
func (e *echoTool) Execute(_ context.Context, input map[string]any) (*tool.Result, error) {
	e.calls++
	msg, _ := input["msg"].(string)
	if msg == "" {
		return tool.NewResult(e.Name(), false, "", "msg is required"), nil
	}
	return tool.NewResult(e.Name(), true, "echo: "+msg, ""), nil
}

func eventTypes(evts []stream.Event) []stream.Kind {
	out := make([]stream.Kind, 0, len(evts))
	for _, e := range evts {
		out = append(out, e.Type)
	}
	return out
}

func TestRunTextOnly(t *testing.T) {
	client := &scriptedClient{scripts: [][]llm.StreamEvent{textScript("Hello ", "world")}}
	runner := &Runner{Client: client, Model: "test-model", System: "sys"}
	rec := &stream.Recorder{}

	res, err := runner.Run(context.Background(), tool.NewRegistry(), nil, "hi", rec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FinalText != "Hello world" {
		t.Errorf("FinalText = %q", res.FinalText)
	}
	want := []stream.Kind{stream.KindTextDelta, stream.KindTextDelta, stream.KindAgentDone}
	if got := eventTypes(rec.Events()); !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	if len(res.Messages) != 2 {
		t.Fatalf("messages = %d, want user + assistant", len(res.Messages))
	}
	if client.requests[0].System != "sys" || client.requests[0].Model != "test-model" {
		t.Errorf("request = %+v", client.requests[0])
	}
}

// thinkingScript streams a thinking block followed by a text block.
func thinkingScript(thinking []string, text ...string) []llm.StreamEvent {
	evts := []llm.StreamEvent{{Type: llm.EventContentStart, Block: &llm.ContentBlock{Type: llm.ContentType("thinking")}}}
	for _, p := range thinking {
		evts = append(evts, llm.StreamEvent{Type: llm.EventContentDelta, Text: p})
	}
	evts = append(evts, llm.StreamEvent{Type: llm.EventContentStop})
	return append(evts, textScript(text...)...)
}

func TestRunThinkingIsOneUnit(t *testing.T) {
	client := &scriptedClient{scripts: [][]llm.StreamEvent{
		thinkingScript([]string{"Let me ", "think ", "about it."}, "The answer ", "is 4."),
	}}
	rec := &stream.Recorder{}

	res, err := (&Runner{Client: client}).Run(context.Background(), tool.NewRegistry(), nil, "2+2?", rec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	evts := rec.Events()
	want := []stream.Kind{stream.KindThinking, stream.KindTextDelta, stream.KindTextDelta, stream.KindAgentDone}
	if got := eventTypes(evts); !slices.Equal(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if evts[0].Content != "Let me think about it." {
		t.Errorf("thinking = %q", evts[0].Content)
	}
	if res.FinalText != "The answer is 4." || evts[3].FinalText != "" {
		t.Errorf("FinalText = %q, agent_done final_text = %q", res.FinalText, evts[3].FinalText)
	}

	blocks := reconcile.FoldAll(evts)
	if len(blocks) != 2 {
		t.Fatalf("blocks = %+v, want one thinking and one text block", blocks)
	}
	if blocks[0].Kind != reconcile.BlockThinking || blocks[1].Kind != reconcile.BlockText || blocks[1].Text != "The answer is 4." {
		t.Errorf("blocks = %+v", blocks)
	}
}

func TestRunThinkingWithoutStopIsFlushed(t *testing.T) {
	script := []llm.StreamEvent{
		{Type: llm.EventContentStart, Block: &llm.ContentBlock{Type: llm.ContentType("thinking")}},
		{Type: llm.EventContentDelta, Text: "hmm"},
		{Type: llm.EventMessageStop, Response: &llm.Response{StopReason: llm.StopReasonEndTurn}},
	}
	rec := &stream.Recorder{}
	if _, err := (&Runner{Client: &scriptedClient{scripts: [][]llm.StreamEvent{script}}}).Run(context.Background(), tool.NewRegistry(), nil, "hi", rec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []stream.Kind{stream.KindThinking, stream.KindAgentDone}
	if got := eventTypes(rec.Events()); !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestRunUnstreamedTextGoesToAgentDone(t *testing.T) {
	script := []llm.StreamEvent{
		{Type: llm.EventContentStart, Block: &llm.ContentBlock{Type: llm.ContentTypeText, Text: "whole reply"}},
		{Type: llm.EventContentStop},
		{Type: llm.EventMessageStop, Response: &llm.Response{StopReason: llm.StopReasonEndTurn}},
	}
	rec := &stream.Recorder{}
	res, err := (&Runner{Client: &scriptedClient{scripts: [][]llm.StreamEvent{script}}}).Run(context.Background(), tool.NewRegistry(), nil, "hi", rec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	evts := rec.Events()
	if len(evts) != 1 || evts[0].Type != stream.KindAgentDone || evts[0].FinalText != "whole reply" {
		t.Errorf("events = %+v, want agent_done carrying the reply", evts)
	}
	if res.FinalText != "whole reply" {
		t.Errorf("FinalText = %q", res.FinalText)
	}
}

func TestRunToolRoundTrip(t *testing.T) {
	client := &scriptedClient{scripts: [][]llm.StreamEvent{
		toolScript("call_1", "echo", `{"msg": "pi`, `ng"}`),
		textScript("done"),
	}}
	echo := &echoTool{}
	registry := tool.NewRegistry()
	registry.Register(echo)
	rec := &stream.Recorder{}

	res, err := (&Runner{Client: client}).Run(context.Background(), registry, nil, "call echo", rec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if echo.calls != 1 {
		t.Errorf("tool calls = %d, want 1", echo.calls)
	}
	evts := rec.Events()
	want := []stream.Kind{stream.KindToolStart, stream.KindToolResult, stream.KindTextDelta, stream.KindAgentDone}
	if got := eventTypes(evts); !slices.Equal(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if evts[0].ID != "call_1" || evts[0].Input["msg"] != "ping" {
		t.Errorf("tool_start = %+v", evts[0])
	}
	if evts[1].Result != "echo: ping" || evts[1].IsError {
		t.Errorf("tool_result = %+v", evts[1])
	}
	// user, assistant(tool_use), user(tool_result), assistant(text)
	if len(res.Messages) != 4 {
		t.Fatalf("messages = %d, want 4", len(res.Messages))
	}
	second := client.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != llm.RoleUser || len(last.Blocks) != 1 || last.Blocks[0].ToolUseID != "call_1" {
		t.Errorf("tool result message = %+v", last)
	}
	if len(client.requests[0].Tools) != 1 || client.requests[0].Tools[0].Name != "echo" {
		t.Errorf("tools = %+v", client.requests[0].Tools)
	}
}

func TestRunToolFailureIsReported(t *testing.T) {
	client := &scriptedClient{scripts: [][]llm.StreamEvent{
		toolScript("call_1", "echo", `{}`),
		toolScript("call_2", "missing", `{}`),
		textScript("ok"),
	}}
	registry := tool.NewRegistry()
	registry.Register(&echoTool{})
	rec := &stream.Recorder{}

	if _, err := (&Runner{Client: client}).Run(context.Background(), registry, nil, "x", rec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	var results []stream.Event
	for _, e := range rec.Events() {
		if e.Type == stream.KindToolResult {
			results = append(results, e)
		}
	}
	if len(results) != 2 {
		t.Fatalf("tool results = %d, want 2", len(results))
	}
	if !results[0].IsError || results[0].Result != "msg is required" {
		t.Errorf("echo failure = %+v", results[0])
	}
	if !results[1].IsError {
		t.Errorf("unknown tool should be an error result: %+v", results[1])
	}
}

func TestRunMissingToolIDIsGenerated(t *testing.T) {
	client := &scriptedClient{scripts: [][]llm.StreamEvent{
		toolScript("", "echo", `{"msg":"a"}`),
		textScript("ok"),
	}}
	registry := tool.NewRegistry()
	registry.Register(&echoTool{})
	rec := &stream.Recorder{}

	if _, err := (&Runner{Client: client}).Run(context.Background(), registry, nil, "x", rec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	evts := rec.Events()
	if evts[0].ID == "" || evts[0].ID != evts[1].ID {
		t.Errorf("start id %q, result id %q", evts[0].ID, evts[1].ID)
	}
}

func TestRunIterationLimit(t *testing.T) {
	client := &scriptedClient{
		scripts: [][]llm.StreamEvent{toolScript("call_x", "echo", `{"msg":"again"}`)},
		repeat:  true,
	}
	registry := tool.NewRegistry()
	registry.Register(&echoTool{})
	rec := &stream.Recorder{}

	_, err := (&Runner{Client: client, MaxIterations: 3}).Run(context.Background(), registry, nil, "loop", rec)
	if !errors.Is(err, ErrIterationLimit) {
		t.Fatalf("err = %v, want ErrIterationLimit", err)
	}
	if len(client.requests) != 3 {
		t.Errorf("model calls = %d, want 3", len(client.requests))
	}
	evts := rec.Events()
	if last := evts[len(evts)-1]; last.Type != stream.KindError {
		t.Errorf("last event = %s, want error", last.Type)
	}
}

func TestRunStreamErrorEndsWithErrorEvent(t *testing.T) {
	boom := errors.New("upstream exploded")
	client := &scriptedClient{scripts: [][]llm.StreamEvent{{
		{Type: llm.EventContentStart, Block: &llm.ContentBlock{Type: llm.ContentTypeText}},
		{Type: llm.EventContentDelta, Text: "partial"},
		{Type: llm.EventError, Error: boom},
	}}}
	rec := &stream.Recorder{}

	_, err := (&Runner{Client: client}).Run(context.Background(), nil, nil, "x", rec)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	want := []stream.Kind{stream.KindTextDelta, stream.KindError}
	if got := eventTypes(rec.Events()); !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestRunCancelledSendsNothingMore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := &scriptedClient{scripts: [][]llm.StreamEvent{textScript("late")}}
	rec := &stream.Recorder{}

	if _, err := (&Runner{Client: client}).Run(ctx, nil, nil, "x", rec); err == nil {
		t.Fatal("expected an error for a cancelled turn")
	}
	for _, e := range rec.Events() {
		if e.Terminal() {
			t.Errorf("cancelled turn emitted %s", e.Type)
		}
	}
}

func TestRunThroughTurnWriterKeepsOrdering(t *testing.T) {
	client := &scriptedClient{scripts: [][]llm.StreamEvent{
		toolScript("call_1", "echo", `{"msg":"x"}`),
		textScript("fin"),
	}}
	registry := tool.NewRegistry()
	registry.Register(&echoTool{})
	rec := &stream.Recorder{}
	tw := stream.NewTurnWriter(rec)

	if _, err := (&Runner{Client: client}).Run(context.Background(), registry, nil, "x", tw); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !tw.Closed() {
		t.Error("turn writer should be closed after agent_done")
	}
	if pending := tw.PendingTools(); len(pending) != 0 {
		t.Errorf("pending tools = %v", pending)
	}
}
