// ABOUTME: Runs one streamed agent turn against a mux LLM client with the session tool registry.
// ABOUTME: Text, thinking and tool activity are forwarded to a stream.Sink as they happen.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/2389-research/mux/llm"
	"github.com/2389-research/mux/tool"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/2389-research/mdsession/stream"
)

// DefaultMaxIterations bounds model round trips in one turn.
const DefaultMaxIterations = 12

// ErrIterationLimit is returned when a turn keeps calling tools past the limit.
var ErrIterationLimit = errors.New("agent iteration limit reached")

// Runner drives turns for one model configuration.
type Runner struct {
	Client        llm.Client
	Model         string
	System        string
	MaxTokens     int
	MaxIterations int
	Logger        *zap.Logger
}

// TurnResult is the outcome of a finished turn.
type TurnResult struct {
	FinalText string
	Messages  []llm.Message // history including this turn
}

// pendingBlock accumulates one streamed content block.
type pendingBlock struct {
	kind  llm.ContentType
	id    string
	name  string
	text  strings.Builder
	input map[string]any
	// unsent holds text that arrived without a delta event.
	unsent strings.Builder
	sent   bool
}

// Run sends history plus userText to the model and loops while it requests
// tools. Every event goes to sink; the turn always ends with agent_done or
// error unless ctx is cancelled, in which case nothing more is sent.
func (r *Runner) Run(ctx context.Context, registry *tool.Registry, history []llm.Message, userText string, sink stream.Sink) (TurnResult, error) {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxIter := r.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	maxTokens := r.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	messages := append(append([]llm.Message(nil), history...), llm.Message{Role: llm.RoleUser, Content: userText})
	defs := toolDefinitions(registry)

	fail := func(err error) (TurnResult, error) {
		if ctx.Err() == nil {
			_ = sink.Send(stream.Error(err.Error()))
		}
		return TurnResult{Messages: messages}, err
	}

	// Text never delivered as text_delta goes out with agent_done.
	var unsent strings.Builder
	for iter := 0; iter < maxIter; iter++ {
		req := &llm.Request{
			Model:     r.Model,
			System:    r.System,
			Messages:  messages,
			Tools:     defs,
			MaxTokens: maxTokens,
		}
		blocks, err := r.streamOnce(ctx, req, sink)
		if err != nil {
			logger.Warn("model stream failed", zap.String("action", "stream_failed"), zap.Int("iteration", iter), zap.Error(err))
			return fail(err)
		}

		assistant := llm.Message{Role: llm.RoleAssistant}
		var text strings.Builder
		var calls []*pendingBlock
		for _, b := range blocks {
			switch b.kind {
			case llm.ContentTypeText:
				text.WriteString(b.text.String())
				unsent.WriteString(b.unsent.String())
				assistant.Blocks = append(assistant.Blocks, llm.ContentBlock{Type: llm.ContentTypeText, Text: b.text.String()})
			case llm.ContentTypeToolUse:
				calls = append(calls, b)
				assistant.Blocks = append(assistant.Blocks, llm.ContentBlock{
					Type: llm.ContentTypeToolUse, ID: b.id, Name: b.name, Input: b.input,
				})
			}
		}
		messages = append(messages, assistant)

		if len(calls) == 0 {
			final := text.String()
			if err := sink.Send(stream.AgentDone(unsent.String())); err != nil {
				return TurnResult{Messages: messages}, err
			}
			return TurnResult{FinalText: final, Messages: messages}, nil
		}

		results := llm.Message{Role: llm.RoleUser}
		for _, call := range calls {
			if err := sink.Send(stream.ToolStart(call.id, call.name, call.input)); err != nil {
				return TurnResult{Messages: messages}, err
			}
			output, isErr := executeTool(ctx, registry, call.name, call.input)
			logger.Debug("tool executed", zap.String("action", "tool_executed"),
				zap.String("tool", call.name), zap.Bool("is_error", isErr))
			if err := sink.Send(stream.ToolResult(call.id, call.name, output, isErr)); err != nil {
				return TurnResult{Messages: messages}, err
			}
			results.Blocks = append(results.Blocks, llm.ContentBlock{
				Type: llm.ContentTypeToolResult, ToolUseID: call.id, Text: output, IsError: isErr,
			})
		}
		messages = append(messages, results)
	}

	return fail(ErrIterationLimit)
}

// streamOnce performs one streamed model call and returns its content blocks.
func (r *Runner) streamOnce(ctx context.Context, req *llm.Request, sink stream.Sink) ([]*pendingBlock, error) {
	ch, err := r.Client.CreateMessageStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("start model stream: %w", err)
	}

	var (
		blocks  []*pendingBlock
		current *pendingBlock
	)
	// Thinking is delivered as one event per block, once the block ends.
	flushThinking := func(b *pendingBlock) error {
		if b == nil || !isThinking(b.kind) || b.sent || b.text.Len() == 0 {
			return nil
		}
		b.sent = true
		return sink.Send(stream.Thinking(b.text.String()))
	}
	for {
		var evt llm.StreamEvent
		var ok bool
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case evt, ok = <-ch:
		}
		if !ok {
			break
		}

		switch evt.Type {
		case llm.EventContentStart:
			if err := flushThinking(current); err != nil {
				return nil, err
			}
			current = &pendingBlock{kind: llm.ContentTypeText}
			if evt.Block != nil {
				current.kind = evt.Block.Type
				current.id = evt.Block.ID
				current.name = evt.Block.Name
				if len(evt.Block.Input) > 0 {
					current.input = evt.Block.Input
				}
				if evt.Block.Text != "" && current.kind != llm.ContentTypeToolUse {
					current.text.WriteString(evt.Block.Text)
					if current.kind == llm.ContentTypeText {
						current.unsent.WriteString(evt.Block.Text)
					}
				}
			}
			if current.kind == llm.ContentTypeToolUse && current.id == "" {
				current.id = "call_" + uuid.NewString()
			}
			blocks = append(blocks, current)

		case llm.EventContentDelta:
			if current == nil {
				current = &pendingBlock{kind: llm.ContentTypeText}
				blocks = append(blocks, current)
			}
			current.text.WriteString(evt.Text)
			if current.kind == llm.ContentTypeText && evt.Text != "" {
				if err := sink.Send(stream.TextDelta(evt.Text)); err != nil {
					return nil, err
				}
			}

		case llm.EventContentStop:
			if current != nil && current.kind == llm.ContentTypeToolUse {
				current.input = decodeToolInput(current)
			}
			if err := flushThinking(current); err != nil {
				return nil, err
			}
			current = nil

		case llm.EventError:
			if evt.Error != nil {
				return nil, evt.Error
			}
			return nil, errors.New("model stream error")
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Providers that skip ContentStop still need tool input decoded and
	// thinking delivered.
	for _, b := range blocks {
		if b.kind == llm.ContentTypeToolUse && b.input == nil {
			b.input = decodeToolInput(b)
		}
		if err := flushThinking(b); err != nil {
			return nil, err
		}
	}
	return blocks, nil
}

func isThinking(kind llm.ContentType) bool {
	return string(kind) == "thinking"
}

func decodeToolInput(b *pendingBlock) map[string]any {
	raw := strings.TrimSpace(b.text.String())
	if raw == "" {
		if b.input != nil {
			return b.input
		}
		return map[string]any{}
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(raw), &input); err != nil || input == nil {
		return map[string]any{"_raw": raw}
	}
	return input
}

// executeTool runs a registered tool and flattens its result to text.
func executeTool(ctx context.Context, registry *tool.Registry, name string, input map[string]any) (string, bool) {
	if registry == nil {
		return fmt.Sprintf("unknown tool %q", name), true
	}
	t, ok := registry.Get(name)
	if !ok {
		return fmt.Sprintf("unknown tool %q", name), true
	}
	res, err := t.Execute(ctx, input)
	if err != nil {
		return err.Error(), true
	}
	if res == nil {
		return "", false
	}
	if !res.Success {
		if res.Error != "" {
			return res.Error, true
		}
		return res.Output, true
	}
	return res.Output, false
}

// toolDefinitions exposes every registered tool to the model.
func toolDefinitions(registry *tool.Registry) []llm.ToolDefinition {
	if registry == nil {
		return nil
	}
	var defs []llm.ToolDefinition
	for _, t := range registry.All() {
		schema := map[string]any{"type": "object", "properties": map[string]any{}}
		if sp, ok := t.(tool.SchemaProvider); ok {
			schema = sp.InputSchema()
		}
		defs = append(defs, llm.ToolDefinition{Name: t.Name(), Description: t.Description(), InputSchema: schema})
	}
	return defs
}
