// ABOUTME: Folds a turn's stream events into an immutable list of rendered blocks.
// ABOUTME: AppendText and PatchToolResult are the two stateful reducers; both are pure.
package reconcile

import (
	"maps"
	"strings"

	"github.com/2389-research/mdsession/stream"
)

// BlockKind identifies what a block renders.
type BlockKind string

const (
	BlockText     BlockKind = "text"
	BlockThinking BlockKind = "thinking"
	BlockTool     BlockKind = "tool"
	BlockError    BlockKind = "error"
)

// ToolState is the lifecycle of a tool block.
type ToolState string

const (
	ToolPending ToolState = "pending"
	ToolDone    ToolState = "done"
)

// Block is one rendered unit of a conversation.
type Block struct {
	Kind BlockKind
	Text string
	// Closed text blocks no longer accept deltas.
	Closed bool

	ToolID  string
	Name    string
	Input   map[string]any
	Result  string
	IsError bool
	State   ToolState
}

// Fold applies one event and returns the new block list. blocks is never
// modified. Simulation events do not produce blocks and return blocks as is.
func Fold(blocks []Block, e stream.Event) []Block {
	switch e.Type {
	case stream.KindTextDelta:
		return AppendText(blocks, e.Text)
	case stream.KindThinking:
		return appendBlock(blocks, Block{Kind: BlockThinking, Text: e.Content, Closed: true})
	case stream.KindToolStart:
		return StartTool(blocks, e.ID, e.Name, e.Input)
	case stream.KindToolResult:
		return PatchToolResult(blocks, e.ID, e.Name, e.Result, e.IsError)
	case stream.KindAgentDone:
		return closeTurn(blocks, e.FinalText)
	case stream.KindError:
		out := closeText(blocks)
		return appendBlock(out, Block{Kind: BlockError, Text: e.Message, Closed: true})
	}
	return blocks
}

// FoldAll folds a whole event sequence starting from an empty list.
func FoldAll(events []stream.Event) []Block {
	var blocks []Block
	for _, e := range events {
		blocks = Fold(blocks, e)
	}
	return blocks
}

// AppendText appends text to the last block when it is an open text block,
// otherwise opens a new text block.
func AppendText(blocks []Block, text string) []Block {
	if text == "" {
		return blocks
	}
	if n := len(blocks); n > 0 && blocks[n-1].Kind == BlockText && !blocks[n-1].Closed {
		out := clone(blocks)
		out[n-1].Text += text
		return out
	}
	return appendBlock(blocks, Block{Kind: BlockText, Text: text})
}

// StartTool opens a pending tool block. A block for the same id that was
// already resolved is left alone.
func StartTool(blocks []Block, id, name string, input map[string]any) []Block {
	if i := findTool(blocks, id); i >= 0 {
		out := clone(blocks)
		if out[i].Name == "" {
			out[i].Name = name
		}
		if out[i].Input == nil {
			out[i].Input = maps.Clone(input)
		}
		return out
	}
	return appendBlock(blocks, Block{Kind: BlockTool, ToolID: id, Name: name, Input: maps.Clone(input), State: ToolPending})
}

// PatchToolResult resolves the tool block matching id. When no block for id
// exists yet a resolved block is created in its place.
func PatchToolResult(blocks []Block, id, name, result string, isError bool) []Block {
	i := findTool(blocks, id)
	if i < 0 {
		return appendBlock(blocks, Block{Kind: BlockTool, ToolID: id, Name: name, Result: result, IsError: isError, State: ToolDone})
	}
	out := clone(blocks)
	out[i].Result = result
	out[i].IsError = isError
	out[i].State = ToolDone
	return out
}

// closeTurn appends finalText unless the open text block already ends with
// it, then closes the text block.
func closeTurn(blocks []Block, finalText string) []Block {
	out := blocks
	if finalText != "" {
		n := len(out)
		streamed := n > 0 && out[n-1].Kind == BlockText && !out[n-1].Closed && strings.HasSuffix(out[n-1].Text, finalText)
		if !streamed {
			out = AppendText(out, finalText)
		}
	}
	return closeText(out)
}

func closeText(blocks []Block) []Block {
	n := len(blocks)
	if n == 0 || blocks[n-1].Kind != BlockText || blocks[n-1].Closed {
		return blocks
	}
	out := clone(blocks)
	out[n-1].Closed = true
	return out
}

func findTool(blocks []Block, id string) int {
	if id == "" {
		return -1
	}
	for i := len(blocks) - 1; i >= 0; i-- {
		if blocks[i].Kind == BlockTool && blocks[i].ToolID == id {
			return i
		}
	}
	return -1
}

func appendBlock(blocks []Block, b Block) []Block {
	out := make([]Block, len(blocks), len(blocks)+1)
	copy(out, blocks)
	return append(out, b)
}

func clone(blocks []Block) []Block {
	return append([]Block(nil), blocks...)
}
