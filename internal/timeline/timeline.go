// timeline.go — 单个 thread 当前 turn 的流式 block 重建。
//
// Package timeline rebuilds the ordered block transcript of one in-progress
// agent turn from an interleaved fragment feed. Callers serialize access;
// the type itself holds no lock.
package timeline

import (
	"maps"
	"time"
)

// Kind classifies one streaming block.
type Kind string

const (
	KindText      Kind = "text"
	KindReasoning Kind = "reasoning"
	KindTool      Kind = "tool"
)

// Block is one fragment of the in-progress turn. Text and reasoning blocks
// accumulate content; tool blocks are addressed by invocation id and carry
// their own completion state.
type Block struct {
	Kind      Kind
	Ts        time.Time
	Finalized bool

	// text / reasoning
	Content   string
	Signature string

	// tool invocation
	ID        string
	ToolName  string
	Input     map[string]any
	Complete  bool
	Collapsed bool
	IsError   bool
	ErrorMsg  string
	Answers   []string
}

// Turn holds the block list for one thread's current turn plus the FIFO
// expand queue that bounds how many tool blocks stay visually expanded.
type Turn struct {
	blocks      []Block
	toolIndex   map[string]int
	expandQueue []string
	expandLimit int
}

// NewTurn returns an empty turn. expandLimit bounds simultaneously expanded
// tool blocks; values below 1 are clamped to 1.
func NewTurn(expandLimit int) *Turn {
	if expandLimit < 1 {
		expandLimit = 1
	}
	return &Turn{
		toolIndex:   make(map[string]int),
		expandLimit: expandLimit,
	}
}

// finalizeAll closes every existing block so the next fragment opens fresh.
// Tool completion state is untouched; finalized only means "superseded".
func (t *Turn) finalizeAll() {
	for i := range t.blocks {
		t.blocks[i].Finalized = true
	}
}

// AppendText merges delta into a trailing open text block, or finalizes the
// list and opens a new one.
func (t *Turn) AppendText(delta string, ts time.Time) {
	if delta == "" {
		return
	}
	if n := len(t.blocks); n > 0 {
		last := &t.blocks[n-1]
		if last.Kind == KindText && !last.Finalized {
			last.Content += delta
			return
		}
	}
	t.finalizeAll()
	t.blocks = append(t.blocks, Block{Kind: KindText, Ts: ts, Content: delta})
}

// AppendReasoning merges delta into a trailing open reasoning block, or opens
// a new one. The signature sticks from the first fragment that carries one.
func (t *Turn) AppendReasoning(delta, signature string, ts time.Time) {
	if delta == "" && signature == "" {
		return
	}
	if n := len(t.blocks); n > 0 {
		last := &t.blocks[n-1]
		if last.Kind == KindReasoning && !last.Finalized {
			last.Content += delta
			if last.Signature == "" {
				last.Signature = signature
			}
			return
		}
	}
	t.finalizeAll()
	t.blocks = append(t.blocks, Block{Kind: KindReasoning, Ts: ts, Content: delta, Signature: signature})
}

// OpenTool appends a tool-invocation block. Re-opening an id already present
// is a no-op (replayed open events). Collapsing the oldest expanded tool
// happens in the same step as the insert, never as a separate pass.
func (t *Turn) OpenTool(id, name string, input map[string]any, ts time.Time) {
	if id == "" {
		return
	}
	if _, ok := t.toolIndex[id]; ok {
		return
	}
	t.finalizeAll()

	for len(t.expandQueue) >= t.expandLimit {
		oldest := t.expandQueue[0]
		t.expandQueue = t.expandQueue[1:]
		if idx, ok := t.toolIndex[oldest]; ok {
			t.blocks[idx].Collapsed = true
		}
	}
	t.expandQueue = append(t.expandQueue, id)

	t.toolIndex[id] = len(t.blocks)
	t.blocks = append(t.blocks, Block{
		Kind:     KindTool,
		Ts:       ts,
		ID:       id,
		ToolName: name,
		Input:    maps.Clone(input),
	})
}

// PatchToolInput merges partial input into the tool block with the given id.
// Unmatched ids are ignored.
func (t *Turn) PatchToolInput(id string, input map[string]any) {
	idx, ok := t.toolIndex[id]
	if !ok || len(input) == 0 {
		return
	}
	b := &t.blocks[idx]
	if b.Input == nil {
		b.Input = make(map[string]any, len(input))
	}
	maps.Copy(b.Input, input)
}

// CompleteTool marks the tool block with the given id finished. Unmatched ids
// are ignored; results can outrun or replay around their opens.
func (t *Turn) CompleteTool(id string, isError bool, errMsg string) {
	idx, ok := t.toolIndex[id]
	if !ok {
		return
	}
	b := &t.blocks[idx]
	b.Complete = true
	b.Finalized = true
	b.IsError = isError
	b.ErrorMsg = errMsg
}

// SetAnswers records the user's submitted answers on a question-tool block.
func (t *Turn) SetAnswers(id string, answers []string) {
	idx, ok := t.toolIndex[id]
	if !ok {
		return
	}
	t.blocks[idx].Answers = append([]string(nil), answers...)
}

// ForceCompleteOpen finishes every still-running tool block. Called before a
// clear on stop/turn-complete so no spinner survives the cleared turn.
func (t *Turn) ForceCompleteOpen() {
	for i := range t.blocks {
		if t.blocks[i].Kind == KindTool && !t.blocks[i].Complete {
			t.blocks[i].Complete = true
			t.blocks[i].Finalized = true
		}
	}
}

// Clear drops all blocks and expansion state.
func (t *Turn) Clear() {
	t.blocks = nil
	t.expandQueue = nil
	t.toolIndex = make(map[string]int)
}

// Len returns the current block count.
func (t *Turn) Len() int { return len(t.blocks) }

// Tool returns a copy of the tool block with the given invocation id.
func (t *Turn) Tool(id string) (Block, bool) {
	idx, ok := t.toolIndex[id]
	if !ok {
		return Block{}, false
	}
	return cloneBlock(t.blocks[idx]), true
}

// Blocks returns a deep copy of the block list in append order.
func (t *Turn) Blocks() []Block {
	out := make([]Block, len(t.blocks))
	for i, b := range t.blocks {
		out[i] = cloneBlock(b)
	}
	return out
}

func cloneBlock(b Block) Block {
	b.Input = maps.Clone(b.Input)
	if b.Answers != nil {
		b.Answers = append([]string(nil), b.Answers...)
	}
	return b
}
