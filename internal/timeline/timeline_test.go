package timeline

import (
	"testing"
	"time"
)

func ts() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

func kinds(t *Turn) []Kind {
	blocks := t.Blocks()
	out := make([]Kind, len(blocks))
	for i, b := range blocks {
		out[i] = b.Kind
	}
	return out
}

func TestTextToolTextOrdering(t *testing.T) {
	turn := NewTurn(2)
	turn.AppendText("I'll check", ts())
	turn.OpenTool("T1", "Read", nil, ts())
	turn.CompleteTool("T1", false, "")
	turn.AppendText("Done.", ts())

	got := kinds(turn)
	want := []Kind{KindText, KindTool, KindText}
	if len(got) != len(want) {
		t.Fatalf("block kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("block kinds = %v, want %v", got, want)
		}
	}
	blocks := turn.Blocks()
	if blocks[0].Content != "I'll check" {
		t.Errorf("first text = %q", blocks[0].Content)
	}
	if blocks[2].Content != "Done." {
		t.Errorf("last text = %q", blocks[2].Content)
	}
	if !blocks[1].Complete {
		t.Errorf("tool block not complete")
	}
}

func TestConsecutiveFragmentsMerge(t *testing.T) {
	turn := NewTurn(2)
	turn.AppendText("hel", ts())
	turn.AppendText("lo", ts())
	turn.AppendReasoning("thinking ", "", ts())
	turn.AppendReasoning("hard", "sig-1", ts())
	turn.AppendText("again", ts())

	blocks := turn.Blocks()
	if len(blocks) != 3 {
		t.Fatalf("got %d blocks, want 3: %+v", len(blocks), blocks)
	}
	if blocks[0].Content != "hello" {
		t.Errorf("merged text = %q", blocks[0].Content)
	}
	if blocks[1].Content != "thinking hard" || blocks[1].Signature != "sig-1" {
		t.Errorf("merged reasoning = %q sig=%q", blocks[1].Content, blocks[1].Signature)
	}
	// 前两个 block 已被后续 block 终结。
	if !blocks[0].Finalized || !blocks[1].Finalized {
		t.Errorf("superseded blocks must be finalized")
	}
	if blocks[2].Finalized {
		t.Errorf("trailing block must stay open")
	}
}

func TestFinalizedTextDoesNotMerge(t *testing.T) {
	turn := NewTurn(2)
	turn.AppendText("first", ts())
	turn.OpenTool("T1", "Bash", nil, ts())
	turn.AppendText("second", ts())

	blocks := turn.Blocks()
	if len(blocks) != 3 {
		t.Fatalf("got %d blocks, want 3", len(blocks))
	}
	if blocks[0].Content != "first" || blocks[2].Content != "second" {
		t.Errorf("text split wrong: %q / %q", blocks[0].Content, blocks[2].Content)
	}
}

func TestOpenToolIdempotent(t *testing.T) {
	turn := NewTurn(2)
	turn.OpenTool("T1", "Read", map[string]any{"path": "a.go"}, ts())
	turn.OpenTool("T1", "Read", map[string]any{"path": "b.go"}, ts())
	if turn.Len() != 1 {
		t.Fatalf("replayed open must be a no-op, got %d blocks", turn.Len())
	}
	b, ok := turn.Tool("T1")
	if !ok || b.Input["path"] != "a.go" {
		t.Errorf("original input must survive replay: %+v", b.Input)
	}
}

func TestFIFOExpandBound(t *testing.T) {
	turn := NewTurn(2)
	ids := []string{"T1", "T2", "T3", "T4", "T5"}
	for _, id := range ids {
		turn.OpenTool(id, "Bash", nil, ts())

		expanded := []string{}
		for _, b := range turn.Blocks() {
			if b.Kind == KindTool && !b.Collapsed {
				expanded = append(expanded, b.ID)
			}
		}
		if len(expanded) > 2 {
			t.Fatalf("after opening %s: %d expanded, want <= 2", id, len(expanded))
		}
	}
	// 展开集合始终是最近打开的两个。
	for _, b := range turn.Blocks() {
		wantCollapsed := b.ID != "T4" && b.ID != "T5"
		if b.Collapsed != wantCollapsed {
			t.Errorf("tool %s collapsed = %v, want %v", b.ID, b.Collapsed, wantCollapsed)
		}
	}
}

func TestPatchToolInputMerges(t *testing.T) {
	turn := NewTurn(2)
	turn.OpenTool("T1", "Edit", map[string]any{"path": "x.go"}, ts())
	turn.PatchToolInput("T1", map[string]any{"old": "a", "new": "b"})
	turn.PatchToolInput("ghost", map[string]any{"x": 1})

	b, _ := turn.Tool("T1")
	if b.Input["path"] != "x.go" || b.Input["old"] != "a" || b.Input["new"] != "b" {
		t.Errorf("merged input = %+v", b.Input)
	}
	if turn.Len() != 1 {
		t.Errorf("unmatched patch must not create blocks")
	}
}

func TestCompleteUnmatchedIsSilent(t *testing.T) {
	turn := NewTurn(2)
	turn.AppendText("hi", ts())
	turn.CompleteTool("nope", true, "boom")
	if turn.Len() != 1 {
		t.Fatalf("unmatched complete must not mutate, got %d blocks", turn.Len())
	}
}

func TestCompleteToolError(t *testing.T) {
	turn := NewTurn(2)
	turn.OpenTool("T1", "Bash", nil, ts())
	turn.CompleteTool("T1", true, "exit 1")
	b, _ := turn.Tool("T1")
	if !b.Complete || !b.IsError || b.ErrorMsg != "exit 1" {
		t.Errorf("tool state = %+v", b)
	}
}

func TestForceCompleteThenClear(t *testing.T) {
	turn := NewTurn(2)
	turn.OpenTool("T1", "Bash", nil, ts())
	turn.OpenTool("T2", "Read", nil, ts())
	turn.CompleteTool("T1", false, "")

	turn.ForceCompleteOpen()
	for _, b := range turn.Blocks() {
		if b.Kind == KindTool && !b.Complete {
			t.Fatalf("tool %s still incomplete after force-complete", b.ID)
		}
	}

	turn.Clear()
	if turn.Len() != 0 {
		t.Fatalf("clear left %d blocks", turn.Len())
	}
	// Clear 后同 id 可重新打开。
	turn.OpenTool("T1", "Bash", nil, ts())
	if turn.Len() != 1 {
		t.Errorf("reopen after clear failed")
	}
}

func TestBlocksDeepCopy(t *testing.T) {
	turn := NewTurn(2)
	turn.OpenTool("T1", "Edit", map[string]any{"path": "x.go"}, ts())
	snap := turn.Blocks()
	snap[0].Input["path"] = "hacked"
	b, _ := turn.Tool("T1")
	if b.Input["path"] != "x.go" {
		t.Errorf("snapshot mutation leaked into turn state")
	}
}
