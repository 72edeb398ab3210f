package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/multi-agent/agent-console/internal/wire"
	apperrors "github.com/multi-agent/agent-console/pkg/errors"
)

func TestSendMessageOptimisticState(t *testing.T) {
	backend := &fakeBackend{}
	m, _, _ := newTestManager(t, backend)
	seedThreads(m, wire.Thread{ID: "t1", Status: "idle"})

	if err := m.SendMessage(context.Background(), "t1", "hello", nil, nil); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	tv := threadView(t, m.Snapshot(), "t1")
	if tv.Status != StatusPending {
		t.Errorf("status = %s, want pending", tv.Status)
	}
	if len(tv.Messages) != 1 || !strings.HasPrefix(tv.Messages[0].ID, optimisticIDPrefix) {
		t.Fatalf("optimistic message missing: %+v", tv.Messages)
	}
	if tv.Messages[0].Content != "hello" || tv.Messages[0].Role != "user" {
		t.Errorf("placeholder = %+v", tv.Messages[0])
	}
	if backend.postCalls != 1 {
		t.Errorf("postCalls = %d", backend.postCalls)
	}
}

func TestSendMessageCancelRevertsSilently(t *testing.T) {
	backend := &fakeBackend{postErr: apperrors.Wrap(apperrors.ErrCancelled, "API.PostMessage", "cancelled by client")}
	m, _, _ := newTestManager(t, backend)
	seedThreads(m, wire.Thread{ID: "t1", Status: "running"})

	err := m.SendMessage(context.Background(), "t1", "hello", nil, nil)
	if err != nil {
		t.Fatalf("cancel must not surface an error, got %v", err)
	}
	tv := threadView(t, m.Snapshot(), "t1")
	if tv.Status != StatusActive {
		t.Errorf("status = %s, want reverted to active", tv.Status)
	}
	if len(tv.Messages) != 0 {
		t.Errorf("optimistic message not removed: %+v", tv.Messages)
	}
	if tv.LastError != "" {
		t.Errorf("lastError = %q, want empty", tv.LastError)
	}
}

func TestSendMessageFailureSurfacesAndRollsBack(t *testing.T) {
	backend := &fakeBackend{postErr: errors.New("boom")}
	m, _, _ := newTestManager(t, backend)
	seedThreads(m, wire.Thread{ID: "t1", Status: "idle"})

	err := m.SendMessage(context.Background(), "t1", "hello", nil, nil)
	if err == nil {
		t.Fatal("want error")
	}
	tv := threadView(t, m.Snapshot(), "t1")
	if tv.Status != StatusNeedsAttention {
		t.Errorf("status = %s, want needs-attention", tv.Status)
	}
	if len(tv.Messages) != 0 {
		t.Errorf("optimistic message survived failure: %+v", tv.Messages)
	}
	if tv.LastError == "" {
		t.Errorf("lastError not surfaced")
	}
}

func TestSendMessageTimeoutHasDistinctMessage(t *testing.T) {
	backend := &fakeBackend{postErr: apperrors.Wrap(apperrors.ErrTimeout, "API.PostMessage", "request timeout")}
	m, _, _ := newTestManager(t, backend)
	seedThreads(m, wire.Thread{ID: "t1", Status: "idle"})

	if err := m.SendMessage(context.Background(), "t1", "hello", nil, nil); err == nil {
		t.Fatal("want error")
	}
	tv := threadView(t, m.Snapshot(), "t1")
	if tv.Status != StatusNeedsAttention || !strings.Contains(tv.LastError, "timed out") {
		t.Errorf("state = %s / %q", tv.Status, tv.LastError)
	}
}

func TestSendMessageClearsPriorTurn(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeBackend{})
	seedThreads(m, wire.Thread{ID: "t1", Status: "idle"})
	m.HandleEvent("t1", mkEnv(wire.EventTextDelta, 1, `{"content":"stale"}`))

	if err := m.SendMessage(context.Background(), "t1", "next turn", nil, nil); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if got := m.ThreadBlocks("t1"); len(got) != 0 {
		t.Errorf("prior turn blocks survived: %+v", got)
	}
}

func TestSendMessageInsideClearWindowFlushesMerge(t *testing.T) {
	m, _, clock := newTestManager(t, &fakeBackend{})
	seedThreads(m, wire.Thread{ID: "t1", Status: "running", Messages: []wire.Message{
		{ID: "m1", Role: "user", Content: "earlier"},
		{ID: optimisticIDPrefix + "abc", Role: "user", Content: "do the thing"},
	}})
	m.HandleEvent("t1", mkEnv(wire.EventComplete, 1,
		`{"userMessage":{"id":"m2","role":"user","content":"do the thing"},`+
			`"assistantMessage":{"id":"m3","role":"assistant","content":"did it"}}`))

	// 清屏延迟未到就发下一条: 上一轮的持久化消息必须立即合并, 不能随计时器作废。
	if err := m.SendMessage(context.Background(), "t1", "next", nil, nil); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	msgs := threadView(t, m.Snapshot(), "t1").Messages
	if len(msgs) != 4 {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].ID != "m1" || msgs[1].ID != "m2" || msgs[2].ID != "m3" {
		t.Errorf("history = %s %s %s, want m1 m2 m3", msgs[0].ID, msgs[1].ID, msgs[2].ID)
	}
	if !strings.HasPrefix(msgs[3].ID, optimisticIDPrefix) || msgs[3].Content != "next" {
		t.Errorf("placeholder = %+v", msgs[3])
	}

	// 计时器已结清, 走完延迟窗口不再改动历史。
	clock.Advance(time.Second)
	if after := threadView(t, m.Snapshot(), "t1").Messages; len(after) != 4 {
		t.Fatalf("messages after window = %+v", after)
	}
}

func TestStopInsideClearWindowFlushesMerge(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeBackend{})
	seedThreads(m, wire.Thread{ID: "t1", Status: "running"})
	m.HandleEvent("t1", mkEnv(wire.EventComplete, 1,
		`{"assistantMessage":{"id":"m9","role":"assistant","content":"partial result"}}`))

	if err := m.Stop(context.Background(), "t1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	msgs := threadView(t, m.Snapshot(), "t1").Messages
	if len(msgs) != 1 || msgs[0].ID != "m9" {
		t.Fatalf("assistant message lost on stop: %+v", msgs)
	}
	if got := m.ThreadBlocks("t1"); len(got) != 0 {
		t.Errorf("blocks survived stop: %+v", got)
	}
}

func TestStopSwallowsAlreadyFinished(t *testing.T) {
	backend := &fakeBackend{stopErr: apperrors.Wrap(apperrors.ErrAlreadyFinished, "API.Stop", "thread already finished")}
	m, _, _ := newTestManager(t, backend)
	seedThreads(m, wire.Thread{ID: "t1", Status: "done"})

	if err := m.Stop(context.Background(), "t1"); err != nil {
		t.Fatalf("already-finished must be swallowed, got %v", err)
	}
	if got := m.ThreadStatus("t1"); got != StatusDone {
		t.Errorf("status = %s, want untouched done", got)
	}
}

func TestStopForceCompletesAndClears(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeBackend{})
	seedThreads(m, wire.Thread{ID: "t1", Status: "running"})
	m.HandleEvent("t1", mkEnv(wire.EventToolUse, 1, `{"id":"T1","name":"Bash"}`))

	if err := m.Stop(context.Background(), "t1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := m.ThreadBlocks("t1"); len(got) != 0 {
		t.Errorf("blocks survived stop: %+v", got)
	}
	if got := m.ThreadStatus("t1"); got != StatusActive {
		t.Errorf("status = %s, want active until push reconciles", got)
	}
}

func TestResetAllRequiresConfirmation(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeBackend{})
	if err := m.ResetAll(context.Background(), false); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestResetAllClearsEverything(t *testing.T) {
	m, streams, _ := newTestManager(t, &fakeBackend{})
	seedThreads(m, wire.Thread{ID: "t1", Status: "running"})
	m.SetActiveThread("t1")
	m.HandleEvent("t1", mkEnv(wire.EventTextDelta, 1, `{"content":"x"}`))

	if err := m.ResetAll(context.Background(), true); err != nil {
		t.Fatalf("ResetAll: %v", err)
	}
	snap := m.Snapshot()
	if len(snap.Threads) != 0 || snap.ActiveThreadID != "" {
		t.Errorf("state survived reset: %+v", snap)
	}
	if streams.Subscribed("t1") {
		t.Errorf("subscriptions survived reset")
	}
}

func TestSubmitAnswersResolvesQuestion(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeBackend{})
	seedThreads(m, wire.Thread{ID: "t1", Status: "running"})
	m.HandleEvent("t1", mkEnv(wire.EventToolUse, 1, `{"id":"Q1","name":"AskUserQuestion"}`))
	m.HandleEvent("t1", mkEnv(wire.EventQuestion, 2, `{"questions":[{"text":"go on?"}]}`))

	if err := m.SubmitAnswers(context.Background(), "t1", []string{"yes"}); err != nil {
		t.Fatalf("SubmitAnswers: %v", err)
	}
	if _, ok := m.Snapshot().Questions["t1"]; ok {
		t.Errorf("pending question survived submission")
	}
	blocks := m.ThreadBlocks("t1")
	if len(blocks) != 1 || len(blocks[0].Answers) != 1 || blocks[0].Answers[0] != "yes" {
		t.Errorf("answers not reflected on tool block: %+v", blocks)
	}
	if got := m.ThreadStatus("t1"); got != StatusActive {
		t.Errorf("status = %s, want active", got)
	}
}

func TestLoadOlderMessagesPrepends(t *testing.T) {
	backend := &fakeBackend{olderMsgs: []wire.Message{
		{ID: "old1", Role: "user", Content: "first ever"},
		{ID: "m1", Role: "user", Content: "already loaded"},
	}}
	m, _, _ := newTestManager(t, backend)
	seedThreads(m, wire.Thread{ID: "t1", Status: "idle",
		Messages: []wire.Message{{ID: "m1", Role: "user", Content: "already loaded"}}})

	if err := m.LoadOlderMessages(context.Background(), "t1", 50, 0); err != nil {
		t.Fatalf("LoadOlderMessages: %v", err)
	}
	msgs := threadView(t, m.Snapshot(), "t1").Messages
	if len(msgs) != 2 || msgs[0].ID != "old1" || msgs[1].ID != "m1" {
		t.Fatalf("messages = %+v", msgs)
	}
}
