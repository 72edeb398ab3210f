package session

import (
	"testing"
	"time"

	"github.com/multi-agent/agent-console/internal/wire"
)

func TestSpawnCorrelatesByTitle(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeBackend{})
	seedThreads(m, wire.Thread{ID: "root", Status: "running"})

	m.HandleEvent("root", mkEnv(wire.EventToolUse, 1,
		`{"id":"C1","name":"spawn_subthread","input":{"title":"worker"}}`))
	m.HandleEvent("root", mkEnv(wire.EventThreadCreated, 2,
		`{"thread":{"id":"kid","title":"worker","status":"running","parentId":"root"}}`))

	got, ok := m.SpawnedThreadFor("C1")
	if !ok || got != "kid" {
		t.Fatalf("SpawnedThreadFor(C1) = %q/%v, want kid", got, ok)
	}
	// 已内联关联, 不应再落通知。
	if n := m.Snapshot().Notifications["root"]; len(n) != 0 {
		t.Errorf("unexpected notifications: %+v", n)
	}
}

func TestSpawnRetryMatchesLateToolOpen(t *testing.T) {
	m, _, clock := newTestManager(t, &fakeBackend{})
	seedThreads(m, wire.Thread{ID: "root", Status: "running"})

	// 创建通知先到, spawn tool 的 open 事件随后才到。
	m.HandleEvent("root", mkEnv(wire.EventThreadCreated, 1,
		`{"thread":{"id":"kid","title":"worker","status":"running","parentId":"root"}}`))
	if _, ok := m.SpawnedThreadFor("C1"); ok {
		t.Fatal("premature correlation")
	}
	m.HandleEvent("root", mkEnv(wire.EventToolUse, 2,
		`{"id":"C1","name":"spawn_subthread","input":{"title":"worker"}}`))

	clock.Advance(500 * time.Millisecond)

	got, ok := m.SpawnedThreadFor("C1")
	if !ok || got != "kid" {
		t.Fatalf("retry correlation = %q/%v, want kid", got, ok)
	}
}

func TestSpawnFallsBackToNotification(t *testing.T) {
	m, _, clock := newTestManager(t, &fakeBackend{})
	seedThreads(m, wire.Thread{ID: "root", Status: "running"})

	m.HandleEvent("root", mkEnv(wire.EventThreadCreated, 1,
		`{"thread":{"id":"kid","title":"worker","status":"running","parentId":"root"}}`))
	clock.Advance(time.Second)

	notes := m.Snapshot().Notifications["root"]
	if len(notes) != 1 || notes[0].ChildThreadID != "kid" || notes[0].Title != "worker" {
		t.Fatalf("fallback notification = %+v", notes)
	}
}

func TestConcurrentSpawnsMatchFirstFree(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeBackend{})
	seedThreads(m, wire.Thread{ID: "root", Status: "running"})

	m.HandleEvent("root", mkEnv(wire.EventToolUse, 1,
		`{"id":"C1","name":"spawn_subthread","input":{"title":"worker"}}`))
	m.HandleEvent("root", mkEnv(wire.EventToolUse, 2,
		`{"id":"C2","name":"spawn_subthread","input":{"title":"worker"}}`))
	m.HandleEvent("root", mkEnv(wire.EventThreadCreated, 3,
		`{"thread":{"id":"kid1","title":"worker","status":"running","parentId":"root"}}`))
	m.HandleEvent("root", mkEnv(wire.EventThreadCreated, 4,
		`{"thread":{"id":"kid2","title":"worker","status":"running","parentId":"root"}}`))

	a, okA := m.SpawnedThreadFor("C1")
	b, okB := m.SpawnedThreadFor("C2")
	if !okA || !okB || a == b {
		t.Fatalf("correlations = C1→%q(%v) C2→%q(%v), want two distinct children", a, okA, b, okB)
	}
}

func TestTerminalSubthreadStatusNotifiesOnlyWhenNotInline(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeBackend{})
	seedThreads(m, wire.Thread{ID: "root", Status: "running"})

	// 已关联的子线程完成 → 无通知。
	m.HandleEvent("root", mkEnv(wire.EventToolUse, 1,
		`{"id":"C1","name":"spawn_subthread","input":{"title":"worker"}}`))
	m.HandleEvent("root", mkEnv(wire.EventThreadCreated, 2,
		`{"thread":{"id":"kid","title":"worker","status":"running","parentId":"root"}}`))
	m.HandleEvent("root", mkEnv(wire.EventSubthreadStatus, 3,
		`{"threadId":"kid","status":"done"}`))
	if n := m.Snapshot().Notifications["root"]; len(n) != 0 {
		t.Fatalf("inline child completion should not notify: %+v", n)
	}

	// 未关联的子线程完成 → 通知一条。
	m.HandleEvent("root", mkEnv(wire.EventSubthreadStatus, 4,
		`{"threadId":"stray","status":"done","title":"stray worker"}`))
	notes := m.Snapshot().Notifications["root"]
	if len(notes) != 1 || notes[0].ChildThreadID != "stray" || notes[0].TerminalStatus != StatusDone {
		t.Fatalf("notifications = %+v", notes)
	}
}
