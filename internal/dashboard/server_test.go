package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/multi-agent/agent-console/internal/api"
	"github.com/multi-agent/agent-console/internal/config"
	"github.com/multi-agent/agent-console/internal/sched"
	"github.com/multi-agent/agent-console/internal/session"
	"github.com/multi-agent/agent-console/internal/wire"
)

// stubBackend 满足 session.Backend, 记录命令调用。
type stubBackend struct {
	threads   []wire.Thread
	posts     []string
	stops     []string
	postErr   error
	created   wire.Thread
	createErr error
}

func (b *stubBackend) ListThreads(ctx context.Context, includeArchived bool) ([]wire.Thread, error) {
	return b.threads, nil
}

func (b *stubBackend) CreateThread(ctx context.Context, req api.CreateThreadRequest) (wire.Thread, error) {
	return b.created, b.createErr
}

func (b *stubBackend) PostMessage(ctx context.Context, threadID string, req api.SendMessageRequest) error {
	b.posts = append(b.posts, threadID+":"+req.Content)
	return b.postErr
}

func (b *stubBackend) Stop(ctx context.Context, threadID string) error {
	b.stops = append(b.stops, threadID)
	return nil
}

func (b *stubBackend) SetTitle(ctx context.Context, threadID, title string) error     { return nil }
func (b *stubBackend) SetConfig(ctx context.Context, threadID string, patch wire.ConfigChangeData) error {
	return nil
}
func (b *stubBackend) DeleteMessages(ctx context.Context, threadID string, messageIDs []string) error {
	return nil
}
func (b *stubBackend) Archive(ctx context.Context, threadID string) error   { return nil }
func (b *stubBackend) Unarchive(ctx context.Context, threadID string) error { return nil }
func (b *stubBackend) DeleteAll(ctx context.Context, confirm bool) error    { return nil }
func (b *stubBackend) SubmitAnswers(ctx context.Context, threadID string, answers []string) error {
	return nil
}
func (b *stubBackend) SubmitPlanAction(ctx context.Context, threadID string, req api.PlanActionRequest) error {
	return nil
}
func (b *stubBackend) OlderMessages(ctx context.Context, threadID string, limit, offset int) ([]wire.Message, error) {
	return nil, nil
}
func (b *stubBackend) Usage(ctx context.Context, threadID string) (wire.UsageData, error) {
	return wire.UsageData{}, nil
}

type noopStreams struct{}

func (noopStreams) Subscribe(string)            {}
func (noopStreams) SubscribeReplay(string)      {}
func (noopStreams) Unsubscribe(string)          {}
func (noopStreams) Subscribed(string) bool      { return false }
func (noopStreams) Close()                      {}

func newTestServer(t *testing.T, backend *stubBackend) (*Server, *session.Manager) {
	t.Helper()
	cfg := &config.Config{
		ToolExpandDepth:      2,
		CompleteClearDelayMS: 350,
		SpawnRetryDelayMS:    500,
		SendTimeoutSec:       300,
	}
	sess := session.NewManager(cfg, backend, sched.NewVirtual())
	sess.AttachStreams(noopStreams{})
	if err := sess.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return NewServer(sess), sess
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("{}")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	return rec
}

func TestStateEndpoint(t *testing.T) {
	backend := &stubBackend{threads: []wire.Thread{
		{ID: "t1", Title: "root", Status: "idle"},
		{ID: "t2", Title: "child", Status: "idle", ParentID: "t1"},
	}}
	srv, _ := newTestServer(t, backend)

	rec := doJSON(t, srv, http.MethodGet, "/api/state", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Success bool             `json:"success"`
		Data    session.Snapshot `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Success {
		t.Fatal("success = false")
	}
	if len(resp.Data.Threads) != 2 {
		t.Fatalf("threads = %d, want 2", len(resp.Data.Threads))
	}
}

func TestBlocksEndpointUnknownThread(t *testing.T) {
	srv, _ := newTestServer(t, &stubBackend{})

	rec := doJSON(t, srv, http.MethodGet, "/api/threads/nope/blocks", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"data":[]`) {
		t.Fatalf("want empty data array, got %s", rec.Body.String())
	}
}

func TestBlocksEndpointReflectsTimeline(t *testing.T) {
	backend := &stubBackend{threads: []wire.Thread{{ID: "t1", Status: "idle"}}}
	srv, sess := newTestServer(t, backend)

	sess.HandleEvent("t1", wire.Envelope{
		Event: string(wire.EventTextDelta), Seq: 1, ThreadID: "t1",
		Data: json.RawMessage(`{"content":"hello"}`),
	})

	rec := doJSON(t, srv, http.MethodGet, "/api/threads/t1/blocks", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "hello") {
		t.Fatalf("want streamed text in blocks, got %s", rec.Body.String())
	}
}

func TestSendMessageEndpoint(t *testing.T) {
	backend := &stubBackend{threads: []wire.Thread{{ID: "t1", Status: "idle"}}}
	srv, sess := newTestServer(t, backend)

	rec := doJSON(t, srv, http.MethodPost, "/api/threads/t1/messages", `{"content":"hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if len(backend.posts) != 1 || backend.posts[0] != "t1:hi" {
		t.Fatalf("posts = %v", backend.posts)
	}
	if got := sess.ThreadStatus("t1"); got != session.StatusPending {
		t.Fatalf("status after send = %q, want pending", got)
	}
}

func TestSendMessageEndpointBadJSON(t *testing.T) {
	srv, _ := newTestServer(t, &stubBackend{})
	rec := doJSON(t, srv, http.MethodPost, "/api/threads/t1/messages", `{"content":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestActivateEndpoint(t *testing.T) {
	backend := &stubBackend{threads: []wire.Thread{{ID: "t1", Status: "idle"}}}
	srv, sess := newTestServer(t, backend)

	rec := doJSON(t, srv, http.MethodPost, "/api/active-thread", `{"thread_id":"t1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if sess.ActiveThreadID() != "t1" {
		t.Fatalf("active = %q, want t1", sess.ActiveThreadID())
	}
}

func TestEventBusDropsSlowSubscribers(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe("slow")
	for i := 0; i < 40; i++ { // 超出缓冲也不能阻塞
		bus.Publish(Event{Type: "state", Data: i})
	}
	if n := len(ch); n != 32 {
		t.Fatalf("buffered = %d, want 32", n)
	}
	bus.Unsubscribe("slow")
	if bus.SubscriberCount() != 0 {
		t.Fatalf("subscribers = %d, want 0", bus.SubscriberCount())
	}
}
