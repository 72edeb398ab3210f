// Package session 是同步引擎的门面: thread 树、活跃 thread、流式 turn、
// 通知与待回答状态, 以及对后端的乐观命令。
//
// 并发模型: 单把互斥锁保护全部会话状态; 每次外部可见的变更是一个完整的
// 临界区, 订阅回调之间不会交错出半成品状态。锁内不做网络 I/O。
package session

import (
	"context"
	"sync"
	"time"

	"github.com/multi-agent/agent-console/internal/api"
	"github.com/multi-agent/agent-console/internal/config"
	"github.com/multi-agent/agent-console/internal/sched"
	"github.com/multi-agent/agent-console/internal/timeline"
	"github.com/multi-agent/agent-console/internal/wire"
	"github.com/multi-agent/agent-console/pkg/logger"
)

// Backend is the REST surface the facade's commands call.
type Backend interface {
	ListThreads(ctx context.Context, includeArchived bool) ([]wire.Thread, error)
	CreateThread(ctx context.Context, req api.CreateThreadRequest) (wire.Thread, error)
	PostMessage(ctx context.Context, threadID string, req api.SendMessageRequest) error
	Stop(ctx context.Context, threadID string) error
	SetTitle(ctx context.Context, threadID, title string) error
	SetConfig(ctx context.Context, threadID string, patch wire.ConfigChangeData) error
	DeleteMessages(ctx context.Context, threadID string, messageIDs []string) error
	Archive(ctx context.Context, threadID string) error
	Unarchive(ctx context.Context, threadID string) error
	DeleteAll(ctx context.Context, confirm bool) error
	SubmitAnswers(ctx context.Context, threadID string, answers []string) error
	SubmitPlanAction(ctx context.Context, threadID string, req api.PlanActionRequest) error
	OlderMessages(ctx context.Context, threadID string, limit, offset int) ([]wire.Message, error)
	Usage(ctx context.Context, threadID string) (wire.UsageData, error)
}

// Streams is the subscription surface the facade drives.
type Streams interface {
	Subscribe(threadID string)
	SubscribeReplay(threadID string)
	Unsubscribe(threadID string)
	Subscribed(threadID string) bool
	Close()
}

// Manager is the session facade.
type Manager struct {
	mu sync.RWMutex

	backend Backend
	streams Streams
	sched   sched.Scheduler

	expandLimit     int
	clearDelay      time.Duration
	spawnRetryDelay time.Duration
	sendTimeout     time.Duration

	threads  map[string]*threadState
	order    []string
	activeID string
	turns    map[string]*timeline.Turn

	notifications map[string][]Notification
	questions     map[string]PendingQuestion
	plans         map[string]PendingPlan

	// turn-complete 的延迟清屏计时器, 每 thread 至多一个。计时器被新命令
	// 打断时, pendingMerges 里的持久化消息立即合并而不是丢弃。
	clearTimers   map[string]sched.Timer
	pendingMerges map[string]wire.CompleteData

	// spawn 关联: tool 调用 id ↔ 被创建的 thread id。
	callToThread     map[string]string
	threadToCall     map[string]string
	spawnRetryTimers map[string]sched.Timer

	watchers map[int]chan struct{}
	watchSeq int
}

// NewManager builds the facade. Attach the stream manager with AttachStreams
// before driving subscriptions.
func NewManager(cfg *config.Config, backend Backend, scheduler sched.Scheduler) *Manager {
	return &Manager{
		backend:          backend,
		sched:            scheduler,
		expandLimit:      cfg.ToolExpandDepth,
		clearDelay:       cfg.CompleteClearDelay(),
		spawnRetryDelay:  cfg.SpawnRetryDelay(),
		sendTimeout:      cfg.SendTimeout(),
		threads:          make(map[string]*threadState),
		turns:            make(map[string]*timeline.Turn),
		notifications:    make(map[string][]Notification),
		questions:        make(map[string]PendingQuestion),
		plans:            make(map[string]PendingPlan),
		clearTimers:      make(map[string]sched.Timer),
		pendingMerges:    make(map[string]wire.CompleteData),
		callToThread:     make(map[string]string),
		threadToCall:     make(map[string]string),
		spawnRetryTimers: make(map[string]sched.Timer),
		watchers:         make(map[int]chan struct{}),
	}
}

// AttachStreams wires the subscription manager. Separate from NewManager
// because the stream manager's sink and retry policy point back here.
func (m *Manager) AttachStreams(s Streams) {
	m.mu.Lock()
	m.streams = s
	m.mu.Unlock()
}

// ShouldRetry is the stream manager's retry policy: keep reconnecting only
// for the active thread or the active thread's parent (the parent must keep
// receiving child-completion notifications).
func (m *Manager) ShouldRetry(threadID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if threadID == m.activeID {
		return true
	}
	active, ok := m.threads[m.activeID]
	return ok && active.info.ParentID == threadID
}

// ========================================
// 变更通知
// ========================================

// Watch returns a coalescing change signal and its cancel function.
func (m *Manager) Watch() (<-chan struct{}, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchSeq++
	id := m.watchSeq
	ch := make(chan struct{}, 1)
	m.watchers[id] = ch
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.watchers, id)
	}
}

func (m *Manager) notifyLocked() {
	for _, ch := range m.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// ========================================
// 读取
// ========================================

// Snapshot returns a deep-copied view of the session state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

// ThreadBlocks returns a deep copy of a thread's in-progress turn.
func (m *Manager) ThreadBlocks(threadID string) []timeline.Block {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.turns[threadID]
	if !ok {
		return nil
	}
	return t.Blocks()
}

// ActiveThreadID returns the focused thread id.
func (m *Manager) ActiveThreadID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeID
}

// ThreadStatus returns a thread's current status, idle for unknown ids.
func (m *Manager) ThreadStatus(threadID string) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if st, ok := m.threads[threadID]; ok {
		return st.status
	}
	return StatusIdle
}

// SpawnedThreadFor resolves a spawn-tool invocation to its live thread id.
func (m *Manager) SpawnedThreadFor(callID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.callToThread[callID]
	return id, ok
}

// ========================================
// thread 表维护
// ========================================

func (m *Manager) ensureThreadLocked(id string) *threadState {
	st, ok := m.threads[id]
	if !ok {
		st = &threadState{info: wire.Thread{ID: id}, status: StatusIdle}
		m.threads[id] = st
		m.order = append(m.order, id)
	}
	return st
}

// upsertThreadLocked merges a server thread record, preserving volatile
// local fields and guarding the status transition.
func (m *Manager) upsertThreadLocked(t wire.Thread) *threadState {
	if t.ID == "" {
		return nil
	}
	st := m.ensureThreadLocked(t.ID)
	if len(t.Messages) == 0 {
		t.Messages = st.info.Messages
	}
	st.info = t
	proposed := normalizeStatus(t.Status)
	if shouldApplyStatus(st.status, proposed) {
		st.status = proposed
	}
	return st
}

func (m *Manager) parentOfLocked(id string) string {
	if st, ok := m.threads[id]; ok {
		return st.info.ParentID
	}
	return ""
}

func (m *Manager) childrenOfLocked(id string) []string {
	out := make([]string, 0, 4)
	for _, cid := range m.order {
		if st := m.threads[cid]; st != nil && st.info.ParentID == id {
			out = append(out, cid)
		}
	}
	return out
}

// ========================================
// 启动与焦点切换
// ========================================

// Bootstrap replaces the thread set with the server's list. Volatile usage
// snapshots reset, per-thread statuses re-derive from server truth.
func (m *Manager) Bootstrap(ctx context.Context) error {
	threads, err := m.backend.ListThreads(ctx, false)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.threads = make(map[string]*threadState, len(threads))
	m.order = m.order[:0]
	for _, t := range threads {
		st := m.ensureThreadLocked(t.ID)
		st.info = t
		st.status = normalizeStatus(t.Status)
	}
	m.pruneStaleLocked()
	m.notifyLocked()
	m.mu.Unlock()
	return nil
}

// pruneStaleLocked drops per-thread state for ids the server no longer
// reports: turns, notifications, pending questions/plans, spawn correlations,
// and any timers whose callbacks would otherwise resurrect the thread.
func (m *Manager) pruneStaleLocked() {
	known := func(id string) bool {
		_, ok := m.threads[id]
		return ok
	}
	for id := range m.turns {
		if !known(id) {
			delete(m.turns, id)
		}
	}
	for id := range m.notifications {
		if !known(id) {
			delete(m.notifications, id)
		}
	}
	for id := range m.questions {
		if !known(id) {
			delete(m.questions, id)
		}
	}
	for id := range m.plans {
		if !known(id) {
			delete(m.plans, id)
		}
	}
	for id, t := range m.clearTimers {
		if !known(id) {
			t.Stop()
			delete(m.clearTimers, id)
			delete(m.pendingMerges, id)
		}
	}
	for id, t := range m.spawnRetryTimers {
		if !known(id) {
			t.Stop()
			delete(m.spawnRetryTimers, id)
		}
	}
	for callID, threadID := range m.callToThread {
		if !known(threadID) {
			delete(m.callToThread, callID)
			delete(m.threadToCall, threadID)
		}
	}
}

// SetActiveThread switches focus and cascades subscriptions:
// the old thread stays subscribed only if it is the new thread's parent or
// child (drill-down/out); the new thread, its parent, and its running
// non-archived children get subscriptions, children with a full replay.
func (m *Manager) SetActiveThread(threadID string) {
	m.mu.Lock()
	if m.activeID == threadID {
		m.mu.Unlock()
		return
	}
	old := m.activeID
	m.activeID = threadID

	var unsub []string
	var sub []string
	var subReplay []string

	if old != "" {
		related := m.parentOfLocked(threadID) == old || m.parentOfLocked(old) == threadID
		if !related {
			unsub = append(unsub, old)
		}
	}
	if threadID != "" {
		sub = append(sub, threadID)
		if p := m.parentOfLocked(threadID); p != "" {
			sub = append(sub, p)
		}
		for _, cid := range m.childrenOfLocked(threadID) {
			st := m.threads[cid]
			if st.info.ArchivedAt != nil {
				continue
			}
			if st.status.Running() {
				subReplay = append(subReplay, cid)
			}
		}
	}
	streams := m.streams
	m.notifyLocked()
	m.mu.Unlock()

	if streams == nil {
		return
	}
	for _, id := range unsub {
		streams.Unsubscribe(id)
	}
	for _, id := range sub {
		streams.Subscribe(id)
	}
	for _, id := range subReplay {
		streams.SubscribeReplay(id)
	}
}

// Close tears down subscriptions and pending timers.
func (m *Manager) Close() {
	m.mu.Lock()
	for id, t := range m.clearTimers {
		t.Stop()
		delete(m.clearTimers, id)
	}
	for id, t := range m.spawnRetryTimers {
		t.Stop()
		delete(m.spawnRetryTimers, id)
	}
	streams := m.streams
	m.mu.Unlock()
	if streams != nil {
		streams.Close()
	}
}

// logStatusRejected 记录被单调性守卫拒绝的状态写入。
func logStatusRejected(threadID string, current, proposed Status) {
	logger.Debug("session: status regression rejected",
		logger.FieldThreadID, threadID,
		logger.FieldStatus, string(current),
		"proposed", string(proposed))
}
