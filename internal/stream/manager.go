// manager.go — 每 thread 一条推送订阅: 连接、退避重连、续传、去重。
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/multi-agent/agent-console/internal/sched"
	"github.com/multi-agent/agent-console/internal/wire"
	"github.com/multi-agent/agent-console/pkg/logger"
	"github.com/multi-agent/agent-console/pkg/util"
)

// Sink receives every admitted envelope. Calls come from per-subscription
// read loops; the consumer serializes them itself.
type Sink func(threadID string, env wire.Envelope)

// RetryPolicy decides, after a transport failure, whether a thread's
// subscription is still worth reconnecting.
type RetryPolicy func(threadID string) bool

// Options are the reconnect tunables.
type Options struct {
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	MaxRetries   int
	RestartFloor int64
}

// Manager owns at most one live subscription per thread id.
type Manager struct {
	dialer Dialer
	sched  sched.Scheduler
	sink   Sink
	retry  RetryPolicy
	opts   Options

	mu   sync.Mutex
	subs map[string]*subscription
	// lastSeen 在订阅销毁后仍保留, 同一会话内重新订阅可续传。
	lastSeen map[string]int64
}

type subscription struct {
	threadID   string
	ctx        context.Context
	cancel     context.CancelFunc
	conn       Conn
	guard      *Guard
	attempts   int
	retryTimer sched.Timer
}

// NewManager wires a manager. retry may be nil, meaning always retry.
func NewManager(dialer Dialer, scheduler sched.Scheduler, sink Sink, retry RetryPolicy, opts Options) *Manager {
	if retry == nil {
		retry = func(string) bool { return true }
	}
	return &Manager{
		dialer:   dialer,
		sched:    scheduler,
		sink:     sink,
		retry:    retry,
		opts:     opts,
		subs:     make(map[string]*subscription),
		lastSeen: make(map[string]int64),
	}
}

// Subscribe opens a subscription for threadID, resuming from the last
// sequence seen this session. Idempotent: a live subscription makes this a
// no-op.
func (m *Manager) Subscribe(threadID string) {
	m.subscribe(threadID, false)
}

// SubscribeReplay opens a subscription that requests the full event replay
// from sequence zero, discarding any remembered resume point. Used when
// focusing a thread with live children whose accumulated output we never
// streamed.
func (m *Manager) SubscribeReplay(threadID string) {
	m.subscribe(threadID, true)
}

func (m *Manager) subscribe(threadID string, replay bool) {
	if threadID == "" {
		return
	}
	m.mu.Lock()
	if _, ok := m.subs[threadID]; ok {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		threadID: threadID,
		ctx:      ctx,
		cancel:   cancel,
		guard:    NewGuard(m.opts.RestartFloor),
	}
	if replay {
		delete(m.lastSeen, threadID)
	} else {
		sub.guard.Rebase(m.lastSeen[threadID])
	}
	m.subs[threadID] = sub
	m.mu.Unlock()

	util.SafeGo(func() { m.connect(sub) })
}

// Unsubscribe cancels the pending reconnect timer, if any, before tearing
// the subscription down, so a retry can never fire against a dead entry.
func (m *Manager) Unsubscribe(threadID string) {
	m.mu.Lock()
	sub, ok := m.subs[threadID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.subs, threadID)
	if sub.retryTimer != nil {
		sub.retryTimer.Stop()
		sub.retryTimer = nil
	}
	conn := sub.conn
	sub.conn = nil
	m.mu.Unlock()

	sub.cancel()
	if conn != nil {
		_ = conn.Close()
	}
}

// Subscribed reports whether threadID has a live (or reconnecting)
// subscription.
func (m *Manager) Subscribed(threadID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[threadID]
	return ok
}

// LastSeq returns the remembered resume point for threadID.
//
// 只读 lastSeen, 不碰 guard: guard 是读循环 goroutine 的私有状态,
// 每次投递后 deliver 已在锁内同步到 lastSeen。
func (m *Manager) LastSeq(threadID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeen[threadID]
}

// Close tears down every subscription.
func (m *Manager) Close() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Unsubscribe(id)
	}
}

func (m *Manager) connect(sub *subscription) {
	resume := sub.guard.LastSeq()
	conn, err := m.dialer.Dial(sub.ctx, sub.threadID, resume)
	if err != nil {
		if sub.ctx.Err() != nil {
			return
		}
		m.handleFailure(sub, err)
		return
	}

	m.mu.Lock()
	if m.subs[sub.threadID] != sub || sub.ctx.Err() != nil {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	sub.conn = conn
	// 连接成功, 重试计数归零。
	sub.attempts = 0
	m.mu.Unlock()

	logger.Debug("stream: connected",
		logger.FieldThreadID, sub.threadID,
		logger.FieldSeq, resume)
	util.SafeGo(func() { m.readLoop(sub, conn) })
}

func (m *Manager) readLoop(sub *subscription, conn Conn) {
	for {
		env, err := conn.Read()
		if err != nil {
			_ = conn.Close()
			if sub.ctx.Err() != nil {
				return
			}
			m.handleFailure(sub, err)
			return
		}
		m.deliver(sub, env)
	}
}

func (m *Manager) deliver(sub *subscription, env wire.Envelope) {
	if env.Type() == "" {
		return
	}
	if env.Type().Sequenced() {
		switch sub.guard.Admit(env.Seq) {
		case VerdictIgnore:
			return
		case VerdictReset:
			logger.Warn("stream: sequence regression, server restart assumed",
				logger.FieldThreadID, sub.threadID,
				logger.FieldSeq, env.Seq)
		}
		m.mu.Lock()
		m.lastSeen[sub.threadID] = sub.guard.LastSeq()
		m.mu.Unlock()
	}
	m.sink(sub.threadID, env)
}

// backoffDelay 计算第 attempt 次重试的等待时间 (attempt 从 1 开始)。
func (m *Manager) backoffDelay(attempt int) time.Duration {
	delay := m.opts.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.opts.BackoffMax {
			return m.opts.BackoffMax
		}
	}
	if delay > m.opts.BackoffMax {
		return m.opts.BackoffMax
	}
	return delay
}

func (m *Manager) handleFailure(sub *subscription, cause error) {
	// 先问策略再拿锁, 避免与持有上层状态锁的订阅调用互相等待。
	retryOK := m.retry(sub.threadID)

	m.mu.Lock()
	if m.subs[sub.threadID] != sub {
		m.mu.Unlock()
		return
	}
	sub.conn = nil

	if !retryOK {
		delete(m.subs, sub.threadID)
		m.mu.Unlock()
		sub.cancel()
		logger.Info("stream: subscription dropped, thread no longer relevant",
			logger.FieldThreadID, sub.threadID,
			logger.FieldError, cause)
		return
	}

	sub.attempts++
	if sub.attempts > m.opts.MaxRetries {
		delete(m.subs, sub.threadID)
		m.mu.Unlock()
		sub.cancel()
		logger.Warn("stream: reconnect exhausted",
			logger.FieldThreadID, sub.threadID,
			logger.FieldAttempt, sub.attempts-1,
			logger.FieldError, cause)
		return
	}

	delay := m.backoffDelay(sub.attempts)
	attempt := sub.attempts
	sub.retryTimer = m.sched.AfterFunc(delay, func() {
		m.mu.Lock()
		if m.subs[sub.threadID] != sub || sub.ctx.Err() != nil {
			m.mu.Unlock()
			return
		}
		sub.retryTimer = nil
		m.mu.Unlock()
		m.connect(sub)
	})
	m.mu.Unlock()

	logger.Warn("stream: transport failure, reconnect scheduled",
		logger.FieldThreadID, sub.threadID,
		logger.FieldAttempt, attempt,
		logger.FieldDurationMS, delay.Milliseconds(),
		logger.FieldError, cause)
}
