// handlers.go — 推送事件到会话状态的映射, 每种事件一个处理器。
package session

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/multi-agent/agent-console/internal/timeline"
	"github.com/multi-agent/agent-console/internal/wire"
	"github.com/multi-agent/agent-console/pkg/logger"
)

type eventHandler func(m *Manager, threadID string, env wire.Envelope)

var eventHandlers = map[wire.EventType]eventHandler{
	wire.EventConnected:       handleConnected,
	wire.EventTextDelta:       handleTextDelta,
	wire.EventThinking:        handleThinking,
	wire.EventToolUse:         handleToolUse,
	wire.EventToolInput:       handleToolInput,
	wire.EventToolResult:      handleToolResult,
	wire.EventQuestion:        handleQuestion,
	wire.EventPlanApproval:    handlePlanApproval,
	wire.EventMessage:         handleMessage,
	wire.EventStatusChange:    handleStatusChange,
	wire.EventStopped:         handleStopped,
	wire.EventConfigChange:    handleConfigChange,
	wire.EventTitleChange:     handleTitleChange,
	wire.EventSubthreadStatus: handleSubthreadStatus,
	wire.EventThreadCreated:   handleThreadCreated,
	wire.EventSubagentStart:   handleSubagentStart,
	wire.EventSubagentStop:    handleSubagentStop,
	wire.EventChildQuestion:   handleChildQuestion,
	wire.EventThreadArchived:  handleThreadArchived,
	wire.EventThreadUnarchive: handleThreadUnarchived,
	wire.EventUsage:           handleUsage,
	wire.EventQueueWaiting:    handleQueueWaiting,
	wire.EventQueueAcquired:   handleQueueAcquired,
	wire.EventComplete:        handleComplete,
	wire.EventError:           handleStreamError,
}

// HandleEvent is the stream sink: one locked critical section per event, so
// callbacks from different subscriptions never interleave a mutation.
func (m *Manager) HandleEvent(threadID string, env wire.Envelope) {
	handler, ok := eventHandlers[env.Type()]
	if !ok {
		logger.Debug("session: unknown event type",
			logger.FieldThreadID, threadID,
			logger.FieldEventType, env.Event)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	handler(m, threadID, env)
	m.notifyLocked()
}

// markStreamingLocked flips a pending thread to active once output flows.
func (m *Manager) markStreamingLocked(threadID string) {
	st := m.ensureThreadLocked(threadID)
	if st.status == StatusPending || st.status == StatusIdle {
		st.status = StatusActive
	}
}

// applyStatusLocked runs one externally-driven transition through the guard.
func (m *Manager) applyStatusLocked(threadID string, proposed Status) {
	st := m.ensureThreadLocked(threadID)
	if !shouldApplyStatus(st.status, proposed) {
		logStatusRejected(threadID, st.status, proposed)
		return
	}
	st.status = proposed
}

func (m *Manager) appendNotificationLocked(parentID string, n Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Ts.IsZero() {
		n.Ts = time.Now()
	}
	m.notifications[parentID] = append(m.notifications[parentID], n)
}

// ========================================
// 流式 block
// ========================================

func handleConnected(m *Manager, threadID string, _ wire.Envelope) {
	logger.Debug("session: stream connected", logger.FieldThreadID, threadID)
}

func handleTextDelta(m *Manager, threadID string, env wire.Envelope) {
	d := wire.DecodeTextDelta(env.Data)
	m.turnOf(threadID).AppendText(d.Content, time.Now())
	m.markStreamingLocked(threadID)
}

func handleThinking(m *Manager, threadID string, env wire.Envelope) {
	d := wire.DecodeThinking(env.Data)
	m.turnOf(threadID).AppendReasoning(d.Content, d.Signature, time.Now())
	m.markStreamingLocked(threadID)
}

func handleToolUse(m *Manager, threadID string, env wire.Envelope) {
	d := wire.DecodeToolUse(env.Data)
	m.turnOf(threadID).OpenTool(d.ID, d.ToolName(), d.Input, time.Now())
	m.markStreamingLocked(threadID)
}

func handleToolInput(m *Manager, threadID string, env wire.Envelope) {
	d := wire.DecodeToolInput(env.Data)
	m.turnOf(threadID).PatchToolInput(d.ID, d.Input)
}

func handleToolResult(m *Manager, threadID string, env wire.Envelope) {
	d := wire.DecodeToolResult(env.Data)
	errMsg := ""
	if d.IsError {
		errMsg = d.Content
	}
	m.turnOf(threadID).CompleteTool(d.ToolUseID, d.IsError, errMsg)
}

// ========================================
// 阻塞请求 (question / plan)
// ========================================

var questionToolNames = map[string]bool{
	"ask_user":          true,
	"ask_user_question": true,
	"AskUserQuestion":   true,
}

func handleQuestion(m *Manager, threadID string, env wire.Envelope) {
	d := wire.DecodeQuestion(env.Data)
	pq := PendingQuestion{Questions: d.Questions}
	// 若当前 turn 有未完成的提问类 tool block, 记下其 id,
	// 提交答案后可回填到该 block。
	for _, b := range m.turnOf(threadID).Blocks() {
		if b.Kind == timeline.KindTool && !b.Complete && questionToolNames[b.ToolName] {
			pq.ToolCallID = b.ID
		}
	}
	m.questions[threadID] = pq
	m.applyStatusLocked(threadID, StatusNeedsAttention)
}

func handlePlanApproval(m *Manager, threadID string, env wire.Envelope) {
	d := wire.DecodePlanApproval(env.Data)
	m.plans[threadID] = PendingPlan{PlanApprovalData: d}
	m.applyStatusLocked(threadID, StatusNeedsAttention)
}

func handleChildQuestion(m *Manager, threadID string, env wire.Envelope) {
	d := wire.DecodeChildQuestion(env.Data)
	if d.ChildThreadID == "" {
		return
	}
	child := m.ensureThreadLocked(d.ChildThreadID)
	if child.info.ParentID == "" {
		child.info.ParentID = threadID
	}
	if child.info.Title == "" {
		child.info.Title = d.ChildTitle
	}
	m.questions[d.ChildThreadID] = PendingQuestion{
		Questions:      d.Questions,
		FromChildID:    d.ChildThreadID,
		FromChildTitle: d.ChildTitle,
	}
	m.applyStatusLocked(d.ChildThreadID, StatusNeedsAttention)
	if _, inline := m.threadToCall[d.ChildThreadID]; !inline {
		m.appendNotificationLocked(threadID, Notification{
			ChildThreadID: d.ChildThreadID,
			Title:         d.ChildTitle,
		})
	}
}

// ========================================
// 状态与元数据
// ========================================

func handleStatusChange(m *Manager, threadID string, env wire.Envelope) {
	d := wire.DecodeStatusChange(env.Data)
	m.applyStatusLocked(threadID, normalizeStatus(d.Status))
}

func handleStopped(m *Manager, threadID string, _ wire.Envelope) {
	m.flushClearTimerLocked(threadID)
	turn := m.turnOf(threadID)
	turn.ForceCompleteOpen()
	turn.Clear()
	m.applyStatusLocked(threadID, StatusIdle)
}

func handleConfigChange(m *Manager, threadID string, env wire.Envelope) {
	d := wire.DecodeConfigChange(env.Data)
	st := m.ensureThreadLocked(threadID)
	if d.Model != nil {
		st.info.Model = *d.Model
	}
	if d.ExtendedThinking != nil {
		st.info.ExtendedThinking = *d.ExtendedThinking
	}
	if d.PermissionMode != nil {
		st.info.PermissionMode = *d.PermissionMode
	}
	if d.AutoReact != nil {
		st.info.AutoReact = *d.AutoReact
	}
}

func handleTitleChange(m *Manager, threadID string, env wire.Envelope) {
	d := wire.DecodeTitleChange(env.Data)
	if title := strings.TrimSpace(d.Title); title != "" {
		m.ensureThreadLocked(threadID).info.Title = title
	}
}

func handleSubthreadStatus(m *Manager, threadID string, env wire.Envelope) {
	d := wire.DecodeSubthreadStatus(env.Data)
	if d.ThreadID == "" {
		return
	}
	child := m.ensureThreadLocked(d.ThreadID)
	if child.info.ParentID == "" {
		child.info.ParentID = threadID
	}
	if d.Title != "" {
		child.info.Title = d.Title
	}
	proposed := normalizeStatus(d.Status)
	m.applyStatusLocked(d.ThreadID, proposed)
	// 子线程到达终态且没有内联 tool block 指向它时, 落一条通知。
	if proposed.Terminal() {
		if _, inline := m.threadToCall[d.ThreadID]; !inline {
			m.appendNotificationLocked(threadID, Notification{
				ChildThreadID:  d.ThreadID,
				Title:          child.info.Title,
				TerminalStatus: proposed,
			})
		}
	}
}

func handleThreadCreated(m *Manager, threadID string, env wire.Envelope) {
	d := wire.DecodeThreadCreated(env.Data)
	if d.Thread.ID == "" {
		return
	}
	st := m.upsertThreadLocked(d.Thread)
	if st.info.ParentID == "" {
		st.info.ParentID = threadID
	}
	if st.info.ParentID == m.activeID && st.status.Running() && m.streams != nil {
		m.streams.SubscribeReplay(st.info.ID)
	}
	m.correlateSpawnLocked(st.info.ParentID, st.info.ID, st.info.Title, false)
}

func handleSubagentStart(m *Manager, threadID string, env wire.Envelope) {
	d := wire.DecodeSubagentStart(env.Data)
	if d.ThreadID == "" {
		return
	}
	st := m.ensureThreadLocked(d.ThreadID)
	st.ephemeral = true
	st.info.Title = d.Title
	if d.ParentID != "" {
		st.info.ParentID = d.ParentID
	} else {
		st.info.ParentID = threadID
	}
	m.applyStatusLocked(d.ThreadID, normalizeStatus(d.Status))
}

func handleSubagentStop(m *Manager, threadID string, env wire.Envelope) {
	d := wire.DecodeSubagentStop(env.Data)
	if d.ThreadID == "" {
		return
	}
	proposed := normalizeStatus(d.Status)
	if proposed == StatusIdle {
		proposed = StatusDone
	}
	m.applyStatusLocked(d.ThreadID, proposed)
}

func handleThreadArchived(m *Manager, threadID string, env wire.Envelope) {
	d := wire.DecodeThreadArchived(env.Data)
	id := d.ThreadID
	if id == "" {
		id = threadID
	}
	now := time.Now()
	m.ensureThreadLocked(id).info.ArchivedAt = &now
}

func handleThreadUnarchived(m *Manager, threadID string, env wire.Envelope) {
	d := wire.DecodeThreadArchived(env.Data)
	id := d.ThreadID
	if id == "" {
		id = threadID
	}
	m.ensureThreadLocked(id).info.ArchivedAt = nil
}

func handleUsage(m *Manager, threadID string, env wire.Envelope) {
	d := wire.DecodeUsage(env.Data)
	st := m.ensureThreadLocked(threadID)
	st.usage = &d
}

func handleQueueWaiting(m *Manager, threadID string, _ wire.Envelope) {
	m.ensureThreadLocked(threadID).queueWaiting = true
}

func handleQueueAcquired(m *Manager, threadID string, _ wire.Envelope) {
	m.ensureThreadLocked(threadID).queueWaiting = false
}

func handleStreamError(m *Manager, threadID string, env wire.Envelope) {
	d := wire.DecodeError(env.Data)
	logger.Warn("session: transport-level error event",
		logger.FieldThreadID, threadID,
		logger.FieldError, d.Error)
}

// ========================================
// turn 完成
// ========================================

func handleComplete(m *Manager, threadID string, env wire.Envelope) {
	d := wire.DecodeComplete(env.Data)
	m.turnOf(threadID).ForceCompleteOpen()

	proposed := StatusDone
	if d.Status != "" {
		proposed = normalizeStatus(d.Status)
	}
	m.applyStatusLocked(threadID, proposed)
	delete(m.questions, threadID)
	delete(m.plans, threadID)

	// 延迟清屏: 等折叠动画窗口过去, 再原子地清空流式 block 并合并持久化
	// 消息, 避免双份正文同时可见。
	m.flushClearTimerLocked(threadID)
	m.pendingMerges[threadID] = d
	m.clearTimers[threadID] = m.sched.AfterFunc(m.clearDelay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.clearTimers, threadID)
		if pd, ok := m.pendingMerges[threadID]; ok {
			delete(m.pendingMerges, threadID)
			m.mergeTurnLocked(threadID, pd)
		}
		m.notifyLocked()
	})
}

// flushClearTimerLocked cancels a pending delayed clear. A merge still
// outstanding is applied immediately: the persisted turn must land in the
// history even when the collapse window is cut short.
func (m *Manager) flushClearTimerLocked(threadID string) {
	if t, ok := m.clearTimers[threadID]; ok {
		t.Stop()
		delete(m.clearTimers, threadID)
	}
	if d, ok := m.pendingMerges[threadID]; ok {
		delete(m.pendingMerges, threadID)
		m.mergeTurnLocked(threadID, d)
	}
}

// mergeTurnLocked clears the streaming transcript and folds the persisted
// user/assistant messages into the thread history, replacing the optimistic
// placeholder by the temp-id convention.
func (m *Manager) mergeTurnLocked(threadID string, d wire.CompleteData) {
	m.turnOf(threadID).Clear()
	st := m.ensureThreadLocked(threadID)

	kept := st.info.Messages[:0:0]
	for _, msg := range st.info.Messages {
		if strings.HasPrefix(msg.ID, optimisticIDPrefix) {
			continue
		}
		kept = append(kept, msg)
	}
	for _, incoming := range []*wire.Message{d.UserMessage, d.AssistantMessage} {
		if incoming == nil || incoming.ID == "" {
			continue
		}
		if hasMessage(kept, incoming.ID) {
			continue
		}
		kept = append(kept, *incoming)
	}
	st.info.Messages = kept
}

func hasMessage(msgs []wire.Message, id string) bool {
	for _, msg := range msgs {
		if msg.ID == id {
			return true
		}
	}
	return false
}

func handleMessage(m *Manager, threadID string, env wire.Envelope) {
	d := wire.DecodeMessage(env.Data)
	st := m.ensureThreadLocked(threadID)
	if d.Message.ID != "" && !hasMessage(st.info.Messages, d.Message.ID) {
		st.info.Messages = append(st.info.Messages, d.Message)
	}
	if d.Status != "" {
		m.applyStatusLocked(threadID, normalizeStatus(d.Status))
	}
}
