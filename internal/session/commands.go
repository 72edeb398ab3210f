// commands.go — 门面命令: 先乐观改本地, 再打网络, 失败回滚。
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/multi-agent/agent-console/internal/api"
	"github.com/multi-agent/agent-console/internal/timeline"
	"github.com/multi-agent/agent-console/internal/wire"
	apperrors "github.com/multi-agent/agent-console/pkg/errors"
	"github.com/multi-agent/agent-console/pkg/logger"
)

// SendMessage optimistically appends the user message and flips the thread
// to pending, then posts under the hard send timeout. A cancel-code response
// reverts silently; timeout and other failures revert and surface the error
// with the thread left in needs-attention.
func (m *Manager) SendMessage(ctx context.Context, threadID, content string, images, fileRefs []string) error {
	tempID := optimisticIDPrefix + uuid.NewString()

	m.mu.Lock()
	// 上一轮还挂着待清屏计时器时先结清: 持久化消息合并进历史,
	// 流式残留清掉, 然后才追加新的乐观占位。
	m.flushClearTimerLocked(threadID)
	m.turnOf(threadID).Clear()
	st := m.ensureThreadLocked(threadID)
	prev := st.status
	st.status = StatusPending
	st.lastError = ""
	st.info.Messages = append(st.info.Messages, wire.Message{
		ID:        tempID,
		Role:      "user",
		Content:   content,
		Images:    append([]string(nil), images...),
		CreatedAt: time.Now(),
	})
	m.notifyLocked()
	m.mu.Unlock()

	cctx, cancel := api.WithTimeout(ctx, m.sendTimeout)
	defer cancel()
	err := m.backend.PostMessage(cctx, threadID, api.SendMessageRequest{
		Content:  content,
		Images:   images,
		FileRefs: fileRefs,
	})
	if err == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	st = m.ensureThreadLocked(threadID)
	removeMessage(st, tempID)
	defer m.notifyLocked()

	switch {
	case errors.Is(err, apperrors.ErrCancelled):
		// 用户主动取消不是错误: 静默回滚。
		st.status = prev
		return nil
	case errors.Is(err, apperrors.ErrTimeout):
		st.status = StatusNeedsAttention
		st.lastError = "send timed out, the agent may still be processing"
		return err
	default:
		st.status = StatusNeedsAttention
		st.lastError = err.Error()
		return err
	}
}

func removeMessage(st *threadState, id string) {
	kept := st.info.Messages[:0:0]
	for _, msg := range st.info.Messages {
		if msg.ID != id {
			kept = append(kept, msg)
		}
	}
	st.info.Messages = kept
}

// Stop requests server-side cancellation. "Already finished" responses are
// swallowed. On success the open tool blocks are force-completed, the turn
// cleared, and the thread locally set active until server push reconciles.
func (m *Manager) Stop(ctx context.Context, threadID string) error {
	err := m.backend.Stop(ctx, threadID)
	if err != nil {
		if errors.Is(err, apperrors.ErrAlreadyFinished) {
			logger.Debug("session: stop on finished thread swallowed",
				logger.FieldThreadID, threadID)
			return nil
		}
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushClearTimerLocked(threadID)
	turn := m.turnOf(threadID)
	turn.ForceCompleteOpen()
	turn.Clear()
	m.ensureThreadLocked(threadID).status = StatusActive
	m.notifyLocked()
	return nil
}

// CreateThread creates a thread server-side and registers it locally.
func (m *Manager) CreateThread(ctx context.Context, req api.CreateThreadRequest) (wire.Thread, error) {
	t, err := m.backend.CreateThread(ctx, req)
	if err != nil {
		return wire.Thread{}, err
	}
	m.mu.Lock()
	m.upsertThreadLocked(t)
	m.notifyLocked()
	m.mu.Unlock()
	return t, nil
}

// Archive soft-deletes a thread and drops its subscription.
func (m *Manager) Archive(ctx context.Context, threadID string) error {
	if err := m.backend.Archive(ctx, threadID); err != nil {
		return err
	}
	m.mu.Lock()
	now := time.Now()
	m.ensureThreadLocked(threadID).info.ArchivedAt = &now
	streams := m.streams
	m.notifyLocked()
	m.mu.Unlock()
	if streams != nil {
		streams.Unsubscribe(threadID)
	}
	return nil
}

// Unarchive restores an archived thread.
func (m *Manager) Unarchive(ctx context.Context, threadID string) error {
	if err := m.backend.Unarchive(ctx, threadID); err != nil {
		return err
	}
	m.mu.Lock()
	m.ensureThreadLocked(threadID).info.ArchivedAt = nil
	m.notifyLocked()
	m.mu.Unlock()
	return nil
}

// SetTitle renames a thread.
func (m *Manager) SetTitle(ctx context.Context, threadID, title string) error {
	if err := m.backend.SetTitle(ctx, threadID, title); err != nil {
		return err
	}
	m.mu.Lock()
	m.ensureThreadLocked(threadID).info.Title = title
	m.notifyLocked()
	m.mu.Unlock()
	return nil
}

// SetConfig patches thread configuration.
func (m *Manager) SetConfig(ctx context.Context, threadID string, patch wire.ConfigChangeData) error {
	if err := m.backend.SetConfig(ctx, threadID, patch); err != nil {
		return err
	}
	m.mu.Lock()
	st := m.ensureThreadLocked(threadID)
	if patch.Model != nil {
		st.info.Model = *patch.Model
	}
	if patch.ExtendedThinking != nil {
		st.info.ExtendedThinking = *patch.ExtendedThinking
	}
	if patch.PermissionMode != nil {
		st.info.PermissionMode = *patch.PermissionMode
	}
	if patch.AutoReact != nil {
		st.info.AutoReact = *patch.AutoReact
	}
	m.notifyLocked()
	m.mu.Unlock()
	return nil
}

// DeleteMessages removes messages from history.
func (m *Manager) DeleteMessages(ctx context.Context, threadID string, messageIDs []string) error {
	if err := m.backend.DeleteMessages(ctx, threadID, messageIDs); err != nil {
		return err
	}
	drop := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		drop[id] = true
	}
	m.mu.Lock()
	st := m.ensureThreadLocked(threadID)
	kept := st.info.Messages[:0:0]
	for _, msg := range st.info.Messages {
		if !drop[msg.ID] {
			kept = append(kept, msg)
		}
	}
	st.info.Messages = kept
	m.notifyLocked()
	m.mu.Unlock()
	return nil
}

// ResetAll wipes every thread, server-side and local. confirm must be true.
func (m *Manager) ResetAll(ctx context.Context, confirm bool) error {
	if !confirm {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "Session.ResetAll", "confirmation required")
	}
	if err := m.backend.DeleteAll(ctx, true); err != nil {
		return err
	}
	m.mu.Lock()
	for id, t := range m.clearTimers {
		t.Stop()
		delete(m.clearTimers, id)
	}
	for id, t := range m.spawnRetryTimers {
		t.Stop()
		delete(m.spawnRetryTimers, id)
	}
	m.pendingMerges = make(map[string]wire.CompleteData)
	m.threads = make(map[string]*threadState)
	m.order = nil
	m.activeID = ""
	m.turns = make(map[string]*timeline.Turn)
	m.notifications = make(map[string][]Notification)
	m.questions = make(map[string]PendingQuestion)
	m.plans = make(map[string]PendingPlan)
	m.callToThread = make(map[string]string)
	m.threadToCall = make(map[string]string)
	streams := m.streams
	m.notifyLocked()
	m.mu.Unlock()
	if streams != nil {
		streams.Close()
	}
	return nil
}

// SubmitAnswers resolves a pending question and reflects the answers on the
// originating tool block when one is known.
func (m *Manager) SubmitAnswers(ctx context.Context, threadID string, answers []string) error {
	if err := m.backend.SubmitAnswers(ctx, threadID, answers); err != nil {
		return err
	}
	m.mu.Lock()
	if pq, ok := m.questions[threadID]; ok && pq.ToolCallID != "" {
		m.turnOf(threadID).SetAnswers(pq.ToolCallID, answers)
	}
	delete(m.questions, threadID)
	m.ensureThreadLocked(threadID).status = StatusActive
	m.notifyLocked()
	m.mu.Unlock()
	return nil
}

// SubmitPlanAction resolves a pending plan approval.
func (m *Manager) SubmitPlanAction(ctx context.Context, threadID string, req api.PlanActionRequest) error {
	if err := m.backend.SubmitPlanAction(ctx, threadID, req); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.plans, threadID)
	m.ensureThreadLocked(threadID).status = StatusActive
	m.notifyLocked()
	m.mu.Unlock()
	return nil
}

// LoadOlderMessages pages history backwards and prepends unseen messages.
func (m *Manager) LoadOlderMessages(ctx context.Context, threadID string, limit, offset int) error {
	msgs, err := m.backend.OlderMessages(ctx, threadID, limit, offset)
	if err != nil {
		return err
	}
	m.mu.Lock()
	st := m.ensureThreadLocked(threadID)
	fresh := make([]wire.Message, 0, len(msgs))
	for _, msg := range msgs {
		if !hasMessage(st.info.Messages, msg.ID) {
			fresh = append(fresh, msg)
		}
	}
	if len(fresh) > 0 {
		st.info.Messages = append(fresh, st.info.Messages...)
	}
	m.notifyLocked()
	m.mu.Unlock()
	return nil
}

// RefreshUsage fetches the thread's token-usage summary.
func (m *Manager) RefreshUsage(ctx context.Context, threadID string) error {
	usage, err := m.backend.Usage(ctx, threadID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.ensureThreadLocked(threadID).usage = &usage
	m.notifyLocked()
	m.mu.Unlock()
	return nil
}
