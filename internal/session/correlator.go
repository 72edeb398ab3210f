// correlator.go — 把 "thread created" 事件关联回发起它的 spawn tool 调用。
package session

import (
	"strings"

	"github.com/multi-agent/agent-console/internal/timeline"
	"github.com/multi-agent/agent-console/pkg/logger"
)

var spawnToolNames = map[string]bool{
	"spawn_subthread":  true,
	"spawn_subagent":   true,
	"create_subthread": true,
	"Task":             true,
}

// spawnTitle pulls the declared title out of a spawn tool's input.
func spawnTitle(input map[string]any) string {
	for _, key := range []string{"title", "name", "description"} {
		if v, ok := input[key].(string); ok {
			if t := strings.TrimSpace(v); t != "" {
				return t
			}
		}
	}
	return ""
}

// correlateSpawnLocked links a newly announced child thread to the open
// spawn-tool block whose declared title matches. The tool-open event can lag
// behind the creation notification, so an unmatched first pass schedules one
// bounded retry; a still-unmatched retry degrades to a cross-thread
// notification instead of an inline reference.
//
// Two concurrently spawned children with identical titles are matched
// first-come: the scan skips blocks that already carry a correlation.
func (m *Manager) correlateSpawnLocked(parentID, childID, childTitle string, retried bool) {
	if parentID == "" || childID == "" {
		return
	}
	if _, done := m.threadToCall[childID]; done {
		return
	}

	turn, ok := m.turns[parentID]
	if ok {
		for _, b := range turn.Blocks() {
			if b.Kind != timeline.KindTool || !spawnToolNames[b.ToolName] {
				continue
			}
			if _, taken := m.callToThread[b.ID]; taken {
				continue
			}
			if childTitle == "" || spawnTitle(b.Input) != childTitle {
				continue
			}
			m.callToThread[b.ID] = childID
			m.threadToCall[childID] = b.ID
			logger.Debug("session: spawn correlated",
				logger.FieldThreadID, childID,
				logger.FieldCallID, b.ID,
				logger.FieldParentID, parentID)
			return
		}
	}

	if !retried {
		if t, pending := m.spawnRetryTimers[childID]; pending {
			t.Stop()
		}
		m.spawnRetryTimers[childID] = m.sched.AfterFunc(m.spawnRetryDelay, func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.spawnRetryTimers, childID)
			m.correlateSpawnLocked(parentID, childID, childTitle, true)
			m.notifyLocked()
		})
		return
	}

	// 彻底关联失败: 退化为父线程通知。
	m.appendNotificationLocked(parentID, Notification{
		ChildThreadID: childID,
		Title:         childTitle,
	})
	logger.Debug("session: spawn correlation fell back to notification",
		logger.FieldThreadID, childID,
		logger.FieldTitle, childTitle)
}
