// types.go — 会话快照的数据类型。
package session

import (
	"time"

	"github.com/multi-agent/agent-console/internal/timeline"
	"github.com/multi-agent/agent-console/internal/wire"
)

// optimisticIDPrefix marks locally-created placeholder messages until the
// server's persisted copy replaces them.
const optimisticIDPrefix = "temp-"

// Notification is a cross-thread event surfaced on a parent's feed when the
// child is not already visible as an inline tool block.
type Notification struct {
	ID             string    `json:"id"`
	ChildThreadID  string    `json:"childThreadId"`
	Title          string    `json:"title"`
	Ts             time.Time `json:"ts"`
	TerminalStatus Status    `json:"terminalStatus,omitempty"`
}

// PendingQuestion blocks a thread until the user answers.
type PendingQuestion struct {
	Questions      []wire.Question `json:"questions"`
	ToolCallID     string          `json:"toolCallId,omitempty"`
	FromChildID    string          `json:"fromChildId,omitempty"`
	FromChildTitle string          `json:"fromChildTitle,omitempty"`
}

// PendingPlan blocks a thread until the user acts on the proposed plan.
type PendingPlan struct {
	wire.PlanApprovalData
}

// ThreadView is one thread as exposed in a snapshot.
type ThreadView struct {
	wire.Thread
	Status       Status          `json:"statusView"`
	QueueWaiting bool            `json:"queueWaiting,omitempty"`
	Ephemeral    bool            `json:"ephemeral,omitempty"`
	Usage        *wire.UsageData `json:"usageView,omitempty"`
	LastError    string          `json:"lastError,omitempty"`
}

// Snapshot is a deep-copied view of the whole session state. Block lists are
// heavy and fetched per thread via Manager.ThreadBlocks.
type Snapshot struct {
	ActiveThreadID string                     `json:"activeThreadId"`
	Threads        []ThreadView               `json:"threads"`
	Notifications  map[string][]Notification  `json:"notifications,omitempty"`
	Questions      map[string]PendingQuestion `json:"questions,omitempty"`
	Plans          map[string]PendingPlan     `json:"plans,omitempty"`
}

// threadState is the manager-internal record for one thread.
type threadState struct {
	info         wire.Thread
	status       Status
	usage        *wire.UsageData
	queueWaiting bool
	ephemeral    bool
	lastError    string
}

// turnOf lazily materializes the per-thread reducer.
func (m *Manager) turnOf(threadID string) *timeline.Turn {
	t, ok := m.turns[threadID]
	if !ok {
		t = timeline.NewTurn(m.expandLimit)
		m.turns[threadID] = t
	}
	return t
}
