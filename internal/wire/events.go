// Package wire 封装服务端推送事件的类型与解码。
//
// 解码永不失败: 畸形 JSON 得到零值 payload, 未知字段忽略,
// 引擎其余部分与线上格式漂移隔离。
package wire

import "encoding/json"

// EventType is the wire-level name of a push event.
type EventType string

const (
	EventConnected       EventType = "connected"
	EventTextDelta       EventType = "text_delta"
	EventThinking        EventType = "thinking"
	EventToolUse         EventType = "tool_use"
	EventToolInput       EventType = "tool_input"
	EventToolResult      EventType = "tool_result"
	EventQuestion        EventType = "question"
	EventPlanApproval    EventType = "plan_approval"
	EventMessage         EventType = "message"
	EventStatusChange    EventType = "status_change"
	EventStopped         EventType = "stopped"
	EventConfigChange    EventType = "config_change"
	EventTitleChange     EventType = "title_change"
	EventSubthreadStatus EventType = "subthread_status"
	EventThreadCreated   EventType = "thread_created"
	EventSubagentStart   EventType = "subagent_start"
	EventSubagentStop    EventType = "subagent_stop"
	EventChildQuestion   EventType = "child_question"
	EventThreadArchived  EventType = "thread_archived"
	EventThreadUnarchive EventType = "thread_unarchived"
	EventUsage           EventType = "usage"
	EventQueueWaiting    EventType = "queue_waiting"
	EventQueueAcquired   EventType = "queue_acquired"
	EventComplete        EventType = "complete"
	EventError           EventType = "error"
)

// Sequenced reports whether events of this type carry a transport sequence id
// and therefore pass through the dedup/resume guard. Connection-lifecycle and
// transport-level events are one-shot and bypass it.
func (t EventType) Sequenced() bool {
	switch t {
	case EventConnected, EventStopped, EventQueueWaiting, EventQueueAcquired, EventError:
		return false
	}
	return true
}

// Envelope is one push event as read off a thread's subscription.
type Envelope struct {
	Event    string          `json:"event"`
	Seq      int64           `json:"seq,omitempty"`
	ThreadID string          `json:"threadId,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Type returns the typed event name.
func (e Envelope) Type() EventType { return EventType(e.Event) }

// ========================================
// 事件数据类型
// ========================================

// TextDeltaData is one streamed fragment of assistant text.
type TextDeltaData struct {
	Content string `json:"content"`
}

// ThinkingData is one streamed fragment of reasoning output.
type ThinkingData struct {
	Content   string `json:"content"`
	Signature string `json:"signature,omitempty"`
}

// ToolUseData opens a tool invocation. Servers have shipped both "name" and
// "tool" for the tool name; ToolName resolves whichever is present.
type ToolUseData struct {
	Name  string         `json:"name,omitempty"`
	Tool  string         `json:"tool,omitempty"`
	Input map[string]any `json:"input,omitempty"`
	ID    string         `json:"id"`
}

// ToolName returns the declared tool name, preferring "name".
func (d ToolUseData) ToolName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Tool
}

// ToolInputData patches a previously opened tool invocation's partial input.
type ToolInputData struct {
	ID    string         `json:"id"`
	Input map[string]any `json:"input,omitempty"`
}

// ToolResultData completes a tool invocation.
type ToolResultData struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
}

// Question is one agent question awaiting a user answer.
type Question struct {
	ID      string   `json:"id,omitempty"`
	Text    string   `json:"text"`
	Options []string `json:"options,omitempty"`
}

// QuestionData blocks the thread until the user answers.
type QuestionData struct {
	Questions []Question `json:"questions"`
}

// PlanApprovalData blocks the thread until the user acts on a plan.
type PlanApprovalData struct {
	PlanFilePath   string   `json:"planFilePath,omitempty"`
	PlanContent    string   `json:"planContent"`
	AllowedPrompts []string `json:"allowedPrompts,omitempty"`
	Timeout        int      `json:"timeout,omitempty"`
	Message        string   `json:"message,omitempty"`
}

// MessageData carries a notification-style persisted message.
type MessageData struct {
	Message Message `json:"message"`
	Status  string  `json:"status,omitempty"`
}

// StatusChangeData announces a server-side status transition.
type StatusChangeData struct {
	Status string `json:"status"`
}

// ConfigChangeData patches thread configuration. Absent fields stay untouched.
type ConfigChangeData struct {
	Model            *string `json:"model,omitempty"`
	ExtendedThinking *bool   `json:"extendedThinking,omitempty"`
	PermissionMode   *string `json:"permissionMode,omitempty"`
	AutoReact        *bool   `json:"autoReact,omitempty"`
}

// TitleChangeData renames a thread.
type TitleChangeData struct {
	Title string `json:"title"`
}

// SubthreadStatusData reports a child thread's status to its parent's stream.
type SubthreadStatusData struct {
	ThreadID string `json:"threadId"`
	Status   string `json:"status"`
	Title    string `json:"title,omitempty"`
}

// ThreadCreatedData announces an agent-spawned thread.
type ThreadCreatedData struct {
	Thread Thread `json:"thread"`
}

// SubagentStartData announces an ephemeral, read-only sub-agent thread.
type SubagentStartData struct {
	ThreadID string `json:"threadId"`
	Title    string `json:"title"`
	ParentID string `json:"parentId"`
	Status   string `json:"status"`
}

// SubagentStopData ends an ephemeral sub-agent thread.
type SubagentStopData struct {
	ThreadID string `json:"threadId"`
	Status   string `json:"status"`
}

// ChildQuestionData surfaces a child's pending question on the parent stream.
type ChildQuestionData struct {
	ChildThreadID string     `json:"childThreadId"`
	ChildTitle    string     `json:"childTitle"`
	Questions     []Question `json:"questions"`
}

// ThreadArchivedData marks a thread archived or unarchived.
type ThreadArchivedData struct {
	ThreadID string `json:"threadId"`
}

// UsageData is a volatile token-usage snapshot.
type UsageData struct {
	Usage        TokenUsage `json:"usage"`
	TotalCostUSD float64    `json:"totalCostUsd"`
}

// CompleteData persists the finished turn.
type CompleteData struct {
	UserMessage      *Message `json:"userMessage,omitempty"`
	AssistantMessage *Message `json:"assistantMessage,omitempty"`
	Status           string   `json:"status,omitempty"`
}

// ErrorData is a transport-level error report.
type ErrorData struct {
	Error string `json:"error,omitempty"`
}
