// status.go — thread 状态机与单调性守卫。
package session

import "strings"

// Status is a thread's lifecycle state as shown to the user.
//
// idle → pending (turn sent) → {active, needs-attention, done};
// new-message sits beside active for unread signaling; done is terminal.
type Status string

const (
	StatusIdle           Status = "idle"
	StatusPending        Status = "pending"
	StatusActive         Status = "active"
	StatusNewMessage     Status = "new-message"
	StatusNeedsAttention Status = "needs-attention"
	StatusDone           Status = "done"
)

// Terminal reports whether the status must never be regressed by later
// events.
func (s Status) Terminal() bool { return s == StatusDone }

// Running reports whether a child thread in this status still produces
// output and deserves a live subscription when its parent is focused.
func (s Status) Running() bool {
	return s == StatusActive || s == StatusPending || s == StatusNewMessage
}

// normalizeStatus folds the server's status vocabulary onto ours. Unknown
// strings degrade to idle rather than poisoning the state machine.
func normalizeStatus(raw string) Status {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "":
		return StatusIdle
	case "running", "streaming", "working", "in_progress", "active":
		return StatusActive
	case "pending", "queued", "starting", "sent":
		return StatusPending
	case "new_message", "new-message", "unread":
		return StatusNewMessage
	case "needs_attention", "needs-attention", "waiting", "blocked", "error", "failed":
		return StatusNeedsAttention
	case "done", "completed", "finished", "success":
		return StatusDone
	case "idle", "ready", "stopped":
		return StatusIdle
	}
	return StatusIdle
}

// shouldApplyStatus is the monotonicity guard for externally-driven status
// transitions: a terminal thread only accepts terminal writes (idempotent
// no-op). Locally-optimistic transitions bypass this guard.
func shouldApplyStatus(current, proposed Status) bool {
	if current.Terminal() {
		return proposed.Terminal()
	}
	return true
}
