package session

import "testing"

func TestNormalizeStatus(t *testing.T) {
	cases := []struct {
		raw  string
		want Status
	}{
		{"", StatusIdle},
		{"idle", StatusIdle},
		{"stopped", StatusIdle},
		{"running", StatusActive},
		{"ACTIVE", StatusActive},
		{"in_progress", StatusActive},
		{"pending", StatusPending},
		{"queued", StatusPending},
		{"new_message", StatusNewMessage},
		{"new-message", StatusNewMessage},
		{"needs_attention", StatusNeedsAttention},
		{"waiting", StatusNeedsAttention},
		{"failed", StatusNeedsAttention},
		{"done", StatusDone},
		{"completed", StatusDone},
		{"garbage-value", StatusIdle},
	}
	for _, tc := range cases {
		if got := normalizeStatus(tc.raw); got != tc.want {
			t.Errorf("normalizeStatus(%q) = %s, want %s", tc.raw, got, tc.want)
		}
	}
}

func TestShouldApplyStatusMonotonicity(t *testing.T) {
	all := []Status{StatusIdle, StatusPending, StatusActive, StatusNewMessage, StatusNeedsAttention, StatusDone}
	for _, current := range all {
		for _, proposed := range all {
			got := shouldApplyStatus(current, proposed)
			want := true
			if current == StatusDone && proposed != StatusDone {
				want = false
			}
			if got != want {
				t.Errorf("shouldApplyStatus(%s, %s) = %v, want %v", current, proposed, got, want)
			}
		}
	}
}

func TestRunningStatuses(t *testing.T) {
	if !StatusActive.Running() || !StatusPending.Running() || !StatusNewMessage.Running() {
		t.Errorf("active/pending/new-message should count as running")
	}
	if StatusIdle.Running() || StatusDone.Running() || StatusNeedsAttention.Running() {
		t.Errorf("idle/done/needs-attention should not count as running")
	}
}
