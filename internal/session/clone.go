// clone.go — 快照的深拷贝构造。读方拿到的永远是独立副本。
package session

import "github.com/multi-agent/agent-console/internal/wire"

func (m *Manager) snapshotLocked() Snapshot {
	snap := Snapshot{
		ActiveThreadID: m.activeID,
		Threads:        make([]ThreadView, 0, len(m.order)),
	}
	for _, id := range m.order {
		st, ok := m.threads[id]
		if !ok {
			continue
		}
		snap.Threads = append(snap.Threads, ThreadView{
			Thread:       cloneThread(st.info),
			Status:       st.status,
			QueueWaiting: st.queueWaiting,
			Ephemeral:    st.ephemeral,
			Usage:        cloneUsage(st.usage),
			LastError:    st.lastError,
		})
	}
	if len(m.notifications) > 0 {
		snap.Notifications = make(map[string][]Notification, len(m.notifications))
		for id, list := range m.notifications {
			snap.Notifications[id] = append([]Notification(nil), list...)
		}
	}
	if len(m.questions) > 0 {
		snap.Questions = make(map[string]PendingQuestion, len(m.questions))
		for id, q := range m.questions {
			q.Questions = cloneQuestions(q.Questions)
			snap.Questions[id] = q
		}
	}
	if len(m.plans) > 0 {
		snap.Plans = make(map[string]PendingPlan, len(m.plans))
		for id, p := range m.plans {
			p.AllowedPrompts = append([]string(nil), p.AllowedPrompts...)
			snap.Plans[id] = p
		}
	}
	return snap
}

func cloneThread(t wire.Thread) wire.Thread {
	out := t
	out.Messages = cloneMessages(t.Messages)
	if t.ArchivedAt != nil {
		ts := *t.ArchivedAt
		out.ArchivedAt = &ts
	}
	return out
}

func cloneMessages(msgs []wire.Message) []wire.Message {
	if msgs == nil {
		return nil
	}
	out := make([]wire.Message, len(msgs))
	for i, msg := range msgs {
		out[i] = msg
		out[i].Images = append([]string(nil), msg.Images...)
	}
	return out
}

func cloneQuestions(qs []wire.Question) []wire.Question {
	out := make([]wire.Question, len(qs))
	for i, q := range qs {
		out[i] = q
		out[i].Options = append([]string(nil), q.Options...)
	}
	return out
}

func cloneUsage(u *wire.UsageData) *wire.UsageData {
	if u == nil {
		return nil
	}
	copied := *u
	return &copied
}
