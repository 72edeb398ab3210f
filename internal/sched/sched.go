// Package sched 把"延迟 N 毫秒后执行 X"收敛到一个可替换的调度接口,
// 测试用虚拟时钟驱动, 不依赖真实计时器。
package sched

import (
	"sort"
	"sync"
	"time"
)

// Timer is a cancellable pending task.
type Timer interface {
	// Stop cancels the task if it has not fired. Reports whether it was
	// still pending.
	Stop() bool
}

// Scheduler runs a function after a delay.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// ========================================
// 真实时钟
// ========================================

type realScheduler struct{}

// NewReal returns a Scheduler backed by time.AfterFunc.
func NewReal() Scheduler { return realScheduler{} }

func (realScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return realTimer{t: time.AfterFunc(d, fn)}
}

type realTimer struct{ t *time.Timer }

func (rt realTimer) Stop() bool { return rt.t.Stop() }

// ========================================
// 虚拟时钟 (测试用)
// ========================================

// Virtual is a deterministic Scheduler driven by Advance.
type Virtual struct {
	mu    sync.Mutex
	now   time.Duration
	seq   int
	tasks []*virtualTask
}

type virtualTask struct {
	owner    *Virtual
	deadline time.Duration
	seq      int
	fn       func()
	stopped  bool
}

// NewVirtual returns a virtual scheduler starting at time zero.
func NewVirtual() *Virtual { return &Virtual{} }

func (v *Virtual) AfterFunc(d time.Duration, fn func()) Timer {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seq++
	task := &virtualTask{owner: v, deadline: v.now + d, seq: v.seq, fn: fn}
	v.tasks = append(v.tasks, task)
	return task
}

func (t *virtualTask) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock forward, firing due tasks in deadline order.
// Tasks scheduled by a firing task run in the same Advance if due.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	target := v.now + d
	for {
		task := v.popDueLocked(target)
		if task == nil {
			break
		}
		v.now = task.deadline
		v.mu.Unlock()
		task.fn()
		v.mu.Lock()
	}
	v.now = target
	v.mu.Unlock()
}

func (v *Virtual) popDueLocked(target time.Duration) *virtualTask {
	live := v.tasks[:0]
	for _, t := range v.tasks {
		if !t.stopped {
			live = append(live, t)
		}
	}
	v.tasks = live
	sort.SliceStable(v.tasks, func(i, j int) bool {
		if v.tasks[i].deadline != v.tasks[j].deadline {
			return v.tasks[i].deadline < v.tasks[j].deadline
		}
		return v.tasks[i].seq < v.tasks[j].seq
	})
	if len(v.tasks) == 0 || v.tasks[0].deadline > target {
		return nil
	}
	task := v.tasks[0]
	v.tasks = v.tasks[1:]
	task.stopped = true
	return task
}

// Pending reports how many tasks are scheduled and not yet fired or stopped.
func (v *Virtual) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, t := range v.tasks {
		if !t.stopped {
			n++
		}
	}
	return n
}
