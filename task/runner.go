package task

import "github.com/wippyai/rtcore/waitq"

// runner is the waitq.Blocker of a task: queuing a task releases the CPU
// token, waking it readies the task, and resuming reacquires the token.
type runner struct {
	t *Task
}

func (r *runner) Priority() int {
	return r.t.Priority()
}

func (r *runner) Suspend(w *waitq.Waiter) {
	t := r.t
	s := t.sched
	s.mu.Lock()
	t.state = Blocked
	t.pending = w
	s.release(t)
	s.mu.Unlock()
}

func (r *runner) Ready(w *waitq.Waiter) {
	t := r.t
	s := t.sched
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.pending == w {
		t.pending = nil
	}
	if t.deleted {
		t.grant()
		return
	}
	s.makeReady(t, false)
}

func (r *runner) Resume(*waitq.Waiter) {
	r.t.acquire()
}

func (r *runner) Preempt() {
	r.t.reschedule(false)
}
