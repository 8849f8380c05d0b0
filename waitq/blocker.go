package waitq

import (
	"context"
	"time"
)

// Priority bounds shared by every priority-ordered queue. Callers outside
// any task wait at MinPriority.
const (
	MinPriority = 0
	MaxPriority = 255
)

// Blocker is the execution context suspended by a wait. Tasks implement it
// to hand the CPU over while blocked; plain goroutines have no Blocker.
type Blocker interface {
	// Priority is sampled when the waiter is queued.
	Priority() int
	// Suspend is called with the queue lock held right after queuing.
	Suspend(w *Waiter)
	// Ready is called with the queue lock held when w leaves the queue.
	Ready(w *Waiter)
	// Resume is called without locks by the waiting goroutine after wake-up.
	Resume(w *Waiter)
}

// Preempter is implemented by blockers that honour deferred preemption.
type Preempter interface {
	Preempt()
}

// Alarms arms one-shot callbacks for timed waits.
type Alarms interface {
	AfterFunc(d time.Duration, fn func()) Alarm
}

// Alarm is a cancellable one-shot callback.
type Alarm interface {
	Stop() bool
}

type blockerKey struct{}

// WithBlocker returns a context whose waits suspend b.
func WithBlocker(ctx context.Context, b Blocker) context.Context {
	return context.WithValue(ctx, blockerKey{}, b)
}

// BlockerFrom returns the blocker carried by ctx, or nil.
func BlockerFrom(ctx context.Context) Blocker {
	if ctx == nil {
		return nil
	}
	b, _ := ctx.Value(blockerKey{}).(Blocker)
	return b
}

// Reschedule is the preemption point run at the end of operations that
// may have readied a higher-priority task.
func Reschedule(ctx context.Context) {
	if p, ok := BlockerFrom(ctx).(Preempter); ok {
		p.Preempt()
	}
}

func clampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}
