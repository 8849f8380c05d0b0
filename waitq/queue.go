package waitq

import (
	"context"
	"math/bits"
	"sync"

	"github.com/wippyai/rtcore/errors"
)

// Waiter is one blocked caller. Its reason is a tagged state mutated only
// under the queue lock, so exactly one of wake, timeout, interrupt or
// eviction wins.
type Waiter struct {
	// Value is handed to the waiter by whoever wakes it.
	Value any
	// Data is attached by the waiting side before it sleeps.
	Data any

	q       *Queue
	blocker Blocker
	alarm   Alarm
	prev    *Waiter
	next    *Waiter
	done    chan struct{}
	prio    int
	slot    int
	reason  Reason
}

// Priority returns the priority the waiter is queued at.
func (w *Waiter) Priority() int { return w.prio }

// Blocker returns the suspended execution context, nil for plain goroutines.
func (w *Waiter) Blocker() Blocker { return w.blocker }

// Reason returns the current state. Only meaningful under the queue lock or
// after Wait returned.
func (w *Waiter) Reason() Reason { return w.reason }

// Done is closed once the waiter has left its queue.
func (w *Waiter) Done() <-chan struct{} { return w.done }

// Config fixes a queue's discipline and labelling.
type Config struct {
	Alarms Alarms
	Phase  errors.Phase
	Object string
	Order  Order
}

type list struct {
	head *Waiter
	tail *Waiter
}

// Queue is an ordered set of blocked waiters guarded by its owner's lock.
type Queue struct {
	lock   sync.Locker
	alarms Alarms
	fifo   list
	prio   *prioIndex
	phase  errors.Phase
	object string
	n      int
	order  Order
}

type prioIndex struct {
	lists  [MaxPriority + 1]list
	bitmap [(MaxPriority + 1) / 64]uint64
}

// New creates a queue protected by lock, which must be the lock of the
// object owning the queue.
func New(lock sync.Locker, cfg Config) *Queue {
	q := &Queue{
		lock:   lock,
		alarms: cfg.Alarms,
		phase:  cfg.Phase,
		object: cfg.Object,
		order:  cfg.Order,
	}
	if cfg.Order == Priority {
		q.prio = &prioIndex{}
	}
	return q
}

// Order returns the wake-up discipline.
func (q *Queue) Order() Order { return q.order }

// Len returns the number of queued waiters. Caller holds the lock.
func (q *Queue) Len() int { return q.n }

// Enqueue queues the caller described by ctx. The caller holds the lock,
// releases it, then calls Wait. NoWait modes are rejected: the owner
// reports its own unavailability error before queuing.
func (q *Queue) Enqueue(ctx context.Context, mode Mode) (*Waiter, error) {
	if err := mode.Validate(q.phase); err != nil {
		return nil, err
	}
	if mode.IsNoWait() {
		return nil, errors.InvalidArgument(q.phase, "nowait request cannot be queued")
	}
	d, timed := mode.Timeout()
	if timed && q.alarms == nil {
		return nil, errors.InvalidArgument(q.phase, "timed wait on a queue without alarms")
	}

	w := &Waiter{
		q:       q,
		blocker: BlockerFrom(ctx),
		done:    make(chan struct{}),
	}
	if w.blocker != nil {
		w.prio = clampPriority(w.blocker.Priority())
	}
	q.insert(w)

	if w.blocker != nil {
		w.blocker.Suspend(w)
	}
	if timed {
		w.alarm = q.alarms.AfterFunc(d, func() { q.Cancel(w, TimedOut) })
	}
	return w, nil
}

// Wait blocks until the waiter leaves the queue and maps the outcome to an
// error. Context cancellation counts as an interruption.
func (w *Waiter) Wait(ctx context.Context) error {
	select {
	case <-w.done:
	case <-ctx.Done():
		w.q.Cancel(w, Interrupted)
		<-w.done
	}
	if w.alarm != nil {
		w.alarm.Stop()
	}
	if w.blocker != nil {
		w.blocker.Resume(w)
	}
	return w.q.errorFor(w.reason)
}

// Cancel removes w with reason if it is still waiting. It takes the lock.
func (q *Queue) Cancel(w *Waiter, reason Reason) bool {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.Remove(w, reason)
}

// Cancel removes w from whatever queue it is waiting on. It takes the
// queue lock and reports false when w already left.
func (w *Waiter) Cancel(reason Reason) bool {
	return w.q.Cancel(w, reason)
}

// SetPriority requeues a still-waiting w at prio.
func (w *Waiter) SetPriority(prio int) {
	w.q.Reprioritize(w, prio)
}

// Remove is Cancel for callers already holding the lock.
func (q *Queue) Remove(w *Waiter, reason Reason) bool {
	if w.q != q || w.reason != Waiting {
		return false
	}
	q.unlink(w)
	q.finish(w, reason)
	return true
}

// Head returns the next waiter to be woken without removing it.
func (q *Queue) Head() *Waiter {
	if q.prio == nil {
		return q.fifo.head
	}
	p := q.prio.highest()
	if p < 0 {
		return nil
	}
	return q.prio.lists[p].head
}

// WakeOne satisfies the head waiter, handing it value.
func (q *Queue) WakeOne(value any) *Waiter {
	w := q.Head()
	if w == nil {
		return nil
	}
	w.Value = value
	q.unlink(w)
	q.finish(w, Satisfied)
	return w
}

// WakeAll releases every waiter with a successful Flushed outcome.
func (q *Queue) WakeAll(value any) int {
	n := 0
	for w := q.Head(); w != nil; w = q.Head() {
		w.Value = value
		q.unlink(w)
		q.finish(w, Flushed)
		n++
	}
	return n
}

// EvictAll forcibly releases every waiter with reason.
func (q *Queue) EvictAll(reason Reason) int {
	n := 0
	for w := q.Head(); w != nil; w = q.Head() {
		q.unlink(w)
		q.finish(w, reason)
		n++
	}
	return n
}

// Each visits waiters in wake order until fn returns false. Caller holds
// the lock.
func (q *Queue) Each(fn func(*Waiter) bool) {
	if q.prio == nil {
		for w := q.fifo.head; w != nil; w = w.next {
			if !fn(w) {
				return
			}
		}
		return
	}
	for p := MaxPriority; p >= MinPriority; p-- {
		for w := q.prio.lists[p].head; w != nil; w = w.next {
			if !fn(w) {
				return
			}
		}
	}
}

// Reprioritize moves a still-waiting w to prio, behind the waiters already
// queued at that level. It takes the lock.
func (q *Queue) Reprioritize(w *Waiter, prio int) {
	q.lock.Lock()
	defer q.lock.Unlock()
	if w.q != q || w.reason != Waiting {
		return
	}
	prio = clampPriority(prio)
	if q.prio == nil {
		w.prio = prio
		return
	}
	q.unlink(w)
	w.prio = prio
	q.insert(w)
}

func (q *Queue) insert(w *Waiter) {
	l := &q.fifo
	if q.prio != nil {
		w.slot = w.prio
		l = &q.prio.lists[w.slot]
		q.prio.bitmap[w.slot/64] |= 1 << (uint(w.slot) % 64)
	}
	w.prev = l.tail
	w.next = nil
	if l.tail != nil {
		l.tail.next = w
	} else {
		l.head = w
	}
	l.tail = w
	q.n++
}

func (q *Queue) unlink(w *Waiter) {
	l := &q.fifo
	if q.prio != nil {
		l = &q.prio.lists[w.slot]
	}
	if w.prev != nil {
		w.prev.next = w.next
	} else {
		l.head = w.next
	}
	if w.next != nil {
		w.next.prev = w.prev
	} else {
		l.tail = w.prev
	}
	w.prev, w.next = nil, nil
	if q.prio != nil && l.head == nil {
		q.prio.bitmap[w.slot/64] &^= 1 << (uint(w.slot) % 64)
	}
	q.n--
}

func (q *Queue) finish(w *Waiter, reason Reason) {
	w.reason = reason
	if w.blocker != nil {
		w.blocker.Ready(w)
	}
	close(w.done)
}

func (q *Queue) errorFor(r Reason) error {
	switch r {
	case Satisfied, Flushed:
		return nil
	case TimedOut:
		err := errors.TimedOut(q.phase)
		err.Object = q.object
		return err
	case Interrupted:
		err := errors.Interrupted(q.phase)
		err.Object = q.object
		return err
	default:
		return errors.Deleted(q.phase, q.object)
	}
}

func (x *prioIndex) highest() int {
	for i := len(x.bitmap) - 1; i >= 0; i-- {
		if x.bitmap[i] != 0 {
			return i*64 + 63 - bits.LeadingZeros64(x.bitmap[i])
		}
	}
	return -1
}
