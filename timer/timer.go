package timer

import (
	"context"
	"sync"
	"time"

	"github.com/wippyai/rtcore/errors"
	"github.com/wippyai/rtcore/waitq"
)

// Timer is one armed expiry source. The fields guarded by the engine lock
// are deadline, date, index, seq and fired; mu guards the tick state.
type Timer struct {
	engine   *Engine
	payload  Payload
	waiters  *waitq.Queue
	date     time.Time
	deadline time.Duration
	period   time.Duration
	index    int
	seq      uint64
	fired    uint64
	pending  uint64
	mu       sync.Mutex
	absolute bool
	stopped  bool
}

// Stop cancels the timer. It reports whether the timer was still armed.
func (t *Timer) Stop() bool {
	return t.engine.Cancel(t)
}

// Deadline returns the next scheduled expiry on the monotonic scale.
func (t *Timer) Deadline() time.Duration {
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()
	return t.deadline
}

// Period returns the re-arm interval, zero for one-shot timers.
func (t *Timer) Period() time.Duration {
	return t.period
}

// Absolute reports whether the timer follows wall-date changes.
func (t *Timer) Absolute() bool {
	return t.absolute
}

// Armed reports whether the timer is still in the engine.
func (t *Timer) Armed() bool {
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()
	return t.index >= 0
}

// Fired returns the number of expiries delivered so far.
func (t *Timer) Fired() uint64 {
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()
	return t.fired
}

// WaitTick consumes one pending expiry, blocking per mode until one is
// delivered. It returns the timer's fired count at the moment of the tick.
// Waiting on a timer that is neither armed nor holding a pending tick fails
// with a deleted error.
func (t *Timer) WaitTick(ctx context.Context, mode waitq.Mode) (uint64, error) {
	if err := mode.Validate(errors.PhaseTimer); err != nil {
		return 0, err
	}

	t.mu.Lock()
	if t.pending > 0 {
		t.pending--
		t.mu.Unlock()
		return t.Fired(), nil
	}
	if t.stopped {
		t.mu.Unlock()
		return 0, errors.New(errors.PhaseTimer, errors.KindDeleted).Detail("timer is not armed").Build()
	}
	if mode.IsNoWait() {
		t.mu.Unlock()
		return 0, errors.WouldBlock(errors.PhaseTimer, "tick")
	}
	w, err := t.waiters.Enqueue(ctx, mode)
	t.mu.Unlock()
	if err != nil {
		return 0, err
	}
	if err := w.Wait(ctx); err != nil {
		return 0, err
	}
	count, _ := w.Value.(uint64)
	return count, nil
}

func (t *Timer) tick(exp Expiry) {
	t.mu.Lock()
	if t.waiters.WakeOne(exp.Count) == nil {
		t.pending++
	}
	if t.period == 0 {
		t.stopped = true
		t.waiters.EvictAll(waitq.Deleted)
	}
	t.mu.Unlock()
}

func (t *Timer) disarmed() {
	t.mu.Lock()
	t.stopped = true
	t.waiters.EvictAll(waitq.Deleted)
	t.mu.Unlock()
}
