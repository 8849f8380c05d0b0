package waitq

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/wippyai/rtcore/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeBlocker struct {
	prio     int
	suspends int
	readies  int
	resumes  int
	mu       sync.Mutex
}

func (b *fakeBlocker) Priority() int { return b.prio }
func (b *fakeBlocker) Suspend(*Waiter) {
	b.mu.Lock()
	b.suspends++
	b.mu.Unlock()
}
func (b *fakeBlocker) Ready(*Waiter) {
	b.mu.Lock()
	b.readies++
	b.mu.Unlock()
}
func (b *fakeBlocker) Resume(*Waiter) {
	b.mu.Lock()
	b.resumes++
	b.mu.Unlock()
}

type manualAlarms struct {
	mu      sync.Mutex
	pending []*manualAlarm
}

type manualAlarm struct {
	fn      func()
	owner   *manualAlarms
	stopped bool
}

func (m *manualAlarms) AfterFunc(_ time.Duration, fn func()) Alarm {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := &manualAlarm{fn: fn, owner: m}
	m.pending = append(m.pending, a)
	return a
}

func (a *manualAlarm) Stop() bool {
	a.owner.mu.Lock()
	defer a.owner.mu.Unlock()
	was := !a.stopped
	a.stopped = true
	return was
}

func (m *manualAlarms) fire() {
	m.mu.Lock()
	var due []func()
	for _, a := range m.pending {
		if !a.stopped {
			a.stopped = true
			due = append(due, a.fn)
		}
	}
	m.pending = nil
	m.mu.Unlock()
	for _, fn := range due {
		fn()
	}
}

type harness struct {
	mu     sync.Mutex
	q      *Queue
	alarms *manualAlarms
}

func newHarness(order Order) *harness {
	h := &harness{alarms: &manualAlarms{}}
	h.q = New(&h.mu, Config{Order: order, Alarms: h.alarms, Phase: errors.PhaseSemaphore, Object: "test"})
	return h
}

// park queues a waiter synchronously and waits for it in the background.
func (h *harness) park(t *testing.T, ctx context.Context, mode Mode, label int, out chan<- result) *Waiter {
	t.Helper()
	h.mu.Lock()
	w, err := h.q.Enqueue(ctx, mode)
	h.mu.Unlock()
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	go func() {
		err := w.Wait(ctx)
		out <- result{label: label, err: err, value: w.Value}
	}()
	return w
}

type result struct {
	err   error
	value any
	label int
}

func TestQueue_FIFOOrder(t *testing.T) {
	h := newHarness(FIFO)
	out := make(chan result, 3)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		h.park(t, ctx, Infinite, i, out)
	}

	for i := 1; i <= 3; i++ {
		h.mu.Lock()
		w := h.q.WakeOne(i * 10)
		h.mu.Unlock()
		if w == nil {
			t.Fatalf("WakeOne %d returned nil", i)
		}
		r := <-out
		if r.label != i {
			t.Fatalf("woke waiter %d, want %d", r.label, i)
		}
		if r.err != nil {
			t.Fatalf("waiter %d: unexpected error %v", i, r.err)
		}
		if r.value != i*10 {
			t.Fatalf("waiter %d: value %v, want %d", i, r.value, i*10)
		}
	}
}

func TestQueue_PriorityOrder(t *testing.T) {
	h := newHarness(Priority)
	out := make(chan result, 4)

	prios := []int{10, 50, 10, 50}
	for i, p := range prios {
		ctx := WithBlocker(context.Background(), &fakeBlocker{prio: p})
		h.park(t, ctx, Infinite, i, out)
	}

	// Highest priority first, ties in arrival order.
	want := []int{1, 3, 0, 2}
	for _, label := range want {
		h.mu.Lock()
		h.q.WakeOne(nil)
		h.mu.Unlock()
		if r := <-out; r.label != label {
			t.Fatalf("woke %d, want %d", r.label, label)
		}
	}
}

func TestQueue_Reprioritize(t *testing.T) {
	h := newHarness(Priority)
	out := make(chan result, 2)

	low := h.park(t, WithBlocker(context.Background(), &fakeBlocker{prio: 1}), Infinite, 0, out)
	h.park(t, WithBlocker(context.Background(), &fakeBlocker{prio: 5}), Infinite, 1, out)

	h.q.Reprioritize(low, 9)
	if low.Priority() != 9 {
		t.Fatalf("Priority() = %d, want 9", low.Priority())
	}

	h.mu.Lock()
	h.q.WakeAll(nil)
	h.mu.Unlock()
	if r := <-out; r.label != 0 {
		t.Fatalf("woke %d first, want reprioritized waiter", r.label)
	}
	<-out
}

func TestQueue_Outcomes(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		h := newHarness(FIFO)
		out := make(chan result, 1)
		h.park(t, context.Background(), Timed(time.Millisecond), 0, out)
		h.alarms.fire()
		r := <-out
		if errors.KindOf(r.err) != errors.KindTimedOut {
			t.Fatalf("err = %v, want timed out", r.err)
		}
	})

	t.Run("context cancel interrupts", func(t *testing.T) {
		h := newHarness(FIFO)
		out := make(chan result, 1)
		ctx, cancel := context.WithCancel(context.Background())
		h.park(t, ctx, Infinite, 0, out)
		cancel()
		r := <-out
		if errors.KindOf(r.err) != errors.KindInterrupted {
			t.Fatalf("err = %v, want interrupted", r.err)
		}
	})

	t.Run("evict deletes", func(t *testing.T) {
		h := newHarness(Priority)
		out := make(chan result, 3)
		for i := 0; i < 3; i++ {
			h.park(t, context.Background(), Infinite, i, out)
		}
		h.mu.Lock()
		n := h.q.EvictAll(Deleted)
		h.mu.Unlock()
		if n != 3 {
			t.Fatalf("EvictAll = %d, want 3", n)
		}
		for i := 0; i < 3; i++ {
			if r := <-out; errors.KindOf(r.err) != errors.KindDeleted {
				t.Fatalf("err = %v, want deleted", r.err)
			}
		}
	})

	t.Run("flush succeeds", func(t *testing.T) {
		h := newHarness(FIFO)
		out := make(chan result, 2)
		h.park(t, context.Background(), Infinite, 0, out)
		h.park(t, context.Background(), Infinite, 1, out)
		h.mu.Lock()
		h.q.WakeAll(nil)
		h.mu.Unlock()
		for i := 0; i < 2; i++ {
			if r := <-out; r.err != nil {
				t.Fatalf("flush returned %v", r.err)
			}
		}
	})
}

func TestQueue_WakeBeatsTimeout(t *testing.T) {
	h := newHarness(FIFO)
	out := make(chan result, 1)
	w := h.park(t, context.Background(), Timed(time.Second), 0, out)

	h.mu.Lock()
	h.q.WakeOne("won")
	h.mu.Unlock()
	h.alarms.fire()

	r := <-out
	if r.err != nil || r.value != "won" {
		t.Fatalf("got (%v, %v), want satisfied wake", r.value, r.err)
	}
	if w.Reason() != Satisfied {
		t.Fatalf("reason = %v, want satisfied", w.Reason())
	}
	if h.q.Cancel(w, Interrupted) {
		t.Fatal("Cancel after wake must be a no-op")
	}
}

func TestQueue_BlockerCallbacks(t *testing.T) {
	h := newHarness(FIFO)
	b := &fakeBlocker{prio: 3}
	out := make(chan result, 1)
	h.park(t, WithBlocker(context.Background(), b), Infinite, 0, out)

	h.mu.Lock()
	h.q.WakeOne(nil)
	h.mu.Unlock()
	<-out

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.suspends != 1 || b.readies != 1 || b.resumes != 1 {
		t.Fatalf("callbacks suspend=%d ready=%d resume=%d, want 1/1/1", b.suspends, b.readies, b.resumes)
	}
}

func TestQueue_EnqueueValidation(t *testing.T) {
	h := newHarness(FIFO)
	tests := []struct {
		name string
		mode Mode
	}{
		{"nowait", NoWait},
		{"zero timeout", Timed(0)},
		{"negative timeout", Timed(-time.Second)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h.mu.Lock()
			_, err := h.q.Enqueue(context.Background(), tt.mode)
			h.mu.Unlock()
			if errors.KindOf(err) != errors.KindInvalidArgument {
				t.Fatalf("err = %v, want invalid argument", err)
			}
		})
	}
	if h.q.Len() != 0 {
		t.Fatalf("Len() = %d after rejected enqueues", h.q.Len())
	}
}

func TestMode_String(t *testing.T) {
	if NoWait.String() != "nowait" || Infinite.String() != "infinite" {
		t.Fatal("unexpected mode names")
	}
	if Timed(time.Second).String() != "timed(1s)" {
		t.Fatalf("Timed string = %q", Timed(time.Second).String())
	}
	var zero Mode
	if !zero.IsNoWait() {
		t.Fatal("zero Mode must be NoWait")
	}
}
