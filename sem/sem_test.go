package sem

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/wippyai/rtcore/clock"
	"github.com/wippyai/rtcore/errors"
	"github.com/wippyai/rtcore/registry"
	"github.com/wippyai/rtcore/task"
	"github.com/wippyai/rtcore/timer"
	"github.com/wippyai/rtcore/waitq"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type env struct {
	reg   *registry.Registry
	eng   *timer.Engine
	sched *task.Scheduler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	eng := timer.NewEngine(clock.New(nil))
	reg := registry.New(registry.WithAlarms(eng))
	e := &env{reg: reg, eng: eng, sched: task.New(reg, eng)}
	t.Cleanup(func() {
		e.sched.Wait()
		eng.Close()
	})
	return e
}

func (e *env) sem(t *testing.T, name string, opts Options) *Semaphore {
	t.Helper()
	s, err := New(e.reg, e.eng, name, opts)
	if err != nil {
		t.Fatalf("New(%s) failed: %v", name, err)
	}
	return s
}

// park starts a goroutine blocked in Take and returns once it is queued.
func park(t *testing.T, s *Semaphore, ctx context.Context, mode waitq.Mode, label int, out chan<- outcome) {
	t.Helper()
	before := s.Waiting()
	go func() {
		out <- outcome{label: label, err: s.Take(ctx, mode)}
	}()
	for i := 0; s.Waiting() == before; i++ {
		if i > 5000 {
			t.Fatalf("taker %d never queued", label)
		}
		time.Sleep(time.Millisecond)
	}
}

type outcome struct {
	err   error
	label int
}

func TestSemaphore_NewValidation(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name string
		opts Options
	}{
		{"negative initial", Options{Initial: -1}},
		{"binary above one", Options{Initial: 2, Binary: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(e.reg, e.eng, "BAD", tt.opts); errors.KindOf(err) != errors.KindInvalidArgument {
				t.Fatalf("got %v, want invalid argument", err)
			}
		})
	}

	e.sem(t, "DUP", Options{})
	if _, err := New(e.reg, e.eng, "DUP", Options{}); errors.KindOf(err) != errors.KindAlreadyExists {
		t.Fatalf("duplicate: got %v", err)
	}
}

func TestSemaphore_Counting(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s := e.sem(t, "CNT", Options{Initial: 2})

	for i := 0; i < 2; i++ {
		if err := s.Take(ctx, waitq.NoWait); err != nil {
			t.Fatalf("Take %d failed: %v", i, err)
		}
	}
	if err := s.Take(ctx, waitq.NoWait); errors.KindOf(err) != errors.KindNoResource {
		t.Fatalf("Take on empty: got %v, want no resource", err)
	}
	s.Give(ctx)
	s.Give(ctx)
	s.Give(ctx)
	if s.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", s.Count())
	}
}

func TestSemaphore_BinaryClamp(t *testing.T) {
	e := newEnv(t)
	s := e.sem(t, "BIN", Options{Binary: true})

	s.Give(context.Background())
	s.Give(context.Background())
	if s.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", s.Count())
	}
}

func TestSemaphore_FIFOWakeOrder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s := e.sem(t, "FIFO", Options{Order: waitq.FIFO})

	out := make(chan outcome, 3)
	for i := 1; i <= 3; i++ {
		park(t, s, ctx, waitq.Infinite, i, out)
	}

	for want := 1; want <= 3; want++ {
		s.Give(ctx)
		got := <-out
		if got.err != nil || got.label != want {
			t.Fatalf("woke taker %d (%v), want %d", got.label, got.err, want)
		}
	}
	if s.Count() != 0 {
		t.Fatalf("hand-off changed the count to %d", s.Count())
	}
}

func TestSemaphore_PriorityWakeOrder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s := e.sem(t, "PRIO", Options{Order: waitq.Priority})

	woke := make(chan int, 3)
	var tasks []*task.Task
	for _, prio := range []int{10, 30, 20} {
		tk, err := e.sched.Create("", task.Options{Priority: prio})
		if err != nil {
			t.Fatal(err)
		}
		p := prio
		before := s.Waiting()
		tk.Start(ctx, func(ctx context.Context) {
			if err := s.Take(ctx, waitq.Infinite); err != nil {
				t.Errorf("Take failed: %v", err)
			}
			woke <- p
		})
		for s.Waiting() == before {
			time.Sleep(time.Millisecond)
		}
		tasks = append(tasks, tk)
	}

	for _, want := range []int{30, 20, 10} {
		s.Give(ctx)
		if got := <-woke; got != want {
			t.Fatalf("woke priority %d, want %d", got, want)
		}
	}
	for _, tk := range tasks {
		tk.Join(ctx, waitq.Infinite)
	}
}

// A higher-priority task blocked on a semaphore resumes with a deleted
// error as soon as a lower-priority task deletes it, before the deleter
// continues.
func TestSemaphore_DeletePreemptsDeleter(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s := e.sem(t, "SEMA", Options{Initial: 1})

	var (
		mu    sync.Mutex
		marks []int
	)
	mark := func(n int) {
		mu.Lock()
		marks = append(marks, n)
		mu.Unlock()
	}

	bgnd, _ := e.sched.Create("BGND", task.Options{Priority: 10})
	fgnd, _ := e.sched.Create("FGND", task.Options{Priority: 20})

	bgnd.Start(ctx, func(ctx context.Context) {
		fgnd.Start(ctx, func(ctx context.Context) {
			mark(1)
			if err := s.Take(ctx, waitq.NoWait); err != nil {
				t.Errorf("first Take failed: %v", err)
			}
			mark(2)
			if err := s.Take(ctx, waitq.Infinite); errors.KindOf(err) != errors.KindDeleted {
				t.Errorf("blocked Take returned %v, want deleted", err)
			}
			mark(4)
		})
		mark(3)
		mark(5)
		if err := s.Delete(ctx); err != nil {
			t.Errorf("Delete failed: %v", err)
		}
		mark(6)
	})

	bgnd.Join(ctx, waitq.Infinite)
	fgnd.Join(ctx, waitq.Infinite)

	want := []int{1, 2, 3, 5, 4, 6}
	mu.Lock()
	defer mu.Unlock()
	if len(marks) != len(want) {
		t.Fatalf("marks = %v, want %v", marks, want)
	}
	for i := range want {
		if marks[i] != want[i] {
			t.Fatalf("marks = %v, want %v", marks, want)
		}
	}
}

func TestSemaphore_DeleteWakesAll(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s := e.sem(t, "DEL", Options{})

	out := make(chan outcome, 3)
	for i := 0; i < 3; i++ {
		park(t, s, ctx, waitq.Infinite, i, out)
	}
	if err := s.Delete(ctx); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if got := <-out; errors.KindOf(got.err) != errors.KindDeleted {
			t.Fatalf("taker %d: got %v, want deleted", got.label, got.err)
		}
	}

	if err := s.Take(ctx, waitq.NoWait); errors.KindOf(err) != errors.KindDeleted {
		t.Fatalf("Take after Delete: got %v", err)
	}
	if err := s.Give(ctx); errors.KindOf(err) != errors.KindDeleted {
		t.Fatalf("Give after Delete: got %v", err)
	}
	if _, err := e.reg.Ident(registry.Local, "DEL", registry.Semaphore); errors.KindOf(err) != errors.KindNotFound {
		t.Fatalf("name still resolves: %v", err)
	}
	if e.reg.Len() != 0 {
		t.Fatalf("%d objects registered", e.reg.Len())
	}
}

func TestSemaphore_Broadcast(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s := e.sem(t, "BC", Options{})

	out := make(chan outcome, 3)
	for i := 0; i < 3; i++ {
		park(t, s, ctx, waitq.Infinite, i, out)
	}
	n, err := s.Broadcast(ctx)
	if err != nil || n != 3 {
		t.Fatalf("Broadcast = %d, %v", n, err)
	}
	for i := 0; i < 3; i++ {
		if got := <-out; got.err != nil {
			t.Fatalf("taker %d: %v", got.label, got.err)
		}
	}
	if s.Count() != 0 {
		t.Fatalf("Broadcast changed the count to %d", s.Count())
	}
}

func TestSemaphore_TimedTake(t *testing.T) {
	e := newEnv(t)
	s := e.sem(t, "TMO", Options{})
	const timeout = 20 * time.Millisecond

	start := time.Now()
	err := s.Take(context.Background(), waitq.Timed(timeout))
	if errors.KindOf(err) != errors.KindTimedOut {
		t.Fatalf("got %v, want timed out", err)
	}
	if elapsed := time.Since(start); elapsed < timeout {
		t.Fatalf("timed out after %v", elapsed)
	}
	if s.Waiting() != 0 {
		t.Fatal("timed-out taker left queued")
	}

	if err := s.Take(context.Background(), waitq.Timed(0)); errors.KindOf(err) != errors.KindInvalidArgument {
		t.Fatalf("Timed(0): got %v", err)
	}
}

func TestSemaphore_ContextCancel(t *testing.T) {
	e := newEnv(t)
	s := e.sem(t, "CTX", Options{})
	ctx, cancel := context.WithCancel(context.Background())

	out := make(chan outcome, 1)
	park(t, s, ctx, waitq.Infinite, 0, out)
	cancel()

	if got := <-out; errors.KindOf(got.err) != errors.KindInterrupted {
		t.Fatalf("got %v, want interrupted", got.err)
	}
	s.Give(context.Background())
	if s.Count() != 1 {
		t.Fatal("give after cancelled wait was handed to a departed taker")
	}
}
