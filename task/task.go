package task

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/rtcore/errors"
	"github.com/wippyai/rtcore/registry"
	"github.com/wippyai/rtcore/waitq"
)

// NumRegisters is the size of a task's register file.
const NumRegisters = 8

// State is the scheduling state of a task. Suspension is tracked apart
// from it.
type State uint8

const (
	Dormant State = iota
	Ready
	Running
	Blocked
	Deleted
)

func (s State) String() string {
	switch s {
	case Dormant:
		return "dormant"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Blocked:
		return "blocked"
	case Deleted:
		return "deleted"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Options configure a new task.
type Options struct {
	// Priority in [MinPriority, MaxPriority]; zero selects the scheduler
	// default.
	Priority int
	// Slice is the round-robin quantum among equal priorities; zero selects
	// the scheduler default, which itself defaults to run-to-block.
	Slice time.Duration
	Scope registry.Scope
}

// Task is a schedulable thread of execution backed by a goroutine that only
// runs while holding the CPU token.
type Task struct {
	sched   *Scheduler
	ctx     context.Context
	cancel  context.CancelFunc
	run     chan struct{}
	done    chan struct{}
	pending *waitq.Waiter
	rprev   *Task
	rnext   *Task
	joinQ   *waitq.Queue
	eventQ  *waitq.Queue
	sleepQ  *waitq.Queue
	exitErr error
	runner  runner
	name    string
	regs    [NumRegisters]uint64

	slice      time.Duration
	sliceStart time.Duration
	handle     registry.Handle

	// Guarded by the scheduler lock.
	prio      int
	level     int
	state     State
	queued    bool
	preempt   bool
	suspended bool
	deleted   bool
	started   bool

	// Guarded by mu.
	mu      sync.Mutex
	events  uint32
	retired bool
}

func newTask(s *Scheduler, name string, prio int, slice time.Duration) *Task {
	t := &Task{
		sched: s,
		name:  name,
		prio:  prio,
		slice: slice,
		run:   make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	t.runner.t = t
	t.ctx, t.cancel = context.WithCancel(waitq.WithBlocker(context.Background(), &t.runner))

	cfg := waitq.Config{Alarms: s.timers, Phase: errors.PhaseTask, Object: name}
	t.joinQ = waitq.New(&t.mu, cfg)
	t.eventQ = waitq.New(&t.mu, cfg)
	t.sleepQ = waitq.New(&t.mu, cfg)
	return t
}

// FromContext returns the task executing with ctx, or nil for callers that
// are not tasks.
func FromContext(ctx context.Context) *Task {
	r, ok := waitq.BlockerFrom(ctx).(*runner)
	if !ok {
		return nil
	}
	return r.t
}

// Handle returns the registry handle of the task.
func (t *Task) Handle() registry.Handle { return t.handle }

// Name returns the task name.
func (t *Task) Name() string { return t.name }

// Context returns the context the task body runs with. It is cancelled
// when the task is deleted.
func (t *Task) Context() context.Context { return t.ctx }

// Done is closed once the task goroutine terminated, or at deletion for a
// task that never started.
func (t *Task) Done() <-chan struct{} { return t.done }

// Priority returns the current priority.
func (t *Task) Priority() int {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	return t.prio
}

// Slice returns the round-robin quantum.
func (t *Task) Slice() time.Duration {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	return t.slice
}

// State returns the scheduling state.
func (t *Task) State() State {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	return t.state
}

// Suspended reports whether the task is suspended.
func (t *Task) Suspended() bool {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	return t.suspended
}

// Start makes a dormant task runnable with body as its code. The task runs
// with Context() and terminates when body returns.
func (t *Task) Start(ctx context.Context, body func(ctx context.Context)) error {
	if body == nil {
		return errors.InvalidArgument(errors.PhaseTask, "nil task body")
	}
	s := t.sched
	s.mu.Lock()
	if t.deleted {
		s.mu.Unlock()
		return errors.Deleted(errors.PhaseTask, t.name)
	}
	if t.started {
		s.mu.Unlock()
		return errors.New(errors.PhaseTask, errors.KindInvalidArgument).
			Object(t.name).
			Detail("task already started").
			Build()
	}
	t.started = true
	s.wg.Add(1)
	go t.main(body)
	s.makeReady(t, false)
	s.mu.Unlock()

	s.log.Debug("task started",
		zap.String("task", t.name),
		zap.Int("priority", t.prio))
	waitq.Reschedule(ctx)
	return nil
}

func (t *Task) main(body func(ctx context.Context)) {
	defer t.sched.wg.Done()
	defer t.exit()

	t.acquire()
	defer func() {
		if r := recover(); r != nil {
			t.sched.log.Error("task panicked",
				zap.String("task", t.name),
				zap.Any("panic", r))
		}
	}()
	body(t.ctx)
}

// exit runs on the task goroutine however it terminates.
func (t *Task) exit() {
	s := t.sched
	s.mu.Lock()
	wasDeleted := t.deleted
	t.deleted = true
	t.state = Deleted
	s.ready.remove(t)
	s.release(t)
	s.mu.Unlock()

	if !wasDeleted {
		t.retire(nil)
	}
	close(t.done)
}

// retire wakes everyone tied to the task and drops it from the registry.
// A nil err means the task body returned.
func (t *Task) retire(err error) {
	t.mu.Lock()
	if t.retired {
		t.mu.Unlock()
		return
	}
	t.retired = true
	t.exitErr = err
	if err == nil {
		t.joinQ.WakeAll(nil)
	} else {
		t.joinQ.EvictAll(waitq.Deleted)
	}
	t.eventQ.EvictAll(waitq.Deleted)
	t.sleepQ.EvictAll(waitq.Deleted)
	t.mu.Unlock()

	t.cancel()
	if t.handle != 0 {
		t.sched.reg.Delete(t.handle)
	}
	t.sched.log.Debug("task retired",
		zap.String("task", t.name),
		zap.Bool("deleted", err != nil))
}

// Delete terminates the task. Joiners and event waiters fail with a deleted
// error; a pending wait of the task itself is cancelled. A task deleting
// itself does not return.
func (t *Task) Delete(ctx context.Context) error {
	s := t.sched
	s.mu.Lock()
	if t.deleted {
		s.mu.Unlock()
		return errors.NotFound(errors.PhaseTask, "task", t.name)
	}
	t.deleted = true
	self := s.current == t && FromContext(ctx) == t
	w := t.pending
	s.ready.remove(t)
	dormant := !t.started
	switch {
	case dormant:
		t.state = Deleted
	case s.current == t:
		t.preempt = true
	default:
		t.grant()
	}
	s.mu.Unlock()

	t.cancel()
	if w != nil {
		w.Cancel(waitq.Deleted)
	}
	t.retire(errors.Deleted(errors.PhaseTask, t.name))
	if dormant {
		close(t.done)
	}
	if self {
		runtime.Goexit()
	}
	waitq.Reschedule(ctx)
	return nil
}

// Suspend stops the task from running until Resume, independently of any
// wait it is blocked in. A running task stops at its next preemption point.
func (t *Task) Suspend(ctx context.Context) error {
	s := t.sched
	s.mu.Lock()
	if err := t.checkLive(); err != nil {
		s.mu.Unlock()
		return err
	}
	if t.suspended {
		s.mu.Unlock()
		return errors.New(errors.PhaseTask, errors.KindInvalidArgument).Object(t.name).Detail("task already suspended").Build()
	}
	t.suspended = true
	s.ready.remove(t)
	if s.current == t {
		t.preempt = true
	}
	s.mu.Unlock()

	waitq.Reschedule(ctx)
	return nil
}

// Resume lifts a suspension. A task still blocked stays blocked.
func (t *Task) Resume(ctx context.Context) error {
	s := t.sched
	s.mu.Lock()
	if err := t.checkLive(); err != nil {
		s.mu.Unlock()
		return err
	}
	if !t.suspended {
		s.mu.Unlock()
		return errors.New(errors.PhaseTask, errors.KindInvalidArgument).Object(t.name).Detail("task not suspended").Build()
	}
	t.suspended = false
	if t.state == Ready && t.started {
		s.makeReady(t, false)
	}
	s.mu.Unlock()

	waitq.Reschedule(ctx)
	return nil
}

// Unblock forces the task out of its current wait, which fails with an
// interrupted error.
func (t *Task) Unblock(ctx context.Context) error {
	s := t.sched
	s.mu.Lock()
	if err := t.checkLive(); err != nil {
		s.mu.Unlock()
		return err
	}
	w := t.pending
	s.mu.Unlock()

	if w == nil || !w.Cancel(waitq.Interrupted) {
		return errors.New(errors.PhaseTask, errors.KindInvalidArgument).Object(t.name).Detail("task not blocked").Build()
	}
	waitq.Reschedule(ctx)
	return nil
}

// SetPriority changes the priority and returns the previous one. A blocked
// task is requeued in its priority-ordered wait.
func (t *Task) SetPriority(ctx context.Context, prio int) (int, error) {
	if prio < MinPriority || prio > MaxPriority {
		return 0, errors.InvalidArgument(errors.PhaseTask, "priority %d outside [%d, %d]", prio, MinPriority, MaxPriority)
	}
	s := t.sched
	s.mu.Lock()
	if err := t.checkLive(); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	old := t.prio
	t.prio = prio
	if t.queued {
		s.ready.remove(t)
		s.ready.push(t, false)
	}
	switch cur := s.current; {
	case cur == nil:
	case cur == t:
		if s.ready.highest() > prio {
			t.preempt = true
		}
	case t.queued && prio > cur.prio:
		cur.preempt = true
	}
	w := t.pending
	s.mu.Unlock()

	if w != nil {
		w.SetPriority(prio)
	}
	waitq.Reschedule(ctx)
	return old, nil
}

// SetSlice changes the round-robin quantum; zero means run-to-block.
func (t *Task) SetSlice(d time.Duration) error {
	if d < 0 {
		return errors.InvalidArgument(errors.PhaseTask, "negative time slice %v", d)
	}
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	t.slice = d
	return nil
}

// Register reads register i.
func (t *Task) Register(i int) (uint64, error) {
	if i < 0 || i >= NumRegisters {
		return 0, errors.OutOfBounds(errors.PhaseTask, "register", i, NumRegisters)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.regs[i], nil
}

// SetRegister writes register i.
func (t *Task) SetRegister(i int, v uint64) error {
	if i < 0 || i >= NumRegisters {
		return errors.OutOfBounds(errors.PhaseTask, "register", i, NumRegisters)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.regs[i] = v
	return nil
}

// Join waits for the task to terminate. It returns nil when the body
// returned and a deleted error when the task was deleted.
func (t *Task) Join(ctx context.Context, mode waitq.Mode) error {
	if err := mode.Validate(errors.PhaseTask); err != nil {
		return err
	}
	if FromContext(ctx) == t {
		return errors.InvalidArgument(errors.PhaseTask, "task %q cannot join itself", t.name)
	}

	t.mu.Lock()
	if t.retired {
		err := t.exitErr
		t.mu.Unlock()
		return err
	}
	if mode.IsNoWait() {
		t.mu.Unlock()
		return errors.WouldBlock(errors.PhaseTask, t.name)
	}
	w, err := t.joinQ.Enqueue(ctx, mode)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	return w.Wait(ctx)
}

func (t *Task) checkLive() error {
	if t.deleted {
		return errors.NotFound(errors.PhaseTask, "task", t.name)
	}
	return nil
}

// grant hands the CPU token to the task goroutine.
func (t *Task) grant() {
	select {
	case t.run <- struct{}{}:
	default:
	}
}

// acquire blocks until the task holds the CPU. A deleted task terminates
// here instead.
func (t *Task) acquire() {
	<-t.run
	t.sched.mu.Lock()
	dead := t.deleted
	t.sched.mu.Unlock()
	if dead {
		runtime.Goexit()
	}
}

// reschedule is the preemption point. With rotate set the task yields to
// its peers even if its slice has not expired.
func (t *Task) reschedule(rotate bool) {
	s := t.sched
	s.mu.Lock()
	if t.deleted {
		s.mu.Unlock()
		runtime.Goexit()
	}
	if s.current != t {
		s.mu.Unlock()
		return
	}

	atHead := false
	switch {
	case t.suspended:
	case t.preempt:
		atHead = true
	case rotate || t.sliceExpired():
		if !s.ready.has(t.prio) {
			t.sliceStart = s.src.Now()
			s.mu.Unlock()
			return
		}
	default:
		s.mu.Unlock()
		return
	}

	t.preempt = false
	s.current = nil
	s.makeReady(t, atHead)
	s.dispatch()
	s.mu.Unlock()

	t.acquire()
}

func (t *Task) sliceExpired() bool {
	return t.slice > 0 && t.sched.src.Now()-t.sliceStart >= t.slice
}
