package task

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/rtcore/clock"
	"github.com/wippyai/rtcore/errors"
	"github.com/wippyai/rtcore/registry"
	"github.com/wippyai/rtcore/timer"
	"github.com/wippyai/rtcore/waitq"
)

// Priority bounds for tasks. Higher values run first; level 0 is left to
// callers that are not tasks.
const (
	MinPriority = 1
	MaxPriority = waitq.MaxPriority
)

// DefaultPriority is used when neither the task nor the scheduler set one.
const DefaultPriority = 50

// Scheduler owns the CPU token: at any time at most one task executes task
// code. The highest-priority ready task holds the token; it gives it up
// when it blocks, exits, or reaches a preemption point while a better task
// is waiting.
type Scheduler struct {
	reg             *registry.Registry
	timers          *timer.Engine
	src             *clock.Source
	log             *zap.Logger
	current         *Task
	ready           readyQueue
	wg              sync.WaitGroup
	defaultSlice    time.Duration
	defaultPriority int
	switches        uint64
	mu              sync.Mutex
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler's logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithDefaultPriority sets the priority of tasks created without one.
func WithDefaultPriority(p int) Option {
	return func(s *Scheduler) {
		if p >= MinPriority && p <= MaxPriority {
			s.defaultPriority = p
		}
	}
}

// WithDefaultSlice sets the round-robin slice of tasks created without one.
func WithDefaultSlice(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.defaultSlice = d
		}
	}
}

// New creates a scheduler registering tasks in reg and timing sleeps and
// slices with timers.
func New(reg *registry.Registry, timers *timer.Engine, opts ...Option) *Scheduler {
	s := &Scheduler{
		reg:             reg,
		timers:          timers,
		src:             timers.Source(),
		log:             zap.NewNop(),
		defaultPriority: DefaultPriority,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a dormant task. It runs once started.
func (s *Scheduler) Create(name string, opts Options) (*Task, error) {
	prio := opts.Priority
	if prio == 0 {
		prio = s.defaultPriority
	}
	if prio < MinPriority || prio > MaxPriority {
		return nil, errors.InvalidArgument(errors.PhaseTask, "priority %d outside [%d, %d]", prio, MinPriority, MaxPriority)
	}
	if opts.Slice < 0 {
		return nil, errors.InvalidArgument(errors.PhaseTask, "negative time slice %v", opts.Slice)
	}
	slice := opts.Slice
	if slice == 0 {
		slice = s.defaultSlice
	}

	t := newTask(s, name, prio, slice)
	h, err := s.reg.Create(opts.Scope, name, registry.Task, t)
	if err != nil {
		t.cancel()
		return nil, err
	}
	t.handle = h
	return t, nil
}

// Current returns the task holding the CPU, or nil when idle.
func (s *Scheduler) Current() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Switches returns the number of CPU hand-overs so far.
func (s *Scheduler) Switches() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.switches
}

// ReadyLen returns the number of tasks waiting for the CPU.
func (s *Scheduler) ReadyLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready.n
}

// Wait blocks until every started task goroutine has terminated.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Yield is the preemption point for code that runs long without blocking.
// It hands the CPU over when a better task is ready or the caller's time
// slice expired with a peer waiting. Callers that are not tasks return at
// once.
func (s *Scheduler) Yield(ctx context.Context) {
	if t := FromContext(ctx); t != nil {
		t.reschedule(false)
	}
}

// Sleep suspends the caller for d. A zero d gives the CPU to the next ready
// task of the same priority. Sleeping tasks can be woken early by Unblock.
func (s *Scheduler) Sleep(ctx context.Context, d time.Duration) error {
	if d < 0 {
		return errors.InvalidArgument(errors.PhaseTask, "negative sleep %v", d)
	}
	t := FromContext(ctx)
	if d == 0 {
		if t != nil {
			t.reschedule(true)
		}
		return nil
	}
	return s.sleep(ctx, t, waitq.Timed(d), nil)
}

// SleepUntil suspends the caller until the wall date reaches date. The
// wake-up follows changes of the date.
func (s *Scheduler) SleepUntil(ctx context.Context, date time.Time) error {
	t := FromContext(ctx)
	if !date.After(s.src.Date()) {
		if t != nil {
			t.reschedule(true)
		}
		return nil
	}
	return s.sleep(ctx, t, waitq.Infinite, func(w *waitq.Waiter) (*timer.Timer, error) {
		return s.timers.ArmAbsolute(date, 0, timer.Callback(func(timer.Expiry) {
			w.Cancel(waitq.TimedOut)
		}))
	})
}

func (s *Scheduler) sleep(ctx context.Context, t *Task, mode waitq.Mode, arm func(*waitq.Waiter) (*timer.Timer, error)) error {
	var (
		lock sync.Locker
		q    *waitq.Queue
	)
	if t != nil {
		lock, q = &t.mu, t.sleepQ
	} else {
		mu := &sync.Mutex{}
		lock = mu
		q = waitq.New(mu, waitq.Config{Alarms: s.timers, Phase: errors.PhaseTask, Object: "sleep"})
	}

	lock.Lock()
	w, err := q.Enqueue(ctx, mode)
	if err != nil {
		lock.Unlock()
		return err
	}
	var (
		tm     *timer.Timer
		armErr error
	)
	if arm != nil {
		if tm, armErr = arm(w); armErr != nil {
			q.Remove(w, waitq.Interrupted)
		}
	}
	lock.Unlock()

	err = w.Wait(ctx)
	if tm != nil {
		tm.Stop()
	}
	if armErr != nil {
		return armErr
	}
	if errors.KindOf(err) == errors.KindTimedOut {
		return nil
	}
	return err
}

// makeReady marks t runnable. Caller holds mu.
func (s *Scheduler) makeReady(t *Task, atHead bool) {
	t.state = Ready
	if t.suspended {
		return
	}
	s.ready.push(t, atHead)
	if s.current == nil {
		s.dispatch()
		return
	}
	if t.prio > s.current.prio {
		s.current.preempt = true
	}
}

// dispatch hands an idle CPU to the best ready task. Caller holds mu.
func (s *Scheduler) dispatch() {
	if s.current != nil {
		return
	}
	t := s.ready.pop()
	if t == nil {
		return
	}
	s.current = t
	t.state = Running
	t.preempt = false
	t.sliceStart = s.src.Now()
	s.switches++
	t.grant()
}

// release takes the CPU away from t. Caller holds mu.
func (s *Scheduler) release(t *Task) {
	if s.current == t {
		s.current = nil
		s.dispatch()
	}
}
