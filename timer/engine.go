package timer

import (
	"container/heap"
	"sync"
	"time"

	bclock "github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/wippyai/rtcore/clock"
	"github.com/wippyai/rtcore/errors"
	"github.com/wippyai/rtcore/waitq"
)

// Engine keeps every armed timer in one deadline-ordered heap and delivers
// expiries from a single goroutine driven by the clock source.
type Engine struct {
	src    *clock.Source
	log    *zap.Logger
	timers timerHeap
	kick   chan struct{}
	stop   chan struct{}
	done   chan struct{}
	seq    uint64
	mu     sync.Mutex
	fireMu sync.Mutex
	closed bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// NewEngine creates an engine on src and starts its service goroutine.
func NewEngine(src *clock.Source, opts ...Option) *Engine {
	e := &Engine{
		src:  src,
		log:  zap.NewNop(),
		kick: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	heap.Init(&e.timers)
	src.OnSetDate(e.rebase)
	go e.run()
	return e
}

// Source returns the clock source driving the engine.
func (e *Engine) Source() *clock.Source {
	return e.src
}

// ArmRelative arms a timer firing delay from now, then every period when
// period is non-zero.
func (e *Engine) ArmRelative(delay, period time.Duration, p Payload) (*Timer, error) {
	if delay < 0 {
		return nil, errors.InvalidArgument(errors.PhaseTimer, "negative delay %v", delay)
	}
	t, err := e.newTimer(period, p)
	if err != nil {
		return nil, err
	}
	return t, e.arm(t, e.src.Now()+delay)
}

// ArmAbsolute arms a timer firing when the wall date reaches date. Absolute
// timers follow SetDate.
func (e *Engine) ArmAbsolute(date time.Time, period time.Duration, p Payload) (*Timer, error) {
	t, err := e.newTimer(period, p)
	if err != nil {
		return nil, err
	}
	t.absolute = true
	t.date = date
	return t, e.arm(t, e.src.ToMonotonic(date))
}

// ArmPeriodic arms a timer firing every period, starting one period from now.
func (e *Engine) ArmPeriodic(period time.Duration, p Payload) (*Timer, error) {
	if period <= 0 {
		return nil, errors.InvalidArgument(errors.PhaseTimer, "periodic timer needs a positive period, got %v", period)
	}
	return e.ArmRelative(period, period, p)
}

// AfterFunc runs fn once after d. It backs timed waits.
func (e *Engine) AfterFunc(d time.Duration, fn func()) waitq.Alarm {
	if d < 0 {
		d = 0
	}
	t, _ := e.newTimer(0, Callback(func(Expiry) { fn() }))
	if err := e.arm(t, e.src.Now()+d); err != nil {
		// Engine closed: nothing will ever fire, so fire now.
		go fn()
	}
	return t
}

// Cancel disarms t. Cancelling a timer that already fired or was already
// cancelled is a no-op and reports false.
func (e *Engine) Cancel(t *Timer) bool {
	e.mu.Lock()
	armed := t.index >= 0
	if armed {
		heap.Remove(&e.timers, t.index)
	}
	e.mu.Unlock()

	t.disarmed()
	return armed
}

// Len returns the number of armed timers.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers)
}

// Next returns the earliest armed deadline.
func (e *Engine) Next() (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.timers) == 0 {
		return 0, false
	}
	return e.timers[0].deadline, true
}

// Poll delivers every expiry due at the current time and returns how many
// were delivered. Periodic timers that fell behind deliver each missed
// period in deadline order.
func (e *Engine) Poll() int {
	e.fireMu.Lock()
	defer e.fireMu.Unlock()

	n := 0
	for {
		t, exp, ok := e.popDue()
		if !ok {
			return n
		}
		if err := t.payload.deliver(exp); err != nil {
			e.log.Debug("timer payload rejected, cancelling",
				zap.Uint64("timer", t.seq),
				zap.Error(err))
			e.Cancel(t)
			n++
			continue
		}
		t.tick(exp)
		n++
	}
}

// Close stops the service goroutine and cancels every armed timer.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	pending := append([]*Timer(nil), e.timers...)
	e.mu.Unlock()

	close(e.stop)
	<-e.done

	for _, t := range pending {
		e.Cancel(t)
	}
	if len(pending) > 0 {
		e.log.Debug("timers cancelled at close", zap.Int("count", len(pending)))
	}
}

func (e *Engine) newTimer(period time.Duration, p Payload) (*Timer, error) {
	if period < 0 {
		return nil, errors.InvalidArgument(errors.PhaseTimer, "negative period %v", period)
	}
	if p == nil {
		p = Ticks()
	}
	t := &Timer{
		engine:  e,
		payload: p,
		period:  period,
		index:   -1,
	}
	t.waiters = waitq.New(&t.mu, waitq.Config{
		Alarms: e,
		Phase:  errors.PhaseTimer,
		Order:  waitq.FIFO,
	})
	return t, nil
}

func (e *Engine) arm(t *Timer, deadline time.Duration) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return errors.New(errors.PhaseTimer, errors.KindDeleted).Detail("timer engine closed").Build()
	}
	e.seq++
	t.seq = e.seq
	t.deadline = deadline
	heap.Push(&e.timers, t)
	first := t.index == 0
	e.mu.Unlock()

	if first {
		e.wake()
	}
	return nil
}

func (e *Engine) popDue() (*Timer, Expiry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.timers) == 0 {
		return nil, Expiry{}, false
	}
	now := e.src.Now()
	t := e.timers[0]
	if t.deadline > now {
		return nil, Expiry{}, false
	}

	t.fired++
	exp := Expiry{Deadline: t.deadline, Now: now, Count: t.fired}
	if t.period > 0 {
		// Next deadline derives from the previous one, never from now.
		t.deadline += t.period
		if t.absolute {
			t.date = t.date.Add(t.period)
		}
		heap.Fix(&e.timers, 0)
	} else {
		heap.Pop(&e.timers)
	}
	return t, exp, true
}

func (e *Engine) rebase() {
	e.mu.Lock()
	moved := 0
	for _, t := range e.timers {
		if t.absolute {
			t.deadline = e.src.ToMonotonic(t.date)
			moved++
		}
	}
	if moved > 0 {
		heap.Init(&e.timers)
	}
	e.mu.Unlock()

	if moved > 0 {
		e.log.Debug("absolute timers rebased", zap.Int("count", moved))
		e.wake()
	}
}

func (e *Engine) wake() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

func (e *Engine) run() {
	defer close(e.done)
	clk := e.src.Clock()

	for {
		e.Poll()

		var (
			tm     *bclock.Timer
			expiry <-chan time.Time
		)
		if next, ok := e.Next(); ok {
			d := next - e.src.Now()
			if d <= 0 {
				continue
			}
			tm = clk.Timer(d)
			expiry = tm.C
		}

		select {
		case <-expiry:
		case <-e.kick:
		case <-e.stop:
			if tm != nil {
				tm.Stop()
			}
			return
		}
		if tm != nil {
			tm.Stop()
		}
	}
}
