package kernel

import (
	"context"
	"sync"
	"time"

	bclock "github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/rtcore"
	"github.com/wippyai/rtcore/arena"
	"github.com/wippyai/rtcore/clock"
	"github.com/wippyai/rtcore/errors"
	"github.com/wippyai/rtcore/msgq"
	"github.com/wippyai/rtcore/partition"
	"github.com/wippyai/rtcore/region"
	"github.com/wippyai/rtcore/registry"
	"github.com/wippyai/rtcore/sem"
	"github.com/wippyai/rtcore/task"
	"github.com/wippyai/rtcore/timer"
	"github.com/wippyai/rtcore/waitq"
)

// Option configures a Kernel.
type Option func(*options)

type options struct {
	clk    bclock.Clock
	log    *zap.Logger
	cfg    Config
	hasCfg bool
}

// WithClock drives the kernel from clk, typically a mock in tests.
func WithClock(clk bclock.Clock) Option {
	return func(o *options) { o.clk = clk }
}

// WithLogger overrides the logger built from Config.LogLevel.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithConfig replaces DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.cfg = cfg
		o.hasCfg = true
	}
}

// Kernel is the process-wide context of the object layer.
type Kernel struct {
	id        uuid.UUID
	cfg       Config
	log       *zap.Logger
	src       *clock.Source
	timers    *timer.Engine
	reg       *registry.Registry
	sched     *task.Scheduler
	heapArena rtcore.Arena
	heap      *region.Region
	unwatch   func()
	mu        sync.Mutex
	closed    bool
}

// New builds a kernel: clock, timer engine, registry, scheduler and main
// heap, in that order.
func New(opts ...Option) (*Kernel, error) {
	o := options{cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	cfg := o.cfg
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(errors.PhaseKernel, errors.KindInvalidArgument, err, "invalid config")
	}
	slice, _ := cfg.Slice()

	log := o.log
	if log == nil {
		var err error
		if log, err = cfg.logger(); err != nil {
			return nil, errors.Wrap(errors.PhaseKernel, errors.KindInvalidArgument, err, "build logger")
		}
	}
	id := uuid.New()
	log = log.With(zap.String("kernel", id.String()), zap.Uint32("node", cfg.Node))

	k := &Kernel{
		id:  id,
		cfg: cfg,
		log: log,
		src: clock.New(o.clk),
	}
	k.timers = timer.NewEngine(k.src, timer.WithLogger(log.Named("timer")))
	k.reg = registry.New(
		registry.WithAlarms(k.timers),
		registry.WithLogger(log.Named("registry")),
	)
	k.sched = task.New(k.reg, k.timers,
		task.WithLogger(log.Named("sched")),
		task.WithDefaultPriority(cfg.DefaultPriority),
		task.WithDefaultSlice(slice),
	)
	k.unwatch = k.reg.Subscribe(registry.ObserverFunc(k.onObjectEvent))
	sem.SetLogger(log.Named("sem"))
	msgq.SetLogger(log.Named("msgq"))
	partition.SetLogger(log.Named("partition"))
	region.SetLogger(log.Named("region"))

	if err := k.initHeap(); err != nil {
		k.unwatch()
		k.timers.Close()
		k.reg.Close()
		return nil, err
	}

	log.Info("kernel started",
		zap.Stringer("main_heap", cfg.MainHeap),
		zap.Bool("wasm_heap", cfg.WasmHeap),
		zap.Int("default_priority", cfg.DefaultPriority),
		zap.Duration("time_slice", slice))
	return k, nil
}

func (k *Kernel) initHeap() error {
	if k.cfg.WasmHeap {
		w, err := arena.NewWasm(context.Background(), uint32(k.cfg.MainHeap))
		if err != nil {
			return errors.Wrap(errors.PhaseKernel, errors.KindNoSegment, err, "main heap arena")
		}
		k.heapArena = w
	} else {
		k.heapArena = arena.NewHeap(uint32(k.cfg.MainHeap))
	}

	heap, err := region.New(k.reg, k.timers, "", k.heapArena, region.Options{})
	if err != nil {
		k.closeArena()
		return err
	}
	k.heap = heap
	return nil
}

func (k *Kernel) closeArena() {
	if c, ok := k.heapArena.(rtcore.Closer); ok {
		if err := c.Close(); err != nil {
			k.log.Warn("main heap arena close failed", zap.Error(err))
		}
	}
}

func (k *Kernel) onObjectEvent(ev registry.Event) {
	k.log.Debug("object "+ev.Type.String(),
		zap.Stringer("kind", ev.Kind),
		zap.String("name", ev.Name),
		zap.Stringer("handle", ev.Handle),
		zap.Uint32("scope", uint32(ev.Scope)))
}

// ID returns the instance id tagged on every log entry.
func (k *Kernel) ID() uuid.UUID { return k.id }

// Node returns the configured node id.
func (k *Kernel) Node() registry.Scope { return registry.Scope(k.cfg.Node) }

// Config returns the effective configuration.
func (k *Kernel) Config() Config { return k.cfg }

// Logger returns the kernel logger.
func (k *Kernel) Logger() *zap.Logger { return k.log }

// Registry returns the object registry.
func (k *Kernel) Registry() *registry.Registry { return k.reg }

// Scheduler returns the task scheduler.
func (k *Kernel) Scheduler() *task.Scheduler { return k.sched }

// Timers returns the timer engine.
func (k *Kernel) Timers() *timer.Engine { return k.timers }

// Heap returns the main heap.
func (k *Kernel) Heap() *region.Region { return k.heap }

// Creation.

// CreateTask creates a dormant task.
func (k *Kernel) CreateTask(name string, opts task.Options) (*task.Task, error) {
	return k.sched.Create(name, opts)
}

// CreateSemaphore creates a semaphore.
func (k *Kernel) CreateSemaphore(name string, opts sem.Options) (*sem.Semaphore, error) {
	return sem.New(k.reg, k.timers, name, opts)
}

// CreateQueue creates a message queue with its ring on the main heap.
func (k *Kernel) CreateQueue(name string, opts msgq.Options) (*msgq.Queue, error) {
	return msgq.New(k.reg, k.timers, k.heap, name, opts)
}

// CreatePartition creates a fixed-block pool over a window of a.
func (k *Kernel) CreatePartition(name string, a rtcore.Arena, opts partition.Options) (*partition.Partition, error) {
	return partition.New(k.reg, name, a, opts)
}

// CreateRegion creates a variable-size pool over a window of a.
func (k *Kernel) CreateRegion(name string, a rtcore.Arena, opts region.Options) (*region.Region, error) {
	return region.New(k.reg, k.timers, name, a, opts)
}

// Timers.

// ArmRelative arms a timer expiring after delay, then every period if
// period is positive.
func (k *Kernel) ArmRelative(delay, period time.Duration, p timer.Payload) (*timer.Timer, error) {
	return k.timers.ArmRelative(delay, period, p)
}

// ArmAbsolute arms a timer expiring when the wall date reaches date.
func (k *Kernel) ArmAbsolute(date time.Time, period time.Duration, p timer.Payload) (*timer.Timer, error) {
	return k.timers.ArmAbsolute(date, period, p)
}

// ArmPeriodic arms a timer expiring every period.
func (k *Kernel) ArmPeriodic(period time.Duration, p timer.Payload) (*timer.Timer, error) {
	return k.timers.ArmPeriodic(period, p)
}

// Cancel disarms t.
func (k *Kernel) Cancel(t *timer.Timer) bool {
	return k.timers.Cancel(t)
}

// Resolution.

// Task resolves a task handle.
func (k *Kernel) Task(h registry.Handle) (*task.Task, error) {
	return registry.Resolve[*task.Task](k.reg, h, registry.Task)
}

// Semaphore resolves a semaphore handle.
func (k *Kernel) Semaphore(h registry.Handle) (*sem.Semaphore, error) {
	return registry.Resolve[*sem.Semaphore](k.reg, h, registry.Semaphore)
}

// Queue resolves a message queue handle.
func (k *Kernel) Queue(h registry.Handle) (*msgq.Queue, error) {
	return registry.Resolve[*msgq.Queue](k.reg, h, registry.Queue)
}

// Partition resolves a partition handle.
func (k *Kernel) Partition(h registry.Handle) (*partition.Partition, error) {
	return registry.Resolve[*partition.Partition](k.reg, h, registry.Partition)
}

// Region resolves a region handle.
func (k *Kernel) Region(h registry.Handle) (*region.Region, error) {
	return registry.Resolve[*region.Region](k.reg, h, registry.Region)
}

// Bind waits per mode for name to be registered in scope.
func (k *Kernel) Bind(ctx context.Context, scope registry.Scope, name string, kind registry.Kind, mode waitq.Mode) (registry.Handle, error) {
	return k.reg.Bind(ctx, scope, name, kind, mode)
}

// Ident looks name up without waiting.
func (k *Kernel) Ident(scope registry.Scope, name string, kind registry.Kind) (registry.Handle, error) {
	return k.reg.Ident(scope, name, kind)
}

// Clock.

// Now returns the monotonic time since the kernel started.
func (k *Kernel) Now() time.Duration { return k.src.Now() }

// Date returns the wall date.
func (k *Kernel) Date() time.Time { return k.src.Date() }

// SetDate sets the wall date. Absolute timers are re-based.
func (k *Kernel) SetDate(t time.Time) { k.src.SetDate(t) }

// Close stops the timer engine, fails pending binds and releases the main
// heap. It returns a *errors.LeakError naming every object its owner has
// not deleted; the kernel is torn down either way.
func (k *Kernel) Close(ctx context.Context) error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	k.mu.Unlock()

	var leaked []errors.LeakedObject
	k.reg.Each(func(info registry.Info) bool {
		if info.Dead || info.Handle == k.heap.Handle() {
			return true
		}
		leaked = append(leaked, errors.LeakedObject{
			Kind:   info.Kind.String(),
			Name:   info.Name,
			Handle: uint64(info.Handle),
		})
		return true
	})

	k.timers.Close()
	k.reg.Close()
	if err := k.heap.Delete(ctx); err != nil {
		k.log.Warn("main heap still in use", zap.Error(err))
	} else {
		k.closeArena()
	}
	k.unwatch()

	if len(leaked) > 0 {
		k.log.Warn("kernel closed with live objects", zap.Int("count", len(leaked)))
		return &errors.LeakError{Objects: leaked}
	}
	k.log.Info("kernel closed")
	return nil
}
