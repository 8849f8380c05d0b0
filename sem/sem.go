package sem

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/rtcore/errors"
	"github.com/wippyai/rtcore/registry"
	"github.com/wippyai/rtcore/waitq"
)

// Options configure a new semaphore.
type Options struct {
	// Initial is the starting count.
	Initial int
	// Binary clamps the count at 1.
	Binary bool
	// Order is the wake-up discipline of blocked takers.
	Order waitq.Order
	Scope registry.Scope
}

// Semaphore is a counting semaphore with direct hand-off: a give with
// takers waiting passes the unit to the first of them without touching the
// count.
type Semaphore struct {
	reg     *registry.Registry
	q       *waitq.Queue
	name    string
	handle  registry.Handle
	count   int
	binary  bool
	deleted bool
	mu      sync.Mutex
}

// New creates and registers a semaphore.
func New(reg *registry.Registry, alarms waitq.Alarms, name string, opts Options) (*Semaphore, error) {
	if opts.Initial < 0 {
		return nil, errors.InvalidArgument(errors.PhaseSemaphore, "negative initial count %d", opts.Initial)
	}
	if opts.Binary && opts.Initial > 1 {
		return nil, errors.InvalidArgument(errors.PhaseSemaphore, "binary semaphore with initial count %d", opts.Initial)
	}

	s := &Semaphore{
		reg:    reg,
		name:   name,
		count:  opts.Initial,
		binary: opts.Binary,
	}
	s.q = waitq.New(&s.mu, waitq.Config{
		Alarms: alarms,
		Phase:  errors.PhaseSemaphore,
		Object: name,
		Order:  opts.Order,
	})

	h, err := reg.Create(opts.Scope, name, registry.Semaphore, s)
	if err != nil {
		return nil, err
	}
	s.handle = h
	return s, nil
}

// Handle returns the registry handle.
func (s *Semaphore) Handle() registry.Handle { return s.handle }

// Name returns the semaphore name.
func (s *Semaphore) Name() string { return s.name }

// Take acquires one unit, waiting per mode when none is available.
func (s *Semaphore) Take(ctx context.Context, mode waitq.Mode) error {
	if err := mode.Validate(errors.PhaseSemaphore); err != nil {
		return err
	}

	s.mu.Lock()
	if s.deleted {
		s.mu.Unlock()
		return errors.Deleted(errors.PhaseSemaphore, s.name)
	}
	if s.count > 0 {
		s.count--
		s.mu.Unlock()
		return nil
	}
	if mode.IsNoWait() {
		s.mu.Unlock()
		return errors.NoResource(errors.PhaseSemaphore, s.name)
	}
	if _, err := s.reg.Borrow(s.handle, registry.Semaphore); err != nil {
		s.mu.Unlock()
		return err
	}
	defer s.reg.Return(s.handle)

	w, err := s.q.Enqueue(ctx, mode)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return w.Wait(ctx)
}

// Give releases one unit, handing it to the first blocked taker if any.
func (s *Semaphore) Give(ctx context.Context) error {
	s.mu.Lock()
	if s.deleted {
		s.mu.Unlock()
		return errors.Deleted(errors.PhaseSemaphore, s.name)
	}
	if s.q.WakeOne(nil) == nil {
		if !s.binary || s.count == 0 {
			s.count++
		}
	}
	s.mu.Unlock()

	waitq.Reschedule(ctx)
	return nil
}

// Broadcast releases every blocked taker successfully and leaves the count
// untouched. It returns the number of takers released.
func (s *Semaphore) Broadcast(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.deleted {
		s.mu.Unlock()
		return 0, errors.Deleted(errors.PhaseSemaphore, s.name)
	}
	n := s.q.WakeAll(nil)
	s.mu.Unlock()

	waitq.Reschedule(ctx)
	return n, nil
}

// Delete removes the semaphore. Blocked takers fail with a deleted error
// whatever the count.
func (s *Semaphore) Delete(ctx context.Context) error {
	s.mu.Lock()
	if s.deleted {
		s.mu.Unlock()
		return errors.Deleted(errors.PhaseSemaphore, s.name)
	}
	s.deleted = true
	n := s.q.EvictAll(waitq.Deleted)
	s.mu.Unlock()

	if _, err := s.reg.Delete(s.handle); err != nil {
		return err
	}
	Logger().Debug("semaphore deleted",
		zap.String("name", s.name),
		zap.Int("evicted", n))
	waitq.Reschedule(ctx)
	return nil
}

// Count returns the available units.
func (s *Semaphore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Waiting returns the number of blocked takers.
func (s *Semaphore) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.Len()
}
