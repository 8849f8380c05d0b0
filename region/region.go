package region

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/rtcore"
	"github.com/wippyai/rtcore/errors"
	"github.com/wippyai/rtcore/region/internal/tlsf"
	"github.com/wippyai/rtcore/registry"
	"github.com/wippyai/rtcore/waitq"
)

// Options configure a new region.
type Options struct {
	// Offset is the start of the managed window inside the arena.
	Offset uint32
	// Length is the window size; 0 takes the rest of the arena.
	Length uint32
	// Order is the wake-up discipline of blocked allocators.
	Order waitq.Order
	Scope registry.Scope
}

// Stats summarizes a region.
type Stats struct {
	Capacity     uint64
	FreeBytes    uint64
	UsedBytes    uint64
	FreeSegments int
	UsedSegments int
	Waiting      int
}

// Region is a variable-size pool with optional blocking allocation.
type Region struct {
	reg     *registry.Registry
	arena   rtcore.Arena
	pool    *tlsf.Pool
	q       *waitq.Queue
	name    string
	handle  registry.Handle
	deleted bool
	mu      sync.Mutex
}

// New formats a window of arena as an empty region and registers it.
func New(reg *registry.Registry, alarms waitq.Alarms, name string, arena rtcore.Arena, opts Options) (*Region, error) {
	size := arena.Size()
	if opts.Offset > size {
		return nil, errors.OutOfBounds(errors.PhaseRegion, "window offset", int(opts.Offset), int(size))
	}
	length := opts.Length
	if length == 0 {
		length = size - opts.Offset
	}
	if uint64(opts.Offset)+uint64(length) > uint64(size) {
		return nil, errors.InvalidArgument(errors.PhaseRegion,
			"window [%d,+%d) exceeds arena of %d bytes", opts.Offset, length, size)
	}
	pool, ok := tlsf.New(arena.Bytes(), opts.Offset, length)
	if !ok {
		return nil, errors.InvalidArgument(errors.PhaseRegion, "window of %d bytes too small", length)
	}

	r := &Region{
		reg:   reg,
		arena: arena,
		pool:  pool,
		name:  name,
	}
	r.q = waitq.New(&r.mu, waitq.Config{
		Alarms: alarms,
		Phase:  errors.PhaseRegion,
		Object: name,
		Order:  opts.Order,
	})

	h, err := reg.Create(opts.Scope, name, registry.Region, r)
	if err != nil {
		return nil, err
	}
	r.handle = h
	return r, nil
}

// Handle returns the registry handle.
func (r *Region) Handle() registry.Handle { return r.handle }

// Name returns the region name.
func (r *Region) Name() string { return r.name }

// Allocate reserves a segment of at least size bytes and returns its arena
// offset. Without room, NoWait fails with a no-segment error and the other
// modes wait for a release. A size whose class exceeds the empty region
// fails at once in every mode.
func (r *Region) Allocate(ctx context.Context, size uint32, mode waitq.Mode) (uint32, error) {
	if err := mode.Validate(errors.PhaseRegion); err != nil {
		return 0, err
	}
	if size == 0 {
		return 0, errors.InvalidArgument(errors.PhaseRegion, "zero sized segment")
	}

	r.mu.Lock()
	if r.deleted {
		r.mu.Unlock()
		return 0, errors.Deleted(errors.PhaseRegion, r.name)
	}
	// queued requests are served first so a small one cannot starve them
	if r.q.Len() == 0 {
		if addr, ok := r.pool.Allocate(size); ok {
			r.mu.Unlock()
			return addr, nil
		}
	}
	if mode.IsNoWait() {
		r.mu.Unlock()
		return 0, errors.NoSegment(errors.PhaseRegion, r.name, size)
	}
	if !r.pool.Fits(size) {
		r.mu.Unlock()
		return 0, errors.NoSegment(errors.PhaseRegion, r.name, size)
	}
	if _, err := r.reg.Borrow(r.handle, registry.Region); err != nil {
		r.mu.Unlock()
		return 0, err
	}
	defer r.reg.Return(r.handle)

	w, err := r.q.Enqueue(ctx, mode)
	if err != nil {
		r.mu.Unlock()
		return 0, err
	}
	w.Data = size
	r.mu.Unlock()

	if err := w.Wait(ctx); err != nil {
		// a departed head may have been the only request that did not fit
		r.mu.Lock()
		served := 0
		if !r.deleted {
			served = r.serve()
		}
		r.mu.Unlock()
		if served > 0 {
			waitq.Reschedule(ctx)
		}
		return 0, err
	}
	return w.Value.(uint32), nil
}

// Free releases a segment and hands space to blocked allocators.
func (r *Region) Free(ctx context.Context, addr uint32) error {
	r.mu.Lock()
	if r.deleted {
		r.mu.Unlock()
		return errors.Deleted(errors.PhaseRegion, r.name)
	}
	if !r.pool.Free(addr) {
		r.mu.Unlock()
		return errors.New(errors.PhaseRegion, errors.KindInvalidArgument).
			Object(r.name).
			Value(addr).
			Detail("%d is not an allocated segment", addr).
			Build()
	}
	served := r.serve()
	r.mu.Unlock()

	if served > 0 {
		waitq.Reschedule(ctx)
	}
	return nil
}

// serve satisfies queued requests from the head while they fit. Caller
// holds r.mu.
func (r *Region) serve() int {
	n := 0
	for w := r.q.Head(); w != nil; w = r.q.Head() {
		addr, ok := r.pool.Allocate(w.Data.(uint32))
		if !ok {
			break
		}
		r.q.WakeOne(addr)
		n++
	}
	return n
}

// SizeOf returns the usable size of an allocated segment.
func (r *Region) SizeOf(addr uint32) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	size, ok := r.pool.SizeOf(addr)
	if !ok {
		return 0, errors.NotFound(errors.PhaseRegion, "segment", addr)
	}
	return size, nil
}

// Slice returns size bytes of the segment at addr. The slice aliases arena
// memory and is only valid until the segment is freed.
func (r *Region) Slice(addr, size uint32) ([]byte, error) {
	usable, err := r.SizeOf(addr)
	if err != nil {
		return nil, err
	}
	if size > usable {
		return nil, errors.OutOfBounds(errors.PhaseRegion, "segment", int(size), int(usable))
	}
	return r.arena.Bytes()[addr : addr+size : addr+size], nil
}

// Delete removes the region. It fails while segments are outstanding;
// otherwise blocked allocators fail with a deleted error.
func (r *Region) Delete(ctx context.Context) error {
	r.mu.Lock()
	if r.deleted {
		r.mu.Unlock()
		return errors.Deleted(errors.PhaseRegion, r.name)
	}
	if live := r.pool.Live(); live > 0 {
		r.mu.Unlock()
		return errors.ResourceBusy(errors.PhaseRegion, r.name, live)
	}
	r.deleted = true
	n := r.q.EvictAll(waitq.Deleted)
	r.mu.Unlock()

	if _, err := r.reg.Delete(r.handle); err != nil {
		return err
	}
	Logger().Debug("region deleted",
		zap.String("name", r.name),
		zap.Int("evicted", n))
	waitq.Reschedule(ctx)
	return nil
}

// Stats returns the current usage.
func (r *Region) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.pool.Stats()
	return Stats{
		Capacity:     st.Capacity,
		FreeBytes:    st.FreeBytes,
		UsedBytes:    st.UsedBytes,
		FreeSegments: st.FreeBlocks,
		UsedSegments: st.UsedBlocks,
		Waiting:      r.q.Len(),
	}
}

// Check verifies the allocator structure.
func (r *Region) Check() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pool.Check()
}
