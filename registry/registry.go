package registry

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/rtcore/errors"
	"github.com/wippyai/rtcore/waitq"
)

// Registry is the handle table and name directory shared by every object
// type. Slots are recycled through a free list; names map to slots per scope.
type Registry struct {
	entries   []entry
	free      []uint32
	names     map[nameKey]uint32
	binders   map[nameKey]*waitq.Queue
	observers []observerSlot
	alarms    waitq.Alarms
	log       *zap.Logger
	nextObs   uint64
	mu        sync.Mutex
	obsMu     sync.RWMutex
	live      int
	closed    bool
}

type entry struct {
	value any
	name  string
	scope Scope
	gen   uint32
	refs  uint32
	kind  Kind
	valid bool
	dead  bool
}

type nameKey struct {
	name  string
	scope Scope
}

type observerSlot struct {
	o  Observer
	id uint64
}

// bound is handed to binders woken by a create.
type bound struct {
	handle Handle
	kind   Kind
}

// Option configures a Registry.
type Option func(*Registry)

// WithAlarms sets the timer source for timed binds.
func WithAlarms(a waitq.Alarms) Option {
	return func(r *Registry) { r.alarms = a }
}

// WithLogger sets the registry's logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries: make([]entry, 0, 64),
		free:    make([]uint32, 0, 16),
		names:   make(map[nameKey]uint32),
		binders: make(map[nameKey]*waitq.Queue),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create registers value under name and returns its handle. The caller
// holds the creation reference until Delete. An empty name registers an
// anonymous object reachable only through its handle.
func (r *Registry) Create(scope Scope, name string, kind Kind, value any) (Handle, error) {
	if kind == Any {
		return 0, errors.InvalidArgument(errors.PhaseRegistry, "objects need a concrete kind")
	}
	if len(name) > MaxNameLen {
		return 0, errors.InvalidArgument(errors.PhaseRegistry, "name %q exceeds %d bytes", name, MaxNameLen)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, errClosed()
	}
	key := nameKey{name: name, scope: scope}
	if name != "" {
		if _, taken := r.names[key]; taken {
			r.mu.Unlock()
			return 0, errors.AlreadyExists(errors.PhaseRegistry, name)
		}
	}

	var slot uint32
	if n := len(r.free); n > 0 {
		slot = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		r.entries = append(r.entries, entry{})
		slot = uint32(len(r.entries) - 1)
	}
	e := &r.entries[slot]
	if e.gen == 0 {
		e.gen = 1
	}
	e.value = value
	e.name = name
	e.scope = scope
	e.kind = kind
	e.refs = 1
	e.valid = true
	e.dead = false
	h := makeHandle(slot, e.gen)
	r.live++

	if name != "" {
		r.names[key] = slot
		if q := r.binders[key]; q != nil {
			q.WakeAll(bound{handle: h, kind: kind})
			delete(r.binders, key)
		}
	}
	r.mu.Unlock()

	r.notify(Event{Type: EventCreated, Handle: h, Name: name, Scope: scope, Kind: kind, Value: value})
	return h, nil
}

// Bind resolves name, waiting per mode for it to be created. A bind that
// starts after a matching Create returned always succeeds.
func (r *Registry) Bind(ctx context.Context, scope Scope, name string, kind Kind, mode waitq.Mode) (Handle, error) {
	if err := mode.Validate(errors.PhaseRegistry); err != nil {
		return 0, err
	}
	if name == "" {
		return 0, errors.InvalidArgument(errors.PhaseRegistry, "bind needs a name")
	}
	key := nameKey{name: name, scope: scope}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, errClosed()
	}
	if slot, ok := r.names[key]; ok && !r.entries[slot].dead {
		e := &r.entries[slot]
		h := makeHandle(slot, e.gen)
		actual := e.kind
		r.mu.Unlock()
		if !kind.matches(actual) {
			return 0, kindMismatch(name, kind, actual)
		}
		return h, nil
	}
	if mode.IsNoWait() {
		r.mu.Unlock()
		return 0, errors.WouldBlock(errors.PhaseRegistry, name)
	}

	q := r.binders[key]
	if q == nil {
		q = waitq.New(&r.mu, waitq.Config{
			Alarms: r.alarms,
			Phase:  errors.PhaseRegistry,
			Object: name,
			Order:  waitq.FIFO,
		})
		r.binders[key] = q
	}
	w, err := q.Enqueue(ctx, mode)
	if err != nil {
		if q.Len() == 0 {
			delete(r.binders, key)
		}
		r.mu.Unlock()
		return 0, err
	}
	r.mu.Unlock()

	err = w.Wait(ctx)

	r.mu.Lock()
	if q.Len() == 0 && r.binders[key] == q {
		delete(r.binders, key)
	}
	r.mu.Unlock()

	if err != nil {
		return 0, err
	}
	b := w.Value.(bound)
	if !kind.matches(b.kind) {
		return 0, kindMismatch(name, kind, b.kind)
	}
	return b.handle, nil
}

// Ident resolves name without waiting.
func (r *Registry) Ident(scope Scope, name string, kind Kind) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.names[nameKey{name: name, scope: scope}]
	if !ok || r.entries[slot].dead {
		return 0, errors.NotFound(errors.PhaseRegistry, kind.String(), name)
	}
	e := &r.entries[slot]
	if !kind.matches(e.kind) {
		return 0, kindMismatch(name, kind, e.kind)
	}
	return makeHandle(slot, e.gen), nil
}

// Get returns the object behind h without taking a reference.
func (r *Registry) Get(h Handle, kind Kind) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.lookup(h, kind)
	if err != nil {
		return nil, err
	}
	return e.value, nil
}

// Borrow returns the object behind h and takes a reference that keeps its
// slot and name reserved until Return.
func (r *Registry) Borrow(h Handle, kind Kind) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.lookup(h, kind)
	if err != nil {
		return nil, err
	}
	e.refs++
	return e.value, nil
}

// Return drops a reference taken by Borrow. The reference may outlive the
// object's deletion; the slot is reclaimed when the last one is returned.
func (r *Registry) Return(h Handle) error {
	r.mu.Lock()
	e := r.entryAt(h)
	if e == nil || e.refs == 0 {
		r.mu.Unlock()
		return errors.NotFound(errors.PhaseRegistry, "reference", h)
	}
	e.refs--
	ev, reclaimed := r.maybeReclaim(h, e)
	r.mu.Unlock()

	if reclaimed {
		r.finishReclaim(ev)
	}
	return nil
}

// Delete marks the object dead and drops the creation reference. A dead
// object no longer resolves; its name stays reserved until every borrowed
// reference is returned.
func (r *Registry) Delete(h Handle) (any, error) {
	r.mu.Lock()
	e, err := r.lookup(h, Any)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	e.dead = true
	e.refs--
	r.live--
	deleted := Event{Type: EventDeleted, Handle: h, Name: e.name, Scope: e.scope, Kind: e.kind, Value: e.value}
	ev, reclaimed := r.maybeReclaim(h, e)
	r.mu.Unlock()

	r.notify(deleted)
	if reclaimed {
		r.finishReclaim(ev)
	}
	return deleted.Value, nil
}

// Resolve returns the object behind h as a T.
func Resolve[T any](r *Registry, h Handle, kind Kind) (T, error) {
	var zero T
	v, err := r.Get(h, kind)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, errors.NotFound(errors.PhaseRegistry, kind.String(), h)
	}
	return t, nil
}

// Subscribe registers o for lifecycle events and returns a function that
// unregisters it.
func (r *Registry) Subscribe(o Observer) (cancel func()) {
	r.obsMu.Lock()
	r.nextObs++
	id := r.nextObs
	r.observers = append(r.observers, observerSlot{o: o, id: id})
	r.obsMu.Unlock()

	return func() {
		r.obsMu.Lock()
		defer r.obsMu.Unlock()
		for i, s := range r.observers {
			if s.id == id {
				r.observers = append(r.observers[:i], r.observers[i+1:]...)
				return
			}
		}
	}
}

// Len returns the number of live objects.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live
}

// Each visits every registered entry, dead ones still holding references
// included, in slot order until fn returns false.
func (r *Registry) Each(fn func(Info) bool) {
	r.mu.Lock()
	infos := make([]Info, 0, r.live)
	for i := range r.entries {
		e := &r.entries[i]
		if !e.valid {
			continue
		}
		infos = append(infos, Info{
			Value:  e.value,
			Name:   e.name,
			Handle: makeHandle(uint32(i), e.gen),
			Scope:  e.scope,
			Refs:   e.refs,
			Kind:   e.kind,
			Dead:   e.dead,
		})
	}
	r.mu.Unlock()

	for _, info := range infos {
		if !fn(info) {
			return
		}
	}
}

// Close stops accepting creates and binds and fails pending binds with a
// deleted error. Registered objects are left to their owners.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for key, q := range r.binders {
		q.EvictAll(waitq.Deleted)
		delete(r.binders, key)
	}
}

func (r *Registry) entryAt(h Handle) *entry {
	slot := h.slot()
	if h == 0 || int(slot) >= len(r.entries) {
		return nil
	}
	e := &r.entries[slot]
	if !e.valid || e.gen != h.gen() {
		return nil
	}
	return e
}

func (r *Registry) lookup(h Handle, kind Kind) (*entry, error) {
	e := r.entryAt(h)
	if e == nil || e.dead || !kind.matches(e.kind) {
		return nil, errors.NotFound(errors.PhaseRegistry, kind.String(), h)
	}
	return e, nil
}

// maybeReclaim frees the slot of a dead entry without references. Caller
// holds mu.
func (r *Registry) maybeReclaim(h Handle, e *entry) (Event, bool) {
	if !e.dead || e.refs > 0 {
		return Event{}, false
	}
	ev := Event{Type: EventReclaimed, Handle: h, Name: e.name, Scope: e.scope, Kind: e.kind, Value: e.value}
	if e.name != "" {
		delete(r.names, nameKey{name: e.name, scope: e.scope})
	}
	e.valid = false
	e.dead = false
	e.value = nil
	e.name = ""
	e.gen++
	if e.gen == 0 {
		e.gen = 1
	}
	r.free = append(r.free, h.slot())
	return ev, true
}

func (r *Registry) finishReclaim(ev Event) {
	if rc, ok := ev.Value.(Reclaimer); ok {
		rc.Reclaim()
	}
	r.log.Debug("object reclaimed",
		zap.Stringer("kind", ev.Kind),
		zap.String("name", ev.Name),
		zap.Stringer("handle", ev.Handle))
	r.notify(ev)
}

func (r *Registry) notify(e Event) {
	r.obsMu.RLock()
	defer r.obsMu.RUnlock()
	for _, s := range r.observers {
		s.o.OnObjectEvent(e)
	}
}

func kindMismatch(name string, want, got Kind) error {
	return errors.New(errors.PhaseRegistry, errors.KindNotFound).
		Object(name).
		Detail("want %s, registered as %s", want, got).
		Build()
}

func errClosed() error {
	return errors.New(errors.PhaseRegistry, errors.KindDeleted).Detail("registry closed").Build()
}
