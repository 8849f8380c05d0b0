// Package registry is the object directory of the core: a generation-checked
// handle table plus a per-scope name table.
//
// Every object (task, semaphore, queue, partition, region) is created
// through the registry and gets a Handle:
//
//	reg := registry.New()
//	h, err := reg.Create(registry.Local, "SEM1", registry.Semaphore, s)
//
// Names are resolved either immediately with Ident, or with Bind, which can
// wait for another party to create the name:
//
//	h, err := reg.Bind(ctx, registry.Local, "SEM1", registry.Semaphore, waitq.Timed(time.Second))
//
// # References
//
// Creation holds one reference, dropped by Delete. Object operations that
// block borrow their own handle so that a concurrent Delete cannot recycle
// the slot or the name under them; a deleted object stops resolving at
// once, but its name stays reserved until the last reference is returned.
// Objects implementing Reclaimer release their storage at that point.
//
// # Stale Handles
//
// Slots are recycled with a bumped generation, so a handle kept past its
// object's deletion resolves to NotFound rather than to a newer object.
package registry
