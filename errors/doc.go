// Package errors provides structured error types for the real-time core.
//
// Errors are categorized by Phase (the component that reported them) and
// Kind (the taxonomy every personality maps onto its own status codes).
// TimedOut, Interrupted and Deleted are distinct kinds so that the three
// ways a wait can end stay distinguishable at every API surface.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseQueue, errors.KindQueueFull).
//		Object("q-ctl").
//		Detail("capacity %d reached", 8).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.TimedOut(errors.PhaseSemaphore)
//	err := errors.OutOfBounds(errors.PhaseTask, "register", 9, 8)
//
// Sentinels carry no phase and match by kind:
//
//	if errors.Is(err, rterrors.ErrDeleted) { ... }
package errors
