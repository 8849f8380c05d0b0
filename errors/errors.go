package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Phase indicates which component reported the error
type Phase string

const (
	PhaseRegistry  Phase = "registry"  // name and handle services
	PhaseWait      Phase = "wait"      // wait queue bookkeeping
	PhaseTask      Phase = "task"      // task lifecycle and scheduling
	PhaseTimer     Phase = "timer"     // timer engine
	PhaseSemaphore Phase = "semaphore" // counting and binary semaphores
	PhaseQueue     Phase = "queue"     // message queues
	PhasePartition Phase = "partition" // fixed-block pools
	PhaseRegion    Phase = "region"    // variable-size pools
	PhaseArena     Phase = "arena"     // raw memory arenas
	PhaseKernel    Phase = "kernel"    // process-wide context
)

// Kind categorizes the error
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindAlreadyExists   Kind = "already_exists"
	KindWouldBlock      Kind = "would_block"
	KindTimedOut        Kind = "timed_out"
	KindInterrupted     Kind = "interrupted"
	KindDeleted         Kind = "deleted"
	KindResourceBusy    Kind = "resource_busy"
	KindNoResource      Kind = "no_resource"
	KindQueueFull       Kind = "queue_full"
	KindNoBuffer        Kind = "no_buffer"
	KindNoSegment       Kind = "no_segment"
	KindInvalidArgument Kind = "invalid_argument"
)

// Sentinels match any error of the same kind regardless of phase:
//
//	if errors.Is(err, rterrors.ErrTimedOut) { ... }
var (
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrAlreadyExists   = &Error{Kind: KindAlreadyExists}
	ErrWouldBlock      = &Error{Kind: KindWouldBlock}
	ErrTimedOut        = &Error{Kind: KindTimedOut}
	ErrInterrupted     = &Error{Kind: KindInterrupted}
	ErrDeleted         = &Error{Kind: KindDeleted}
	ErrResourceBusy    = &Error{Kind: KindResourceBusy}
	ErrNoResource      = &Error{Kind: KindNoResource}
	ErrQueueFull       = &Error{Kind: KindQueueFull}
	ErrNoBuffer        = &Error{Kind: KindNoBuffer}
	ErrNoSegment       = &Error{Kind: KindNoSegment}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
)

// Error is the structured error type used throughout the core
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Object string
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	if e.Phase != "" {
		b.WriteByte('[')
		b.WriteString(string(e.Phase))
		b.WriteString("] ")
	}
	b.WriteString(string(e.Kind))

	if e.Object != "" {
		b.WriteString(" at ")
		b.WriteString(e.Object)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target without a phase matches on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase == "" {
		return e.Kind == t.Kind
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Object sets the name of the object involved
func (b *Builder) Object(name string) *Builder {
	b.err.Object = name
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// NotFound creates a not-found error for an unresolved name or handle
func NotFound(phase Phase, what string, ref any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %v not found", what, ref),
		Value:  ref,
	}
}

// AlreadyExists creates a duplicate name error
func AlreadyExists(phase Phase, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAlreadyExists,
		Object: name,
		Detail: "name already in use",
	}
}

// WouldBlock reports a NoWait request on an unavailable resource
func WouldBlock(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindWouldBlock,
		Detail: what,
	}
}

// TimedOut reports an elapsed Timed wait
func TimedOut(phase Phase) *Error {
	return &Error{Phase: phase, Kind: KindTimedOut, Detail: "wait timed out"}
}

// Interrupted reports a forced unblock
func Interrupted(phase Phase) *Error {
	return &Error{Phase: phase, Kind: KindInterrupted, Detail: "wait interrupted"}
}

// Deleted reports an object removed while the caller used it
func Deleted(phase Phase, name string) *Error {
	return &Error{Phase: phase, Kind: KindDeleted, Object: name, Detail: "object deleted"}
}

// ResourceBusy reports a delete attempted with outstanding references
func ResourceBusy(phase Phase, name string, outstanding int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindResourceBusy,
		Object: name,
		Detail: fmt.Sprintf("%d outstanding", outstanding),
		Value:  outstanding,
	}
}

// NoResource reports an exhausted semaphore or pool on the non-blocking path
func NoResource(phase Phase, name string) *Error {
	return &Error{Phase: phase, Kind: KindNoResource, Object: name}
}

// QueueFull reports a NoWait send on a full queue
func QueueFull(phase Phase, name string, capacity int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindQueueFull,
		Object: name,
		Detail: fmt.Sprintf("capacity %d reached", capacity),
		Value:  capacity,
	}
}

// NoBuffer reports an empty partition
func NoBuffer(phase Phase, name string) *Error {
	return &Error{Phase: phase, Kind: KindNoBuffer, Object: name}
}

// NoSegment reports a region that cannot satisfy a request
func NoSegment(phase Phase, name string, size uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNoSegment,
		Object: name,
		Detail: fmt.Sprintf("no free segment for %d bytes", size),
		Value:  size,
	}
}

// InvalidArgument creates an invalid argument error
func InvalidArgument(phase Phase, detail string, args ...any) *Error {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidArgument,
		Detail: detail,
	}
}

// OutOfBounds creates an invalid argument error for a bad index
func OutOfBounds(phase Phase, what string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidArgument,
		Detail: fmt.Sprintf("%s index %d out of bounds (length %d)", what, index, length),
		Value:  index,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// LeakedObject describes an object still registered at teardown
type LeakedObject struct {
	Kind   string
	Name   string
	Handle uint64
}

// LeakError is returned when the kernel is torn down with live objects
type LeakError struct {
	Objects []LeakedObject
}

func (e *LeakError) Error() string {
	if len(e.Objects) == 0 {
		return "[kernel] resource_busy: no objects specified"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[kernel] resource_busy: %d object(s) still registered:\n", len(e.Objects))

	byKind := make(map[string][]string)
	var kindOrder []string
	for _, o := range e.Objects {
		if _, exists := byKind[o.Kind]; !exists {
			kindOrder = append(kindOrder, o.Kind)
		}
		name := o.Name
		if name == "" {
			name = fmt.Sprintf("<anonymous #%x>", o.Handle)
		}
		byKind[o.Kind] = append(byKind[o.Kind], name)
	}

	for _, k := range kindOrder {
		b.WriteString("\n  ")
		b.WriteString(k)
		b.WriteString(":\n")
		for _, n := range byKind[k] {
			b.WriteString("    - ")
			b.WriteString(n)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is makes a LeakError match ErrResourceBusy as well as any *LeakError
func (e *LeakError) Is(target error) bool {
	switch t := target.(type) {
	case *LeakError:
		return true
	case *Error:
		return t.Kind == KindResourceBusy && (t.Phase == "" || t.Phase == PhaseKernel)
	}
	return false
}
