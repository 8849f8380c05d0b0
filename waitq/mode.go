package waitq

import (
	"fmt"
	"time"

	"github.com/wippyai/rtcore/errors"
)

type modeKind uint8

const (
	modeNoWait modeKind = iota
	modeTimed
	modeInfinite
)

// Mode selects how a wait-capable operation behaves when the resource is
// unavailable. The zero Mode is NoWait.
type Mode struct {
	timeout time.Duration
	kind    modeKind
}

var (
	// NoWait fails immediately instead of suspending.
	NoWait = Mode{kind: modeNoWait}
	// Infinite waits until satisfied or forcibly evicted.
	Infinite = Mode{kind: modeInfinite}
)

// Timed waits at most d.
func Timed(d time.Duration) Mode {
	return Mode{kind: modeTimed, timeout: d}
}

// IsNoWait reports whether the mode never suspends.
func (m Mode) IsNoWait() bool {
	return m.kind == modeNoWait
}

// Timeout returns the wait bound, if any.
func (m Mode) Timeout() (time.Duration, bool) {
	return m.timeout, m.kind == modeTimed
}

// Validate rejects timed modes without a positive bound.
func (m Mode) Validate(phase errors.Phase) error {
	if m.kind == modeTimed && m.timeout <= 0 {
		return errors.InvalidArgument(phase, "timed wait needs a positive timeout, got %v", m.timeout)
	}
	return nil
}

func (m Mode) String() string {
	switch m.kind {
	case modeNoWait:
		return "nowait"
	case modeTimed:
		return fmt.Sprintf("timed(%v)", m.timeout)
	default:
		return "infinite"
	}
}

// Order is the wake-up discipline of a queue, fixed at creation.
type Order uint8

const (
	// FIFO wakes strictly in arrival order.
	FIFO Order = iota
	// Priority wakes the highest priority first, ties in arrival order.
	Priority
)

func (o Order) String() string {
	if o == Priority {
		return "priority"
	}
	return "fifo"
}

// Reason records why a waiter left its queue.
type Reason uint8

const (
	Waiting Reason = iota
	Satisfied
	Flushed
	TimedOut
	Interrupted
	Deleted
)

func (r Reason) String() string {
	switch r {
	case Waiting:
		return "waiting"
	case Satisfied:
		return "satisfied"
	case Flushed:
		return "flushed"
	case TimedOut:
		return "timed-out"
	case Interrupted:
		return "interrupted"
	case Deleted:
		return "deleted"
	}
	return fmt.Sprintf("reason(%d)", uint8(r))
}
