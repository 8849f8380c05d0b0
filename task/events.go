package task

import (
	"context"

	"github.com/wippyai/rtcore/errors"
	"github.com/wippyai/rtcore/waitq"
)

// Condition selects when a set of awaited events is satisfied.
type Condition uint8

const (
	// EventsAny is satisfied by any bit of the mask.
	EventsAny Condition = iota
	// EventsAll needs every bit of the mask.
	EventsAll
)

type eventWait struct {
	mask uint32
	cond Condition
}

func (e eventWait) match(pending uint32) (uint32, bool) {
	got := pending & e.mask
	if e.cond == EventsAll {
		return got, got == e.mask
	}
	return got, got != 0
}

// SendEvents posts mask to the task's event flags and wakes receivers whose
// condition became true. It fails once the task is gone.
func (t *Task) SendEvents(mask uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.retired {
		return errors.Deleted(errors.PhaseTask, t.name)
	}
	t.events |= mask

	var woken []*waitq.Waiter
	t.eventQ.Each(func(w *waitq.Waiter) bool {
		if got, ok := w.Data.(eventWait).match(t.events); ok {
			t.events &^= got
			w.Value = got
			woken = append(woken, w)
		}
		return t.events != 0
	})
	for _, w := range woken {
		t.eventQ.Remove(w, waitq.Satisfied)
	}
	return nil
}

// PostEvents is SendEvents followed by a preemption point for the caller.
func (t *Task) PostEvents(ctx context.Context, mask uint32) error {
	if err := t.SendEvents(mask); err != nil {
		return err
	}
	waitq.Reschedule(ctx)
	return nil
}

// Events returns the pending event flags without consuming them.
func (t *Task) Events() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.events
}

// ReceiveEvents waits per mode until the pending flags satisfy mask under
// cond, then consumes and returns the matching bits. A zero mask returns
// the pending flags untouched.
func (t *Task) ReceiveEvents(ctx context.Context, mask uint32, cond Condition, mode waitq.Mode) (uint32, error) {
	if err := mode.Validate(errors.PhaseTask); err != nil {
		return 0, err
	}
	req := eventWait{mask: mask, cond: cond}

	t.mu.Lock()
	if mask == 0 {
		ev := t.events
		t.mu.Unlock()
		return ev, nil
	}
	if got, ok := req.match(t.events); ok {
		t.events &^= got
		t.mu.Unlock()
		return got, nil
	}
	if t.retired {
		t.mu.Unlock()
		return 0, errors.Deleted(errors.PhaseTask, t.name)
	}
	if mode.IsNoWait() {
		t.mu.Unlock()
		return 0, errors.WouldBlock(errors.PhaseTask, "events")
	}
	w, err := t.eventQ.Enqueue(ctx, mode)
	if err != nil {
		t.mu.Unlock()
		return 0, err
	}
	w.Data = req
	t.mu.Unlock()

	if err := w.Wait(ctx); err != nil {
		return 0, err
	}
	return w.Value.(uint32), nil
}
