package timer

import "time"

// Expiry describes one delivery of a timer.
type Expiry struct {
	// Deadline is the scheduled expiry on the monotonic scale.
	Deadline time.Duration
	// Now is the monotonic time of delivery.
	Now time.Duration
	// Count is the number of expiries delivered so far, this one included.
	Count uint64
}

// Lateness returns how long after its deadline the expiry was delivered.
func (e Expiry) Lateness() time.Duration {
	return e.Now - e.Deadline
}

// Payload is delivered on every expiry.
type Payload interface {
	deliver(e Expiry) error
}

type callback func(Expiry)

func (c callback) deliver(e Expiry) error {
	c(e)
	return nil
}

// Callback runs fn from the engine on every expiry. fn must not call Poll.
func Callback(fn func(Expiry)) Payload {
	return callback(fn)
}

// EventSink receives event flags, typically a task.
type EventSink interface {
	SendEvents(mask uint32) error
}

type event struct {
	sink EventSink
	mask uint32
}

func (ev event) deliver(Expiry) error {
	return ev.sink.SendEvents(ev.mask)
}

// Event posts mask to sink on every expiry.
func Event(sink EventSink, mask uint32) Payload {
	return event{sink: sink, mask: mask}
}

type tickOnly struct{}

func (tickOnly) deliver(Expiry) error { return nil }

// Ticks only counts expiries; observe them with Timer.WaitTick.
func Ticks() Payload {
	return tickOnly{}
}
