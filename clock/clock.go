package clock

import (
	"sync"
	"time"

	bclock "github.com/benbjohnson/clock"
)

// Source is the single time base of the core. Now is monotonic and
// measured from the moment the source was created; Date maps it onto the
// wall clock through an adjustable epoch.
type Source struct {
	clk       bclock.Clock
	boot      time.Time
	epoch     time.Time
	listeners []func()
	mu        sync.RWMutex
}

// New creates a source driven by clk. A nil clk selects the real clock.
func New(clk bclock.Clock) *Source {
	if clk == nil {
		clk = bclock.New()
	}
	boot := clk.Now()
	return &Source{
		clk:   clk,
		boot:  boot,
		epoch: boot.Round(0),
	}
}

// Clock returns the underlying clock.
func (s *Source) Clock() bclock.Clock {
	return s.clk
}

// Now returns the monotonic time elapsed since the source was created.
func (s *Source) Now() time.Duration {
	return s.clk.Since(s.boot)
}

// Date returns the current wall date.
func (s *Source) Date() time.Time {
	now := s.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch.Add(now)
}

// SetDate moves the wall epoch so that Date reports t. Monotonic readings
// are unaffected.
func (s *Source) SetDate(t time.Time) {
	now := s.Now()
	s.mu.Lock()
	s.epoch = t.Round(0).Add(-now)
	listeners := append([]func(){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// ToMonotonic converts a wall date to the monotonic scale using the
// current epoch.
func (s *Source) ToMonotonic(date time.Time) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return date.Round(0).Sub(s.epoch)
}

// OnSetDate registers fn to run after every epoch change.
func (s *Source) OnSetDate(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}
