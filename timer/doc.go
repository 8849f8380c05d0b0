// Package timer implements the timer engine: relative, absolute and
// periodic timers kept in a single deadline-ordered heap and serviced by one
// goroutine.
//
// Periodic timers re-arm from their previous deadline, so the K-th expiry
// is always scheduled at start + K*period regardless of delivery latency.
// Absolute timers are expressed as wall dates and are re-based whenever the
// clock source's date is set.
//
// Poll services due timers synchronously and is the hook deterministic
// tests use together with a mock clock.
package timer
