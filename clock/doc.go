// Package clock provides the monotonic and wall time source consumed by the
// timer engine and the scheduler.
//
// The source wraps a github.com/benbjohnson/clock Clock so tests can drive
// time with a mock:
//
//	mock := clock.NewMock()
//	src := rtclock.New(mock)
//	mock.Add(10 * time.Millisecond)
//	src.Now() // 10ms
//
// SetDate shifts the wall epoch only. Deadlines expressed on the monotonic
// scale never move when the date is adjusted.
package clock
