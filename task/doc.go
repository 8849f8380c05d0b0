// Package task implements prioritized tasks on top of goroutines.
//
// A Scheduler hands a single CPU token to the highest-priority ready task.
// Task goroutines only execute while holding the token, so task code is
// serialized exactly as on a uniprocessor RTOS. The token changes hands
// when the holder blocks in a wait queue, terminates, or reaches a
// preemption point: the end of an object operation that readied a better
// task (waitq.Reschedule), Scheduler.Yield in long computations, and
// Scheduler.Sleep.
//
// Tasks of equal priority share the CPU round-robin when they have a time
// slice; with a zero slice a task keeps the CPU until it blocks.
//
// Suspension is independent of blocking: a suspended task that gets woken
// stays off the CPU until resumed, and a resumed task that is still waiting
// keeps waiting.
//
//	t, _ := sched.Create("WORK", task.Options{Priority: 20})
//	_ = t.Start(ctx, func(ctx context.Context) {
//		_ = sched.Sleep(ctx, 10*time.Millisecond)
//	})
//	_ = t.Join(ctx, waitq.Infinite)
package task
