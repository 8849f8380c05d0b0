// Package rtcore provides a real-time object layer: the deterministic core
// shared by RTOS API personalities.
//
// The core manages named, reference-counted objects (tasks, semaphores,
// message queues, fixed-block partitions and variable-size regions) plus
// kernel timers, on top of a small set of shared mechanisms.
//
// # Architecture Overview
//
//	rtcore/              Root package with the Arena interface
//	├── kernel/          Process-wide context wiring every component
//	├── registry/        Handle table and name directory
//	├── waitq/           Priority/FIFO wait queues and blocking modes
//	├── task/            Prioritized tasks, CPU token, events
//	├── timer/           Timer engine (relative, absolute, periodic)
//	├── clock/           Monotonic and wall time source
//	├── sem/             Counting and binary semaphores
//	├── msgq/            Bounded fixed-size message queues
//	├── partition/       Fixed-block pools
//	├── region/          Variable-size pools on a TLSF allocator
//	├── arena/           Go heap and WebAssembly linear-memory arenas
//	└── errors/          Structured error types
//
// # Quick Start
//
//	k, err := kernel.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer k.Close(ctx)
//
//	s, _ := k.CreateSemaphore("SEM1", sem.Options{})
//	t, _ := k.CreateTask("T1", task.Options{Priority: 20})
//	_ = t.Start(ctx, func(ctx context.Context) {
//	    _ = s.Take(ctx, waitq.Timed(time.Second))
//	})
//
// # Blocking
//
// Every blocking operation takes a context and a waitq.Mode: NoWait,
// Timed(d) or Infinite. Timed-out, interrupted and deleted outcomes are
// reported as distinct error kinds (see package errors).
//
// # Thread Safety
//
// All objects are safe for concurrent use by tasks and plain goroutines.
// Task code is serialized by the scheduler's CPU token; plain goroutines
// calling in are not scheduled and wait at the lowest priority.
package rtcore
