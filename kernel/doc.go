// Package kernel assembles the real-time object layer into one context
// object.
//
// A Kernel owns the clock, the timer engine, the object registry, the task
// scheduler and the main heap that message queue rings are carved from.
// Front ends that emulate a particular RTOS interface create and resolve
// objects through it:
//
//	k, err := kernel.New(kernel.WithConfig(cfg))
//	if err != nil {
//		return err
//	}
//	defer k.Close(ctx)
//
//	s, err := k.CreateSemaphore("lock", sem.Options{Initial: 1})
//
// Close reports every object still registered, so tests can assert that a
// scenario released everything it created.
package kernel
