// Package waitq implements the ordered wait queues every blocking
// primitive is built on.
//
// A queue is owned by one object and protected by that object's lock. The
// owner checks availability under the lock, queues the caller with Enqueue,
// drops the lock and calls Wait:
//
//	s.mu.Lock()
//	if s.count > 0 {
//	    s.count--
//	    s.mu.Unlock()
//	    return nil
//	}
//	w, err := s.waiters.Enqueue(ctx, mode)
//	s.mu.Unlock()
//	if err != nil {
//	    return err
//	}
//	return w.Wait(ctx)
//
// # Ordering
//
// FIFO queues wake in arrival order. Priority queues keep one FIFO list per
// priority level and a bitmap of non-empty levels, so both insertion and
// removal of the best waiter are constant time.
//
// # Outcomes
//
// A waiter leaves its queue exactly once, for one Reason. Satisfied and
// Flushed are successes; TimedOut, Interrupted and Deleted map to the
// errors of the same names so callers can always tell them apart.
package waitq
