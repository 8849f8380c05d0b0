// Package sem implements counting and binary semaphores.
//
// Takers that find no unit wait in FIFO or priority order. Give hands the
// unit straight to the first waiter, so a unit released while someone is
// waiting can never be stolen by a later taker. Deleting a semaphore fails
// every waiter with a deleted error.
package sem
