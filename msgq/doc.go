// Package msgq implements bounded message queues with fixed-size slots.
//
// The ring of slots is carved from a Heap, normally the kernel main heap
// region, when the queue is created. A sender finding a blocked receiver
// copies straight into the receiver's buffer; a receiver freeing a slot
// refills it from the first blocked sender. Deleting a queue fails every
// blocked sender and receiver with a deleted error and discards stored
// messages.
package msgq
