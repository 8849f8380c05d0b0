package msgq

import (
	"context"
	"encoding/binary"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/rtcore/errors"
	"github.com/wippyai/rtcore/registry"
	"github.com/wippyai/rtcore/waitq"
)

// Heap supplies ring storage. *region.Region implements it.
type Heap interface {
	Allocate(ctx context.Context, size uint32, mode waitq.Mode) (uint32, error)
	Free(ctx context.Context, addr uint32) error
	Slice(addr, size uint32) ([]byte, error)
}

// Options configure a new queue.
type Options struct {
	// Slots is the capacity in messages.
	Slots int
	// MessageSize is the largest message a slot holds.
	MessageSize int
	// Order is the wake-up discipline of both blocked senders and receivers.
	Order waitq.Order
	Scope registry.Scope
}

// slot layout: u32 length prefix followed by the message bytes
const lenPrefix = 4

// Queue is a bounded FIFO of messages.
type Queue struct {
	reg     *registry.Registry
	heap    Heap
	ring    []byte
	sendQ   *waitq.Queue
	recvQ   *waitq.Queue
	name    string
	handle  registry.Handle
	addr    uint32
	stride  int
	msgSize int
	slots   int
	head    int
	count   int
	deleted bool
	mu      sync.Mutex
}

// pending is a blocked sender's message.
type pending struct {
	msg    []byte
	urgent bool
}

// New allocates the ring from heap and registers the queue.
func New(reg *registry.Registry, alarms waitq.Alarms, heap Heap, name string, opts Options) (*Queue, error) {
	if opts.Slots <= 0 {
		return nil, errors.InvalidArgument(errors.PhaseQueue, "slot count %d", opts.Slots)
	}
	if opts.MessageSize <= 0 {
		return nil, errors.InvalidArgument(errors.PhaseQueue, "message size %d", opts.MessageSize)
	}
	stride := lenPrefix + opts.MessageSize
	total := uint64(stride) * uint64(opts.Slots)
	if total > uint64(^uint32(0)) {
		return nil, errors.InvalidArgument(errors.PhaseQueue, "ring of %d bytes too large", total)
	}

	ctx := context.Background()
	addr, err := heap.Allocate(ctx, uint32(total), waitq.NoWait)
	if err != nil {
		return nil, err
	}
	ring, err := heap.Slice(addr, uint32(total))
	if err != nil {
		heap.Free(ctx, addr)
		return nil, err
	}

	q := &Queue{
		reg:     reg,
		heap:    heap,
		ring:    ring,
		name:    name,
		addr:    addr,
		stride:  stride,
		msgSize: opts.MessageSize,
		slots:   opts.Slots,
	}
	cfg := waitq.Config{
		Alarms: alarms,
		Phase:  errors.PhaseQueue,
		Object: name,
		Order:  opts.Order,
	}
	q.sendQ = waitq.New(&q.mu, cfg)
	q.recvQ = waitq.New(&q.mu, cfg)

	h, err := reg.Create(opts.Scope, name, registry.Queue, q)
	if err != nil {
		heap.Free(ctx, addr)
		return nil, err
	}
	q.handle = h
	return q, nil
}

// Handle returns the registry handle.
func (q *Queue) Handle() registry.Handle { return q.handle }

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Cap returns the slot count.
func (q *Queue) Cap() int { return q.slots }

// MessageSize returns the largest accepted message.
func (q *Queue) MessageSize() int { return q.msgSize }

// Len returns the number of stored messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Waiting returns the number of blocked senders and receivers.
func (q *Queue) Waiting() (senders, receivers int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sendQ.Len(), q.recvQ.Len()
}

// Send appends msg. A full queue fails with QueueFull under NoWait and
// otherwise waits for room.
func (q *Queue) Send(ctx context.Context, msg []byte, mode waitq.Mode) error {
	return q.send(ctx, msg, mode, false)
}

// Urgent is Send storing msg ahead of every queued message.
func (q *Queue) Urgent(ctx context.Context, msg []byte, mode waitq.Mode) error {
	return q.send(ctx, msg, mode, true)
}

func (q *Queue) send(ctx context.Context, msg []byte, mode waitq.Mode, urgent bool) error {
	if err := mode.Validate(errors.PhaseQueue); err != nil {
		return err
	}
	if len(msg) > q.msgSize {
		return errors.InvalidArgument(errors.PhaseQueue,
			"message of %d bytes exceeds slot size %d", len(msg), q.msgSize)
	}

	q.mu.Lock()
	if q.deleted {
		q.mu.Unlock()
		return errors.Deleted(errors.PhaseQueue, q.name)
	}
	if w := q.recvQ.Head(); w != nil {
		n := copy(w.Data.([]byte), msg)
		q.recvQ.WakeOne(n)
		q.mu.Unlock()
		waitq.Reschedule(ctx)
		return nil
	}
	if q.count < q.slots {
		q.store(msg, urgent)
		q.mu.Unlock()
		return nil
	}
	if mode.IsNoWait() {
		q.mu.Unlock()
		return errors.QueueFull(errors.PhaseQueue, q.name, q.slots)
	}

	if _, err := q.reg.Borrow(q.handle, registry.Queue); err != nil {
		q.mu.Unlock()
		return err
	}
	defer q.reg.Return(q.handle)

	w, err := q.sendQ.Enqueue(ctx, mode)
	if err != nil {
		q.mu.Unlock()
		return err
	}
	w.Data = &pending{msg: msg, urgent: urgent}
	q.mu.Unlock()
	return w.Wait(ctx)
}

// Broadcast copies msg to every blocked receiver and returns how many were
// released. Nothing is stored when no receiver waits.
func (q *Queue) Broadcast(ctx context.Context, msg []byte) (int, error) {
	if len(msg) > q.msgSize {
		return 0, errors.InvalidArgument(errors.PhaseQueue,
			"message of %d bytes exceeds slot size %d", len(msg), q.msgSize)
	}

	q.mu.Lock()
	if q.deleted {
		q.mu.Unlock()
		return 0, errors.Deleted(errors.PhaseQueue, q.name)
	}
	q.recvQ.Each(func(w *waitq.Waiter) bool {
		copy(w.Data.([]byte), msg)
		return true
	})
	n := q.recvQ.WakeAll(len(msg))
	q.mu.Unlock()

	if n > 0 {
		waitq.Reschedule(ctx)
	}
	return n, nil
}

// Receive copies the oldest message into buf, which must hold MessageSize
// bytes, and returns its length. An empty queue fails with WouldBlock under
// NoWait and otherwise waits for a sender.
func (q *Queue) Receive(ctx context.Context, buf []byte, mode waitq.Mode) (int, error) {
	if err := mode.Validate(errors.PhaseQueue); err != nil {
		return 0, err
	}
	if len(buf) < q.msgSize {
		return 0, errors.InvalidArgument(errors.PhaseQueue,
			"buffer of %d bytes below message size %d", len(buf), q.msgSize)
	}

	q.mu.Lock()
	if q.deleted {
		q.mu.Unlock()
		return 0, errors.Deleted(errors.PhaseQueue, q.name)
	}
	if q.count > 0 {
		n := q.load(buf)
		woke := false
		if w := q.sendQ.Head(); w != nil {
			p := w.Data.(*pending)
			q.store(p.msg, p.urgent)
			q.sendQ.WakeOne(nil)
			woke = true
		}
		q.mu.Unlock()
		if woke {
			waitq.Reschedule(ctx)
		}
		return n, nil
	}
	if mode.IsNoWait() {
		q.mu.Unlock()
		return 0, errors.WouldBlock(errors.PhaseQueue, "queue empty")
	}

	if _, err := q.reg.Borrow(q.handle, registry.Queue); err != nil {
		q.mu.Unlock()
		return 0, err
	}
	defer q.reg.Return(q.handle)

	w, err := q.recvQ.Enqueue(ctx, mode)
	if err != nil {
		q.mu.Unlock()
		return 0, err
	}
	w.Data = buf
	q.mu.Unlock()

	if err := w.Wait(ctx); err != nil {
		return 0, err
	}
	return w.Value.(int), nil
}

// Delete removes the queue. Blocked senders and receivers fail with a
// deleted error and stored messages are discarded. The ring returns to the
// heap once the last blocked caller has left.
func (q *Queue) Delete(ctx context.Context) error {
	q.mu.Lock()
	if q.deleted {
		q.mu.Unlock()
		return errors.Deleted(errors.PhaseQueue, q.name)
	}
	q.deleted = true
	discarded := q.count
	q.count = 0
	senders := q.sendQ.EvictAll(waitq.Deleted)
	receivers := q.recvQ.EvictAll(waitq.Deleted)
	q.mu.Unlock()

	if _, err := q.reg.Delete(q.handle); err != nil {
		return err
	}
	Logger().Debug("queue deleted",
		zap.String("name", q.name),
		zap.Int("discarded", discarded),
		zap.Int("senders", senders),
		zap.Int("receivers", receivers))
	waitq.Reschedule(ctx)
	return nil
}

// Reclaim returns the ring to the heap. The registry calls it once the
// queue is deleted and unreferenced.
func (q *Queue) Reclaim() {
	q.mu.Lock()
	ring := q.ring
	q.ring = nil
	q.mu.Unlock()
	if ring == nil {
		return
	}
	if err := q.heap.Free(context.Background(), q.addr); err != nil {
		Logger().Warn("queue ring release failed",
			zap.String("name", q.name),
			zap.Error(err))
	}
}

// store writes msg into the tail slot, or the head slot when urgent.
// Caller holds q.mu and has checked for room.
func (q *Queue) store(msg []byte, urgent bool) {
	var i int
	if urgent {
		q.head = (q.head + q.slots - 1) % q.slots
		i = q.head
	} else {
		i = (q.head + q.count) % q.slots
	}
	slot := q.ring[i*q.stride : (i+1)*q.stride]
	binary.LittleEndian.PutUint32(slot, uint32(len(msg)))
	copy(slot[lenPrefix:], msg)
	q.count++
}

// load pops the head slot into buf. Caller holds q.mu.
func (q *Queue) load(buf []byte) int {
	slot := q.ring[q.head*q.stride : (q.head+1)*q.stride]
	n := int(binary.LittleEndian.Uint32(slot))
	copy(buf, slot[lenPrefix:lenPrefix+n])
	q.head = (q.head + 1) % q.slots
	q.count--
	return n
}
