package msgq

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/wippyai/rtcore/arena"
	"github.com/wippyai/rtcore/clock"
	"github.com/wippyai/rtcore/errors"
	"github.com/wippyai/rtcore/region"
	"github.com/wippyai/rtcore/registry"
	"github.com/wippyai/rtcore/timer"
	"github.com/wippyai/rtcore/waitq"
)

var _ Heap = (*region.Region)(nil)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type env struct {
	reg  *registry.Registry
	eng  *timer.Engine
	heap *region.Region
}

func newEnv(t *testing.T, heapSize uint32) *env {
	t.Helper()
	eng := timer.NewEngine(clock.New(nil))
	t.Cleanup(eng.Close)
	reg := registry.New(registry.WithAlarms(eng))
	heap, err := region.New(reg, eng, "", arena.NewHeap(heapSize), region.Options{})
	if err != nil {
		t.Fatalf("main heap: %v", err)
	}
	return &env{reg: reg, eng: eng, heap: heap}
}

func (e *env) queue(t *testing.T, name string, opts Options) *Queue {
	t.Helper()
	q, err := New(e.reg, e.eng, e.heap, name, opts)
	if err != nil {
		t.Fatalf("New(%s) failed: %v", name, err)
	}
	return q
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	for i := 0; !cond(); i++ {
		if i > 5000 {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func receivers(q *Queue) int { _, r := q.Waiting(); return r }
func senders(q *Queue) int   { s, _ := q.Waiting(); return s }

type received struct {
	err error
	msg string
}

func receiveAsync(ctx context.Context, q *Queue, mode waitq.Mode, out chan<- received) {
	go func() {
		buf := make([]byte, q.MessageSize())
		n, err := q.Receive(ctx, buf, mode)
		out <- received{msg: string(buf[:n]), err: err}
	}()
}

func recvString(t *testing.T, q *Queue) string {
	t.Helper()
	buf := make([]byte, q.MessageSize())
	n, err := q.Receive(context.Background(), buf, waitq.NoWait)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	return string(buf[:n])
}

func TestQueue_NewValidation(t *testing.T) {
	e := newEnv(t, 4096)

	tests := []struct {
		name string
		opts Options
		kind errors.Kind
	}{
		{"zero slots", Options{Slots: 0, MessageSize: 8}, errors.KindInvalidArgument},
		{"zero message size", Options{Slots: 4, MessageSize: 0}, errors.KindInvalidArgument},
		{"ring exceeds heap", Options{Slots: 1000, MessageSize: 64}, errors.KindNoSegment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(e.reg, e.eng, e.heap, "q", tt.opts); errors.KindOf(err) != tt.kind {
				t.Fatalf("New error = %v, want %s", err, tt.kind)
			}
		})
	}
	if st := e.heap.Stats(); st.UsedSegments != 0 {
		t.Fatalf("failed creates leaked %d segments", st.UsedSegments)
	}

	e.queue(t, "q", Options{Slots: 2, MessageSize: 8})
	if _, err := New(e.reg, e.eng, e.heap, "q", Options{Slots: 2, MessageSize: 8}); errors.KindOf(err) != errors.KindAlreadyExists {
		t.Fatalf("duplicate error = %v", err)
	}
	if st := e.heap.Stats(); st.UsedSegments != 1 {
		t.Fatalf("duplicate create left %d segments, want 1", st.UsedSegments)
	}
}

func TestQueue_Capacity(t *testing.T) {
	e := newEnv(t, 4096)
	ctx := context.Background()
	q := e.queue(t, "q", Options{Slots: 3, MessageSize: 16})

	for _, m := range []string{"a", "b", "c"} {
		if err := q.Send(ctx, []byte(m), waitq.NoWait); err != nil {
			t.Fatalf("Send(%s) failed: %v", m, err)
		}
	}
	if err := q.Send(ctx, []byte("d"), waitq.NoWait); errors.KindOf(err) != errors.KindQueueFull {
		t.Fatalf("send beyond capacity error = %v", err)
	}
	if q.Len() != 3 || q.Cap() != 3 {
		t.Fatalf("Len/Cap = %d/%d", q.Len(), q.Cap())
	}

	if got := recvString(t, q); got != "a" {
		t.Fatalf("Receive = %q, want a", got)
	}
	if err := q.Send(ctx, []byte("d"), waitq.NoWait); err != nil {
		t.Fatalf("send after receive failed: %v", err)
	}
	if err := q.Send(ctx, []byte("e"), waitq.NoWait); errors.KindOf(err) != errors.KindQueueFull {
		t.Fatalf("second send after one receive error = %v", err)
	}
	for _, want := range []string{"b", "c", "d"} {
		if got := recvString(t, q); got != want {
			t.Fatalf("Receive = %q, want %q", got, want)
		}
	}
}

func TestQueue_Urgent(t *testing.T) {
	e := newEnv(t, 4096)
	ctx := context.Background()
	q := e.queue(t, "q", Options{Slots: 4, MessageSize: 16})

	q.Send(ctx, []byte("normal-1"), waitq.NoWait)
	q.Send(ctx, []byte("normal-2"), waitq.NoWait)
	if err := q.Urgent(ctx, []byte("urgent"), waitq.NoWait); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"urgent", "normal-1", "normal-2"} {
		if got := recvString(t, q); got != want {
			t.Fatalf("Receive = %q, want %q", got, want)
		}
	}
}

func TestQueue_Arguments(t *testing.T) {
	e := newEnv(t, 4096)
	ctx := context.Background()
	q := e.queue(t, "q", Options{Slots: 1, MessageSize: 4})

	if err := q.Send(ctx, []byte("toolong"), waitq.NoWait); errors.KindOf(err) != errors.KindInvalidArgument {
		t.Fatalf("oversized send error = %v", err)
	}
	if _, err := q.Receive(ctx, make([]byte, 2), waitq.NoWait); errors.KindOf(err) != errors.KindInvalidArgument {
		t.Fatalf("short buffer error = %v", err)
	}
	if _, err := q.Receive(ctx, make([]byte, 4), waitq.NoWait); errors.KindOf(err) != errors.KindWouldBlock {
		t.Fatalf("empty NoWait receive error = %v", err)
	}
	if err := q.Send(ctx, nil, waitq.NoWait); err != nil {
		t.Fatalf("empty message rejected: %v", err)
	}
	if n, err := q.Receive(ctx, make([]byte, 4), waitq.NoWait); err != nil || n != 0 {
		t.Fatalf("empty message received as %d, %v", n, err)
	}
}

func TestQueue_HandoffToReceiver(t *testing.T) {
	e := newEnv(t, 4096)
	ctx := context.Background()
	q := e.queue(t, "q", Options{Slots: 2, MessageSize: 16})

	out := make(chan received, 2)
	receiveAsync(ctx, q, waitq.Infinite, out)
	waitFor(t, "receiver 1", func() bool { return receivers(q) == 1 })
	receiveAsync(ctx, q, waitq.Infinite, out)
	waitFor(t, "receiver 2", func() bool { return receivers(q) == 2 })

	q.Send(ctx, []byte("first"), waitq.NoWait)
	if r := <-out; r.err != nil || r.msg != "first" {
		t.Fatalf("receiver 1 got %+v", r)
	}
	q.Send(ctx, []byte("second"), waitq.NoWait)
	if r := <-out; r.err != nil || r.msg != "second" {
		t.Fatalf("receiver 2 got %+v", r)
	}
	if q.Len() != 0 {
		t.Fatalf("handed-off messages stored: Len = %d", q.Len())
	}
}

func TestQueue_BlockedSenderRefills(t *testing.T) {
	e := newEnv(t, 4096)
	ctx := context.Background()
	q := e.queue(t, "q", Options{Slots: 2, MessageSize: 16})

	q.Send(ctx, []byte("a"), waitq.NoWait)
	q.Send(ctx, []byte("b"), waitq.NoWait)

	sent := make(chan error, 2)
	go func() { sent <- q.Send(ctx, []byte("c"), waitq.Infinite) }()
	waitFor(t, "sender c", func() bool { return senders(q) == 1 })
	go func() { sent <- q.Urgent(ctx, []byte("u"), waitq.Infinite) }()
	waitFor(t, "sender u", func() bool { return senders(q) == 2 })

	if got := recvString(t, q); got != "a" {
		t.Fatalf("Receive = %q, want a", got)
	}
	if err := <-sent; err != nil {
		t.Fatalf("sender c failed: %v", err)
	}
	if got := recvString(t, q); got != "b" {
		t.Fatalf("Receive = %q, want b", got)
	}
	if err := <-sent; err != nil {
		t.Fatalf("sender u failed: %v", err)
	}
	// u was blocked behind c, but stores at the head once it gets a slot
	for _, want := range []string{"u", "c"} {
		if got := recvString(t, q); got != want {
			t.Fatalf("Receive = %q, want %q", got, want)
		}
	}
}

func TestQueue_Broadcast(t *testing.T) {
	e := newEnv(t, 4096)
	ctx := context.Background()
	q := e.queue(t, "q", Options{Slots: 2, MessageSize: 16})

	if n, err := q.Broadcast(ctx, []byte("nobody")); err != nil || n != 0 {
		t.Fatalf("Broadcast with no receivers = %d, %v", n, err)
	}
	if q.Len() != 0 {
		t.Fatal("broadcast without receivers stored a message")
	}

	out := make(chan received, 3)
	for i := 1; i <= 3; i++ {
		receiveAsync(ctx, q, waitq.Infinite, out)
		waitFor(t, "receivers", func() bool { return receivers(q) == i })
	}
	n, err := q.Broadcast(ctx, []byte("all"))
	if err != nil || n != 3 {
		t.Fatalf("Broadcast = %d, %v", n, err)
	}
	for i := 0; i < 3; i++ {
		if r := <-out; r.err != nil || r.msg != "all" {
			t.Fatalf("receiver got %+v", r)
		}
	}
}

func TestQueue_TimedReceive(t *testing.T) {
	e := newEnv(t, 4096)
	q := e.queue(t, "q", Options{Slots: 1, MessageSize: 8})

	start := time.Now()
	_, err := q.Receive(context.Background(), make([]byte, 8), waitq.Timed(20*time.Millisecond))
	if errors.KindOf(err) != errors.KindTimedOut {
		t.Fatalf("Receive error = %v, want timed out", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("timed out early")
	}
}

func TestQueue_DeleteEvictsAndReleasesRing(t *testing.T) {
	e := newEnv(t, 4096)
	ctx := context.Background()

	full := e.queue(t, "full", Options{Slots: 1, MessageSize: 8})
	empty := e.queue(t, "empty", Options{Slots: 1, MessageSize: 8})
	full.Send(ctx, []byte("x"), waitq.NoWait)

	sent := make(chan error, 1)
	go func() { sent <- full.Send(ctx, []byte("y"), waitq.Infinite) }()
	waitFor(t, "blocked sender", func() bool { return senders(full) == 1 })

	out := make(chan received, 1)
	receiveAsync(ctx, empty, waitq.Infinite, out)
	waitFor(t, "blocked receiver", func() bool { return receivers(empty) == 1 })

	if err := full.Delete(ctx); err != nil {
		t.Fatal(err)
	}
	if err := empty.Delete(ctx); err != nil {
		t.Fatal(err)
	}
	if err := <-sent; errors.KindOf(err) != errors.KindDeleted {
		t.Fatalf("blocked sender error = %v", err)
	}
	if r := <-out; errors.KindOf(r.err) != errors.KindDeleted {
		t.Fatalf("blocked receiver error = %v", r.err)
	}

	waitFor(t, "rings released", func() bool { return e.heap.Stats().UsedSegments == 0 })
	if e.reg.Len() != 1 {
		t.Fatalf("registry holds %d objects, want only the heap", e.reg.Len())
	}
	if err := full.Send(ctx, []byte("z"), waitq.NoWait); errors.KindOf(err) != errors.KindDeleted {
		t.Fatalf("send after delete error = %v", err)
	}
	if err := full.Delete(ctx); errors.KindOf(err) != errors.KindDeleted {
		t.Fatalf("second delete error = %v", err)
	}
}
