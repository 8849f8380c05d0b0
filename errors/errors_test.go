package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseQueue,
				Kind:   KindQueueFull,
				Object: "q-ctl",
				Detail: "capacity 8 reached",
			},
			contains: []string{"[queue]", "queue_full", "q-ctl", "capacity 8"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseSemaphore,
				Kind:  KindTimedOut,
			},
			contains: []string{"[semaphore]", "timed_out"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseArena,
				Kind:   KindInvalidArgument,
				Detail: "instantiate memory",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[arena]", "invalid_argument", "instantiate memory", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(PhaseKernel, KindInvalidArgument, cause, "load config")

	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should see the cause")
	}
}

func TestError_Is(t *testing.T) {
	err := TimedOut(PhaseSemaphore)

	if !err.Is(&Error{Phase: PhaseSemaphore, Kind: KindTimedOut}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseQueue, Kind: KindTimedOut}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseSemaphore, Kind: KindDeleted}) {
		t.Error("Is should not match different kind")
	}
	if !errors.Is(err, ErrTimedOut) {
		t.Error("sentinel without phase should match on kind")
	}
	if errors.Is(err, ErrInterrupted) || errors.Is(err, ErrDeleted) {
		t.Error("wait outcomes must stay distinguishable")
	}
}

func TestKindOf(t *testing.T) {
	if k := KindOf(NoBuffer(PhasePartition, "pt")); k != KindNoBuffer {
		t.Errorf("KindOf = %q, want %q", k, KindNoBuffer)
	}
	if k := KindOf(errors.New("plain")); k != "" {
		t.Errorf("KindOf(plain) = %q, want empty", k)
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseRegion, KindNoSegment).
		Object("rn0").
		Value(uint32(4096)).
		Cause(cause).
		Detail("need %d bytes, largest %d", 4096, 1024).
		Build()

	if err.Phase != PhaseRegion {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseRegion)
	}
	if err.Kind != KindNoSegment {
		t.Errorf("Kind = %v, want %v", err.Kind, KindNoSegment)
	}
	if err.Object != "rn0" {
		t.Errorf("Object = %v, want rn0", err.Object)
	}
	if err.Value != uint32(4096) {
		t.Errorf("Value = %v, want 4096", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "need 4096 bytes, largest 1024" {
		t.Errorf("Detail = %q", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		kind Kind
	}{
		{"NotFound", NotFound(PhaseRegistry, "name", "sem0"), KindNotFound},
		{"AlreadyExists", AlreadyExists(PhaseRegistry, "sem0"), KindAlreadyExists},
		{"WouldBlock", WouldBlock(PhaseRegistry, "bind"), KindWouldBlock},
		{"Interrupted", Interrupted(PhaseTask), KindInterrupted},
		{"Deleted", Deleted(PhaseSemaphore, "s"), KindDeleted},
		{"ResourceBusy", ResourceBusy(PhasePartition, "pt", 3), KindResourceBusy},
		{"NoResource", NoResource(PhaseSemaphore, "s"), KindNoResource},
		{"QueueFull", QueueFull(PhaseQueue, "q", 4), KindQueueFull},
		{"NoBuffer", NoBuffer(PhasePartition, "pt"), KindNoBuffer},
		{"NoSegment", NoSegment(PhaseRegion, "rn", 64), KindNoSegment},
		{"InvalidArgument", InvalidArgument(PhaseTask, "priority %d", 0), KindInvalidArgument},
		{"OutOfBounds", OutOfBounds(PhaseTask, "register", 9, 8), KindInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", tt.err.Kind, tt.kind)
			}
			if tt.err.Error() == "" {
				t.Error("empty message")
			}
		})
	}

	if v := OutOfBounds(PhaseTask, "register", 9, 8).Value; v != 9 {
		t.Errorf("OutOfBounds value = %v, want 9", v)
	}
}

func TestLeakError(t *testing.T) {
	t.Run("grouped by kind", func(t *testing.T) {
		err := &LeakError{Objects: []LeakedObject{
			{Kind: "semaphore", Name: "s1", Handle: 1},
			{Kind: "queue", Name: "q1", Handle: 2},
			{Kind: "semaphore", Handle: 3},
		}}
		msg := err.Error()
		for _, s := range []string{"3 object(s)", "semaphore:", "queue:", "s1", "<anonymous #3>"} {
			if !strings.Contains(msg, s) {
				t.Errorf("message %q does not contain %q", msg, s)
			}
		}
	})

	t.Run("empty", func(t *testing.T) {
		err := &LeakError{}
		if !strings.Contains(err.Error(), "no objects specified") {
			t.Errorf("unexpected message: %s", err.Error())
		}
	})

	t.Run("errors.Is", func(t *testing.T) {
		err := &LeakError{Objects: []LeakedObject{{Kind: "task", Name: "t"}}}
		if !errors.Is(err, &LeakError{}) {
			t.Error("errors.Is should match LeakError")
		}
		if !errors.Is(err, ErrResourceBusy) {
			t.Error("errors.Is should match ErrResourceBusy")
		}
	})
}
