package errs

import (
	"errors"
	"testing"
)

func TestMediaErrorUnwrap(t *testing.T) {
	cause := errors.New("decoder exploded")
	err := NewMediaError("demux.Open", 5, cause)

	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find the wrapped cause")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error message")
	}
}

func TestIOErrorUnwrap(t *testing.T) {
	cause := errors.New("no such file")
	err := NewIOError("open", "/tmp/missing.mp4", cause)

	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find the wrapped cause")
	}
}

func TestOutOfRangeError(t *testing.T) {
	err := NewOutOfRangeError(42, 10)
	if err.Index != 42 || err.NumFrames != 10 {
		t.Fatalf("unexpected fields: %+v", err)
	}
	if err.Error() == "" {
		t.Fatalf("expected non-empty error message")
	}
}

func TestLogicAndFormatErrors(t *testing.T) {
	if NewLogicError("bad state").Error() == "" {
		t.Fatalf("expected non-empty message")
	}
	if NewFormatError("bad container").Error() == "" {
		t.Fatalf("expected non-empty message")
	}
}
