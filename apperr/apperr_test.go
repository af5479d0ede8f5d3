package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOf(t *testing.T) {
	err := New(CodeDevice, "no capture device")
	if got := CodeOf(err); got != CodeDevice {
		t.Errorf("CodeOf = %q, want %q", got, CodeDevice)
	}
	if got := CodeOf(errors.New("plain")); got != "" {
		t.Errorf("CodeOf(plain) = %q, want empty", got)
	}
}

func TestCodeOfWrapped(t *testing.T) {
	inner := Wrap(CodeNetwork, "transcribe call failed", errors.New("timeout"))
	outer := fmt.Errorf("window 3: %w", inner)
	if !HasCode(outer, CodeNetwork) {
		t.Error("expected CodeNetwork through fmt.Errorf wrapping")
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Wrap(CodeConnection, "push stream", cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to reach the cause")
	}
}

func TestErrorString(t *testing.T) {
	err := New(CodeValidation, "empty transcript")
	want := "VALIDATION_ERROR: empty transcript"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
