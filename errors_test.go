package undocked

import (
	"errors"
	"fmt"
	"testing"
)

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrPortInUse, "PortInUse"},
		{fmt.Errorf("start container %q: %w", "x", ErrEngineUnavailable), "EngineUnavailable"},
		{fmt.Errorf("%w: %w", ErrImagePullFailed, errors.New("manifest unknown")), "ImagePullFailed"},
		{errors.New("boom"), "Internal"},
	}
	for _, tt := range tests {
		if got := Kind(tt.err); got != tt.want {
			t.Errorf("Kind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestKindErrorRoundTrip(t *testing.T) {
	for _, k := range kinds {
		if got := KindError(k.name); got != k.err {
			t.Errorf("KindError(%q) = %v, want %v", k.name, got, k.err)
		}
	}
	if KindError("nope") != nil {
		t.Error("KindError(unknown) should be nil")
	}
}

func TestParsePort(t *testing.T) {
	if n, err := ParsePort(" 5000 "); err != nil || n != 5000 {
		t.Fatalf("ParsePort(5000) = %d, %v", n, err)
	}
	for _, bad := range []string{"", "abc", "0", "65536", "-1"} {
		if _, err := ParsePort(bad); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("ParsePort(%q) error = %v, want ErrInvalidArgument", bad, err)
		}
	}
}

func TestServiceStatusTransitions(t *testing.T) {
	if !StatusStarting.CanTransition(StatusRunning) {
		t.Error("starting -> running should be allowed")
	}
	if StatusRunning.CanTransition(StatusStarting) {
		t.Error("running -> starting should not be allowed")
	}
	if !StatusError.CanTransition(StatusStopping) {
		t.Error("error -> stopping should be allowed")
	}
	if !StatusStarting.Busy() || !StatusStopping.Busy() || StatusRunning.Busy() {
		t.Error("Busy mismatch")
	}
}
