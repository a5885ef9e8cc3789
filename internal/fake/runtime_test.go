package fake

import (
	"context"
	"errors"
	"testing"
	"time"

	"undocked"
)

func TestRuntimeStartStop(t *testing.T) {
	ctx := context.Background()
	rt := NewRuntime()

	if _, err := rt.Start(ctx, undocked.ContainerSpec{ServiceID: "a", Image: "img", HostPort: "8080"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	_, err := rt.Start(ctx, undocked.ContainerSpec{ServiceID: "b", Image: "img", HostPort: "8080"})
	if !errors.Is(err, undocked.ErrPortInUse) {
		t.Fatalf("Start() same port error = %v, want ErrPortInUse", err)
	}
	if err := rt.Stop(ctx, "a"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := rt.Stop(ctx, "a"); err != nil {
		t.Fatalf("second Stop() error = %v, want nil", err)
	}
	if rt.Count("Stop") != 2 {
		t.Fatalf("Stop calls = %d, want 2", rt.Count("Stop"))
	}
}

func TestRuntimeUnavailable(t *testing.T) {
	rt := NewRuntime()
	rt.SetAvailable(false)
	_, err := rt.Start(context.Background(), undocked.ContainerSpec{ServiceID: "a", HostPort: "1"})
	if !errors.Is(err, undocked.ErrEngineUnavailable) {
		t.Fatalf("Start() error = %v, want ErrEngineUnavailable", err)
	}
}

func TestRuntimeWaitReleasedByExit(t *testing.T) {
	ctx := context.Background()
	rt := NewRuntime()
	rt.Start(ctx, undocked.ContainerSpec{ServiceID: "a", HostPort: "1"})

	done := make(chan int64, 1)
	go func() {
		code, _ := rt.Wait(ctx, "a")
		done <- code
	}()
	rt.Exit("a", 137)

	select {
	case code := <-done:
		if code != 137 {
			t.Fatalf("exit code = %d, want 137", code)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait() did not return after Exit")
	}
}
