package fake

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"undocked"
)

type container struct {
	spec    undocked.ContainerSpec
	running bool
	exit    chan struct{}
	code    int64
	logs    []string
}

// Runtime is an in-memory container runtime. Hooks run before the fake's own
// bookkeeping and abort the call when they return an error.
type Runtime struct {
	CallRecorder

	mu         sync.Mutex
	available  bool
	containers map[string]*container
	startedAt  time.Time

	StartErr func(ctx context.Context, spec undocked.ContainerSpec) error
	StopErr  func(ctx context.Context, id string) error
	ListErr  func(ctx context.Context) error
}

// NewRuntime returns an available runtime with no containers.
func NewRuntime() *Runtime {
	return &Runtime{
		available:  true,
		containers: make(map[string]*container),
		startedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (r *Runtime) SetAvailable(ok bool) {
	r.mu.Lock()
	r.available = ok
	r.mu.Unlock()
}

func (r *Runtime) IsAvailable(ctx context.Context) bool {
	r.record("IsAvailable")
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.available
}

func (r *Runtime) Start(ctx context.Context, spec undocked.ContainerSpec) (undocked.ContainerHandle, error) {
	r.record("Start", spec.ServiceID, spec.Image, spec.HostPort)
	if r.StartErr != nil {
		if err := r.StartErr(ctx, spec); err != nil {
			return undocked.ContainerHandle{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return undocked.ContainerHandle{}, fmt.Errorf("start container: %w", undocked.ErrTimeout)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.available {
		return undocked.ContainerHandle{}, fmt.Errorf("start container: %w", undocked.ErrEngineUnavailable)
	}
	if c, ok := r.containers[spec.ServiceID]; ok && c.running {
		return undocked.ContainerHandle{}, fmt.Errorf("start container %s: %w", spec.ServiceID, undocked.ErrAlreadyExists)
	}
	for id, c := range r.containers {
		if c.running && id != spec.ServiceID && c.spec.HostPort == spec.HostPort {
			return undocked.ContainerHandle{}, fmt.Errorf("start container %s: %w", spec.ServiceID, undocked.ErrPortInUse)
		}
	}
	r.containers[spec.ServiceID] = &container{spec: spec, running: true, exit: make(chan struct{})}
	return undocked.ContainerHandle{ID: "fake-" + spec.ServiceID, Name: spec.ServiceID}, nil
}

func (r *Runtime) Stop(ctx context.Context, id string) error {
	r.record("Stop", id)
	if r.StopErr != nil {
		if err := r.StopErr(ctx, id); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.available {
		return fmt.Errorf("stop container: %w", undocked.ErrEngineUnavailable)
	}
	c, ok := r.containers[id]
	if !ok {
		return nil
	}
	if c.running {
		c.running = false
		close(c.exit)
	}
	delete(r.containers, id)
	return nil
}

// Exit marks a running container as exited with code, releasing any Wait.
func (r *Runtime) Exit(id string, code int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.containers[id]
	if !ok || !c.running {
		return
	}
	c.running = false
	c.code = code
	close(c.exit)
}

func (r *Runtime) Wait(ctx context.Context, id string) (int64, error) {
	r.record("Wait", id)
	r.mu.Lock()
	c, ok := r.containers[id]
	r.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("wait container %s: %w", id, undocked.ErrNotFound)
	}
	select {
	case <-c.exit:
		r.mu.Lock()
		defer r.mu.Unlock()
		return c.code, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// AddLogs appends log lines replayed by StreamLogs.
func (r *Runtime) AddLogs(id string, lines ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.containers[id]; ok {
		c.logs = append(c.logs, lines...)
	}
}

// StreamLogs replays the recorded lines, then holds the channel open until
// ctx ends or the container exits.
func (r *Runtime) StreamLogs(ctx context.Context, id string) (<-chan string, error) {
	r.record("StreamLogs", id)
	r.mu.Lock()
	c, ok := r.containers[id]
	var lines []string
	if ok {
		lines = slices.Clone(c.logs)
	}
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("stream logs %s: %w", id, undocked.ErrNotFound)
	}

	out := make(chan string)
	go func() {
		defer close(out)
		for _, line := range lines {
			select {
			case out <- line:
			case <-ctx.Done():
				return
			}
		}
		select {
		case <-ctx.Done():
		case <-c.exit:
		}
	}()
	return out, nil
}

func (r *Runtime) List(ctx context.Context) ([]undocked.Service, error) {
	r.record("List")
	if r.ListErr != nil {
		if err := r.ListErr(ctx); err != nil {
			return nil, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []undocked.Service
	for _, c := range r.containers {
		if !c.running {
			continue
		}
		out = append(out, undocked.Service{
			ServiceID:     c.spec.ServiceID,
			DockerImage:   c.spec.Image,
			HostPort:      c.spec.HostPort,
			ContainerPort: c.spec.ContainerPort,
			Profile:       c.spec.Profile,
			Status:        undocked.StatusRunning,
			StartedAt:     r.startedAt,
		})
	}
	slices.SortFunc(out, func(a, b undocked.Service) int { return strings.Compare(a.ServiceID, b.ServiceID) })
	return out, nil
}

// Running reports whether a container for id is running.
func (r *Runtime) Running(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.containers[id]
	return ok && c.running
}

// Seed inserts a running container without recording a call, as if it had
// been started by a previous daemon process.
func (r *Runtime) Seed(spec undocked.ContainerSpec) {
	r.mu.Lock()
	r.containers[spec.ServiceID] = &container{spec: spec, running: true, exit: make(chan struct{})}
	r.mu.Unlock()
}
