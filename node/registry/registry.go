// Package registry tracks the lifecycle of locally managed services and
// serializes start and stop requests against the container runtime.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"undocked"
	"undocked/internal/check"
	"undocked/pkg/sdk/telemetry"
)

const defaultOperationTimeout = 60 * time.Second

// Runtime launches and removes containers.
type Runtime interface {
	Start(ctx context.Context, spec undocked.ContainerSpec) (undocked.ContainerHandle, error)
	Stop(ctx context.Context, serviceID string) error
}

// Observer receives lifecycle notifications. Calls happen outside the
// registry lock and must not block for long.
type Observer interface {
	ServiceChanged(svc undocked.Service)
	ServiceRemoved(serviceID string)
	ServiceFailed(ev undocked.ServiceError)
}

// StartRequest asks for a service to be launched.
type StartRequest struct {
	ServiceID     string
	Image         string
	HostPort      string
	ContainerPort int
	Profile       string
	Env           map[string]string
	Command       []string
}

type Option func(*Registry)

func WithClock(clock undocked.Clock) Option {
	check.Assert(clock != nil, "WithClock: clock must not be nil")
	return func(r *Registry) { r.clock = clock }
}

func WithObserver(o Observer) Option {
	check.Assert(o != nil, "WithObserver: observer must not be nil")
	return func(r *Registry) { r.observer = o }
}

// WithOperationTimeout bounds each runtime call.
func WithOperationTimeout(d time.Duration) Option {
	check.Assert(d > 0, "WithOperationTimeout: timeout must be positive")
	return func(r *Registry) { r.timeout = d }
}

func WithTracer(t trace.Tracer) Option {
	return func(r *Registry) { r.tracer = t }
}

// Registry is the source of truth for local service records. A host port is
// held by at most one record from the moment a start is accepted until the
// record is removed.
type Registry struct {
	runtime  Runtime
	clock    undocked.Clock
	observer Observer
	timeout  time.Duration
	tracer   trace.Tracer
	log      *slog.Logger

	mu       sync.Mutex
	services map[string]*undocked.Service
	ports    map[int]string
}

func New(runtime Runtime, opts ...Option) *Registry {
	check.Assert(runtime != nil, "registry.New: runtime must not be nil")
	r := &Registry{
		runtime:  runtime,
		clock:    undocked.RealClock{},
		observer: nopObserver{},
		timeout:  defaultOperationTimeout,
		log:      slog.With("component", "registry"),
		services: make(map[string]*undocked.Service),
		ports:    make(map[int]string),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start reserves the id and host port, launches the container and returns
// the running record. On failure no record remains and the id may be retried.
func (r *Registry) Start(ctx context.Context, req StartRequest) (undocked.Service, error) {
	id := strings.TrimSpace(req.ServiceID)
	if id == "" {
		return undocked.Service{}, fmt.Errorf("start service: %w: service id is required", undocked.ErrInvalidArgument)
	}
	if strings.TrimSpace(req.Image) == "" {
		return undocked.Service{}, fmt.Errorf("start service %s: %w: image is required", id, undocked.ErrInvalidArgument)
	}
	port, err := undocked.ParsePort(req.HostPort)
	if err != nil {
		return undocked.Service{}, fmt.Errorf("start service %s: %w", id, err)
	}
	hostPort := fmt.Sprint(port)

	r.mu.Lock()
	if existing, ok := r.services[id]; ok {
		status := existing.Status
		r.mu.Unlock()
		if status.Busy() {
			return undocked.Service{}, fmt.Errorf("start service %s: %w: service is %s", id, undocked.ErrOperationInProgress, status)
		}
		return undocked.Service{}, fmt.Errorf("start service %s: %w", id, undocked.ErrAlreadyExists)
	}
	if owner, held := r.ports[port]; held {
		r.mu.Unlock()
		return undocked.Service{}, fmt.Errorf("start service %s: %w: port %s held by %s", id, undocked.ErrPortInUse, hostPort, owner)
	}
	rec := &undocked.Service{
		ServiceID:     id,
		DockerImage:   req.Image,
		HostPort:      hostPort,
		ContainerPort: req.ContainerPort,
		Profile:       req.Profile,
		Status:        undocked.StatusStarting,
	}
	r.services[id] = rec
	r.ports[port] = id
	starting := *rec
	r.mu.Unlock()

	r.observer.ServiceChanged(starting)

	op := telemetry.Begin(ctx, r.tracer, "service.start",
		attribute.String(telemetry.ServiceIDKey, id),
		attribute.String("undocked.image", req.Image),
		attribute.String("undocked.host_port", hostPort),
	)
	spec := undocked.ContainerSpec{
		ServiceID:     id,
		Image:         req.Image,
		HostPort:      hostPort,
		ContainerPort: req.ContainerPort,
		Profile:       req.Profile,
		Env:           req.Env,
		Command:       req.Command,
	}
	err = r.runBounded(op, "launch_container", func(ctx context.Context) error {
		_, err := r.runtime.Start(ctx, spec)
		return err
	})
	if err != nil {
		op.End(err, undocked.Kind(err))
		r.failStart(id, port, err)
		return undocked.Service{}, fmt.Errorf("start service %s: %w", id, err)
	}

	r.mu.Lock()
	check.Transition(rec.Status, undocked.StatusRunning)
	rec.Status = undocked.StatusRunning
	rec.StartedAt = r.clock.Now()
	running := *rec
	r.mu.Unlock()

	op.End(nil, "")
	r.log.Info("Service running.", "service", id, "image", req.Image, "host_port", hostPort)
	r.observer.ServiceChanged(running)
	return running, nil
}

func (r *Registry) failStart(id string, port int, cause error) {
	r.mu.Lock()
	delete(r.services, id)
	delete(r.ports, port)
	r.mu.Unlock()

	r.log.Warn("Service start failed.", "service", id, "err", cause)
	r.observer.ServiceFailed(undocked.ServiceError{
		ServiceID: id,
		Kind:      undocked.Kind(cause),
		Reason:    cause.Error(),
		At:        r.clock.Now(),
	})
	r.observer.ServiceRemoved(id)
}

// Stop removes the container and the record. A failed stop restores the
// previous status so the caller can retry.
func (r *Registry) Stop(ctx context.Context, id string) error {
	r.mu.Lock()
	rec, ok := r.services[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("stop service %s: %w", id, undocked.ErrNotFound)
	}
	if rec.Status.Busy() {
		status := rec.Status
		r.mu.Unlock()
		return fmt.Errorf("stop service %s: %w: service is %s", id, undocked.ErrOperationInProgress, status)
	}
	prior := rec.Status
	check.Transition(prior, undocked.StatusStopping)
	rec.Status = undocked.StatusStopping
	stopping := *rec
	r.mu.Unlock()

	r.observer.ServiceChanged(stopping)

	op := telemetry.Begin(ctx, r.tracer, "service.stop", attribute.String(telemetry.ServiceIDKey, id))
	err := r.runBounded(op, "remove_container", func(ctx context.Context) error {
		return r.runtime.Stop(ctx, id)
	})
	if err != nil {
		op.End(err, undocked.Kind(err))
		r.mu.Lock()
		check.Transition(rec.Status, prior)
		rec.Status = prior
		restored := *rec
		r.mu.Unlock()
		r.log.Warn("Service stop failed.", "service", id, "err", err)
		r.observer.ServiceChanged(restored)
		return fmt.Errorf("stop service %s: %w", id, err)
	}

	r.mu.Lock()
	if port, perr := undocked.ParsePort(rec.HostPort); perr == nil && r.ports[port] == id {
		delete(r.ports, port)
	}
	delete(r.services, id)
	r.mu.Unlock()

	op.End(nil, "")
	r.log.Info("Service stopped.", "service", id)
	r.observer.ServiceRemoved(id)
	return nil
}

// MarkFailed moves a running service to error. The record and its port stay
// reserved until Stop. It reports whether the transition happened.
func (r *Registry) MarkFailed(id string, cause error) bool {
	r.mu.Lock()
	rec, ok := r.services[id]
	if !ok || rec.Status != undocked.StatusRunning {
		r.mu.Unlock()
		return false
	}
	check.Transition(rec.Status, undocked.StatusError)
	rec.Status = undocked.StatusError
	rec.Error = cause.Error()
	failed := *rec
	r.mu.Unlock()

	r.log.Warn("Service failed.", "service", id, "err", cause)
	r.observer.ServiceChanged(failed)
	r.observer.ServiceFailed(undocked.ServiceError{
		ServiceID: id,
		Kind:      undocked.Kind(cause),
		Reason:    cause.Error(),
		At:        r.clock.Now(),
	})
	return true
}

// Adopt inserts running records for containers found at boot. Records whose
// id or port is already taken are skipped and returned.
func (r *Registry) Adopt(services []undocked.Service) (skipped []string) {
	var adopted []undocked.Service
	r.mu.Lock()
	for _, svc := range services {
		port, err := undocked.ParsePort(svc.HostPort)
		if svc.ServiceID == "" || err != nil {
			skipped = append(skipped, svc.ServiceID)
			continue
		}
		if _, ok := r.services[svc.ServiceID]; ok {
			skipped = append(skipped, svc.ServiceID)
			continue
		}
		if _, held := r.ports[port]; held {
			skipped = append(skipped, svc.ServiceID)
			continue
		}
		svc.Status = undocked.StatusRunning
		if svc.StartedAt.IsZero() {
			svc.StartedAt = r.clock.Now()
		}
		rec := svc
		r.services[svc.ServiceID] = &rec
		r.ports[port] = svc.ServiceID
		adopted = append(adopted, rec)
	}
	r.mu.Unlock()

	for _, svc := range adopted {
		r.log.Info("Adopted running service.", "service", svc.ServiceID, "host_port", svc.HostPort)
		r.observer.ServiceChanged(svc)
	}
	return skipped
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id string) (undocked.Service, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.services[id]
	if !ok {
		return undocked.Service{}, false
	}
	return *rec, true
}

// List returns copies of every record sorted by service id.
func (r *Registry) List() []undocked.Service {
	r.mu.Lock()
	out := make([]undocked.Service, 0, len(r.services))
	for _, rec := range r.services {
		out = append(out, *rec)
	}
	r.mu.Unlock()

	slices.SortFunc(out, func(a, b undocked.Service) int {
		return strings.Compare(a.ServiceID, b.ServiceID)
	})
	return out
}

func (r *Registry) runBounded(op *telemetry.Operation, step string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(op.Context(), r.timeout)
	defer cancel()
	err := op.RunStep(ctx, step, fn)
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, undocked.ErrTimeout) {
		return fmt.Errorf("%w after %s: %v", undocked.ErrTimeout, r.timeout, err)
	}
	return err
}

type nopObserver struct{}

func (nopObserver) ServiceChanged(undocked.Service)    {}
func (nopObserver) ServiceRemoved(string)              {}
func (nopObserver) ServiceFailed(undocked.ServiceError) {}
