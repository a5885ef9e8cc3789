package docker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"

	"undocked"
	"undocked/platform"
)

const (
	probeTimeout        = time.Second
	runningPollInterval = 250 * time.Millisecond
	cleanupTimeout      = 10 * time.Second
)

var validName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// Runtime manages service containers through the Docker Engine API.
type Runtime struct {
	cli client.APIClient
	log *slog.Logger
}

// NewRuntime creates a Runtime with a Docker client from the environment.
func NewRuntime() (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return NewRuntimeFromClient(cli), nil
}

// NewRuntimeFromClient wraps an existing Docker API client.
func NewRuntimeFromClient(cli client.APIClient) *Runtime {
	return &Runtime{cli: cli, log: slog.With("component", "docker")}
}

// IsAvailable pings the engine with a short timeout.
func (r *Runtime) IsAvailable(ctx context.Context) bool {
	if os.Getenv(client.EnvOverrideHost) == "" && !platform.EngineSocketAccessible() {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	_, err := r.cli.Ping(ctx)
	return err == nil
}

// Start launches a labelled container for spec and waits until the engine
// reports it running. A stopped leftover container with the same name is
// replaced.
func (r *Runtime) Start(ctx context.Context, spec undocked.ContainerSpec) (undocked.ContainerHandle, error) {
	name := spec.ServiceID
	if !validName.MatchString(name) {
		return undocked.ContainerHandle{}, fmt.Errorf("start container: %w: %q is not a valid container name", undocked.ErrInvalidArgument, name)
	}

	info, err := r.cli.ContainerInspect(ctx, name)
	switch {
	case err == nil:
		if info.State != nil && info.State.Running {
			return undocked.ContainerHandle{}, fmt.Errorf("start container %s: %w: container is already running", name, undocked.ErrAlreadyExists)
		}
		r.log.Info("Removing leftover container.", "container", name)
		if err := stopAndRemove(ctx, r.cli, name); err != nil {
			return undocked.ContainerHandle{}, err
		}
	case !errdefs.IsNotFound(err):
		return undocked.ContainerHandle{}, classify("inspect container "+name, err, undocked.ErrContainerStartFailed)
	}

	cc, hc := containerConfig(spec)
	if err := createAndStart(ctx, r.cli, name, cc, hc); err != nil {
		r.cleanup(name)
		return undocked.ContainerHandle{}, err
	}

	id, err := r.waitRunning(ctx, name)
	if err != nil {
		r.cleanup(name)
		return undocked.ContainerHandle{}, err
	}
	r.log.Info("Container running.", "container", name, "image", spec.Image, "host_port", spec.HostPort)
	return undocked.ContainerHandle{ID: id, Name: name}, nil
}

func (r *Runtime) waitRunning(ctx context.Context, name string) (string, error) {
	ticker := time.NewTicker(runningPollInterval)
	defer ticker.Stop()
	for {
		info, err := r.cli.ContainerInspect(ctx, name)
		if err != nil {
			return "", classify("inspect container "+name, err, undocked.ErrContainerStartFailed)
		}
		if info.State != nil {
			if info.State.Running {
				return info.ID, nil
			}
			if info.State.Status == "exited" || info.State.Status == "dead" {
				return "", fmt.Errorf("start container %s: %w: exited with code %d", name, undocked.ErrContainerStartFailed, info.State.ExitCode)
			}
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("wait for container %s: %w", name, undocked.ErrTimeout)
		case <-ticker.C:
		}
	}
}

func (r *Runtime) cleanup(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := stopAndRemove(ctx, r.cli, name); err != nil {
		r.log.Warn("Remove failed container.", "container", name, "err", err)
	}
}

// Stop stops and removes the service container. A missing container is not
// an error.
func (r *Runtime) Stop(ctx context.Context, serviceID string) error {
	return stopAndRemove(ctx, r.cli, serviceID)
}

// Wait blocks until the container stops running and returns its exit code.
func (r *Runtime) Wait(ctx context.Context, serviceID string) (int64, error) {
	resultC, errC := r.cli.ContainerWait(ctx, serviceID, container.WaitConditionNotRunning)
	select {
	case res := <-resultC:
		if res.Error != nil && res.Error.Message != "" {
			return res.StatusCode, fmt.Errorf("wait container %s: %s", serviceID, res.Error.Message)
		}
		return res.StatusCode, nil
	case err := <-errC:
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, classify("wait container "+serviceID, err, undocked.ErrNotFound)
	}
}

// List returns the running containers this node launched.
func (r *Runtime) List(ctx context.Context) ([]undocked.Service, error) {
	args := filters.NewArgs(filters.Arg("label", undocked.LabelManaged+"=true"))
	containers, err := r.cli.ContainerList(ctx, container.ListOptions{Filters: args})
	if err != nil {
		return nil, classify("list containers", err, undocked.ErrContainerStartFailed)
	}

	out := make([]undocked.Service, 0, len(containers))
	for _, c := range containers {
		if c.State != "running" {
			continue
		}
		id := c.Labels[undocked.LabelServiceID]
		if id == "" && len(c.Names) > 0 {
			id = strings.TrimPrefix(c.Names[0], "/")
		}
		hostPort, containerPort := hostPortFromSummary(c)
		out = append(out, undocked.Service{
			ServiceID:     id,
			DockerImage:   c.Image,
			HostPort:      hostPort,
			ContainerPort: containerPort,
			Profile:       c.Labels[undocked.LabelProfile],
			Status:        undocked.StatusRunning,
			StartedAt:     time.Unix(c.Created, 0).UTC(),
		})
	}
	slices.SortFunc(out, func(a, b undocked.Service) int { return strings.Compare(a.ServiceID, b.ServiceID) })
	return out, nil
}

func (r *Runtime) Close() error {
	return r.cli.Close()
}
