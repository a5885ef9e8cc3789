package node

import (
	"context"
	"fmt"
	"strings"

	"undocked"
	"undocked/node/registry"
)

// LaunchRequest starts a raw image, or a catalog profile when Profile is set.
type LaunchRequest struct {
	ServiceID string
	Image     string
	HostPort  string
	Profile   string
}

// lifetime spans a service record from its first appearance to its removal.
// Cancelling it ends supervision and every log stream of the service.
type lifetime struct {
	ctx         context.Context
	cancel      context.CancelFunc
	supervising bool
}

// Launch starts a service and returns its running record. A failed launch
// leaves no record behind.
func (n *Node) Launch(ctx context.Context, req LaunchRequest) (undocked.Service, error) {
	start := registry.StartRequest{
		ServiceID: req.ServiceID,
		Image:     req.Image,
		HostPort:  req.HostPort,
	}
	if name := strings.TrimSpace(req.Profile); name != "" {
		p, ok := n.catalog.Get(name)
		if !ok {
			return undocked.Service{}, fmt.Errorf("start service %s: %w: profile %q is not in the catalog",
				req.ServiceID, undocked.ErrNotFound, name)
		}
		start.Image = p.Image
		start.ContainerPort = p.ContainerPort
		start.Profile = p.Name
		start.Env = p.Env
		start.Command = p.Command
	}
	return n.registry.Start(ctx, start)
}

// StartService launches image as id on hostPort and returns a message for
// the user.
func (n *Node) StartService(ctx context.Context, id, image, hostPort string) (string, error) {
	svc, err := n.Launch(ctx, LaunchRequest{ServiceID: id, Image: image, HostPort: hostPort})
	if err != nil {
		return "", err
	}
	return StartedMessage(svc), nil
}

// StartFromProfile launches the catalog profile named profile as id.
func (n *Node) StartFromProfile(ctx context.Context, profile, id, hostPort string) (string, error) {
	svc, err := n.Launch(ctx, LaunchRequest{ServiceID: id, HostPort: hostPort, Profile: profile})
	if err != nil {
		return "", err
	}
	return StartedMessage(svc), nil
}

// StopService stops and removes id. Stopping a service in the error state
// acknowledges the failure.
func (n *Node) StopService(ctx context.Context, id string) (string, error) {
	if err := n.registry.Stop(ctx, id); err != nil {
		return "", err
	}
	return fmt.Sprintf("Service %q stopped.", id), nil
}

// StartedMessage is the user-facing confirmation for a started service.
func StartedMessage(svc undocked.Service) string {
	if svc.Profile != "" {
		return fmt.Sprintf("Service %q (%s) is now running on port %s.", svc.ServiceID, svc.Profile, svc.HostPort)
	}
	return fmt.Sprintf("Service %q is now running on port %s.", svc.ServiceID, svc.HostPort)
}

// StreamLogs follows the logs of a local service. The channel closes when
// ctx ends, the container exits, or the service is removed.
func (n *Node) StreamLogs(ctx context.Context, id string) (<-chan string, error) {
	n.mu.Lock()
	lt, ok := n.lifetimes[id]
	n.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("stream logs %s: %w", id, undocked.ErrNotFound)
	}

	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(lt.ctx, cancel)
	lines, err := n.runtime.StreamLogs(ctx, id)
	if err != nil {
		stop()
		cancel()
		return nil, fmt.Errorf("stream logs %s: %w", id, err)
	}

	out := make(chan string)
	n.workers.Add(1)
	go func() {
		defer n.workers.Done()
		defer close(out)
		defer cancel()
		defer stop()
		for line := range lines {
			select {
			case out <- line:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// ServiceChanged implements registry.Observer. Notifications can arrive
// after a concurrent Stop has already removed the record, so the registry
// is re-read under n.mu and stale deliveries only refresh the snapshot.
func (n *Node) ServiceChanged(svc undocked.Service) {
	n.mu.Lock()
	if current, ok := n.registry.Get(svc.ServiceID); ok {
		lt := n.lifetimeLocked(svc.ServiceID)
		if svc.Status == undocked.StatusRunning && current.Status == undocked.StatusRunning {
			n.stats.Track(svc.ServiceID)
			n.superviseLocked(svc.ServiceID, lt)
		}
	}
	n.mu.Unlock()
	n.publisher.Notify()
}

// ServiceRemoved implements registry.Observer.
func (n *Node) ServiceRemoved(id string) {
	n.mu.Lock()
	lt, ok := n.lifetimes[id]
	delete(n.lifetimes, id)
	n.stats.Forget(id)
	n.mu.Unlock()
	if ok {
		lt.cancel()
	}
	n.meter.Forget(id)
	n.publisher.Notify()
}

// ServiceFailed implements registry.Observer.
func (n *Node) ServiceFailed(ev undocked.ServiceError) {
	n.errorTopic.Publish(ev)
	n.publisher.Notify()
}

func (n *Node) lifetimeLocked(id string) *lifetime {
	if lt, ok := n.lifetimes[id]; ok {
		return lt
	}
	ctx, cancel := context.WithCancel(n.baseCtx)
	lt := &lifetime{ctx: ctx, cancel: cancel}
	n.lifetimes[id] = lt
	return lt
}

// superviseLocked waits for the container of id to stop and marks the
// service failed if it was still supposed to be running. n.mu must be held.
func (n *Node) superviseLocked(id string, lt *lifetime) {
	if lt.supervising {
		return
	}
	lt.supervising = true
	n.workers.Add(1)

	go func() {
		defer n.workers.Done()
		code, err := n.runtime.Wait(lt.ctx, id)

		n.mu.Lock()
		lt.supervising = false
		n.mu.Unlock()
		if lt.ctx.Err() != nil {
			return
		}

		cause := fmt.Errorf("%w with code %d", undocked.ErrContainerExited, code)
		if err != nil {
			cause = fmt.Errorf("%w: %v", undocked.ErrContainerExited, err)
		}
		if n.registry.MarkFailed(id, cause) {
			n.log.Warn("Service container exited.", "service", id, "err", cause)
		}
	}()
}
