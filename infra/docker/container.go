// Package docker runs node services as Docker containers.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"undocked"
)

// containerConfig builds the create request for spec. The container is named
// after the service id and publishes hostPort -> targetPort/tcp.
func containerConfig(spec undocked.ContainerSpec) (*container.Config, *container.HostConfig) {
	port := nat.Port(fmt.Sprintf("%d/tcp", spec.TargetPort()))

	labels := map[string]string{
		undocked.LabelManaged:   "true",
		undocked.LabelServiceID: spec.ServiceID,
	}
	if spec.Profile != "" {
		labels[undocked.LabelProfile] = spec.Profile
	}

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	slices.Sort(env)

	cc := &container.Config{
		Image:        spec.Image,
		Env:          env,
		Labels:       labels,
		ExposedPorts: nat.PortSet{port: struct{}{}},
	}
	if len(spec.Command) > 0 {
		cc.Cmd = slices.Clone(spec.Command)
	}
	hc := &container.HostConfig{
		PortBindings: nat.PortMap{port: []nat.PortBinding{{HostPort: spec.HostPort}}},
		RestartPolicy: container.RestartPolicy{
			Name: container.RestartPolicyDisabled,
		},
	}
	return cc, hc
}

// createAndStart creates the container and starts it. When the image is not
// present locally it is pulled and the create retried.
func createAndStart(ctx context.Context, docker client.APIClient, name string, cc *container.Config, hc *container.HostConfig) error {
	_, err := docker.ContainerCreate(ctx, cc, hc, nil, (*ocispec.Platform)(nil), name)
	if err != nil {
		if !errdefs.IsNotFound(err) {
			return classify("create container", err, undocked.ErrContainerStartFailed)
		}
		if err := pullImage(ctx, docker, cc.Image); err != nil {
			return err
		}
		if _, err = docker.ContainerCreate(ctx, cc, hc, nil, nil, name); err != nil {
			return classify("create container after pull", err, undocked.ErrContainerStartFailed)
		}
	}

	if err := docker.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return classify("start container", err, undocked.ErrContainerStartFailed)
	}
	return nil
}

// pullImage pulls img and drains the progress stream.
func pullImage(ctx context.Context, docker client.APIClient, img string) error {
	slog.Info("Pulling image.", "image", img)
	resp, err := docker.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return classify("pull image "+img, err, undocked.ErrImagePullFailed)
	}
	defer resp.Close()
	if _, err := io.Copy(io.Discard, resp); err != nil {
		return classify("pull image "+img+": read response", err, undocked.ErrImagePullFailed)
	}
	return nil
}

// stopAndRemove stops and force-removes a container. NotFound is success.
func stopAndRemove(ctx context.Context, docker client.APIClient, name string) error {
	if err := docker.ContainerStop(ctx, name, container.StopOptions{}); err != nil {
		if !errdefs.IsNotFound(err) {
			return classify("stop container "+name, err, undocked.ErrContainerStopFailed)
		}
	}
	if err := docker.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil {
		if !errdefs.IsNotFound(err) {
			return classify("remove container "+name, err, undocked.ErrContainerStopFailed)
		}
	}
	return nil
}

func hostPortFromSummary(c container.Summary) (host string, containerPort int) {
	for _, p := range c.Ports {
		if p.PublicPort != 0 {
			return strconv.Itoa(int(p.PublicPort)), int(p.PrivatePort)
		}
	}
	return "", 0
}
