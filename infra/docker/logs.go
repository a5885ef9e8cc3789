package docker

import (
	"bufio"
	"context"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"

	"undocked"
)

const logTail = "200"

// StreamLogs follows the container's stdout and stderr, one line per value.
// The channel closes when ctx ends or the container exits.
func (r *Runtime) StreamLogs(ctx context.Context, serviceID string) (<-chan string, error) {
	rc, err := r.cli.ContainerLogs(ctx, serviceID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Tail:       logTail,
	})
	if err != nil {
		return nil, classify("container logs "+serviceID, err, undocked.ErrNotFound)
	}

	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, rc)
		_ = pw.CloseWithError(err)
	}()
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = rc.Close()
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		defer close(done)
		defer pr.Close()
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines, nil
}
