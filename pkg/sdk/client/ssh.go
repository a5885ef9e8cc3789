package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

const remoteDaemonPath = "/usr/local/bin/undockd"

type SSHOptions struct {
	Port       int
	KeyPath    string
	SocketPath string
}

// NewSSH reaches the daemon on target ("user@host") by running
// "undockd dial-stdio" over ssh and speaking gRPC through its stdio.
func NewSSH(target string, opts SSHOptions) (*Client, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("ssh target is required")
	}
	if opts.SocketPath == "" {
		opts.SocketPath = DefaultSocketPath()
	}
	return NewWithDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return dialSSH(ctx, sshArgs(target, opts))
	})
}

func sshArgs(target string, opts SSHOptions) []string {
	args := []string{"-T", "-o", "BatchMode=yes", "-o", "StrictHostKeyChecking=accept-new"}
	if opts.Port > 0 {
		args = append(args, "-p", strconv.Itoa(opts.Port))
	}
	if key := strings.TrimSpace(opts.KeyPath); key != "" {
		args = append(args, "-i", key)
	}
	args = append(args, target)

	remote := []string{remoteDaemonPath, "dial-stdio", "--socket", opts.SocketPath}
	if user, _, ok := strings.Cut(target, "@"); ok && user != "" && user != "root" {
		remote = append([]string{"sudo", "-n"}, remote...)
	}
	return append(args, remote...)
}

func dialSSH(ctx context.Context, args []string) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Not CommandContext: the process must outlive the dial context.
	cmd := exec.Command("ssh", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open ssh stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("open ssh stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("start ssh: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("start ssh: %w", err)
	}
	return &pipeConn{cmd: cmd, r: stdout, w: stdin}, nil
}

// pipeConn presents a child process's stdio as a net.Conn. Deadlines are
// not supported; gRPC does not need them on this transport.
type pipeConn struct {
	cmd *exec.Cmd
	r   io.ReadCloser
	w   io.WriteCloser

	closeOnce sync.Once
}

func (c *pipeConn) Read(p []byte) (int, error) { return c.r.Read(p) }
func (c *pipeConn) Write(p []byte) (int, error) { return c.w.Write(p) }

func (c *pipeConn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.w.Close()
		_ = c.r.Close()
		if c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
		}
		_ = c.cmd.Wait()
	})
	return nil
}

func (c *pipeConn) LocalAddr() net.Addr { return pipeAddr("ssh-local") }
func (c *pipeConn) RemoteAddr() net.Addr { return pipeAddr("ssh-remote") }
func (c *pipeConn) SetDeadline(time.Time) error { return nil }
func (c *pipeConn) SetReadDeadline(time.Time) error { return nil }
func (c *pipeConn) SetWriteDeadline(time.Time) error { return nil }

type pipeAddr string

func (a pipeAddr) Network() string { return "ssh" }
func (a pipeAddr) String() string { return string(a) }
