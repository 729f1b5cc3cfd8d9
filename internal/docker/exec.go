package docker

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// ExecSession is an interactive shell opened inside a running container.
// Reads and writes go over the engine's hijacked attach connection, which is
// a blocking duplex byte stream; callers must pump it on dedicated
// goroutines (see the bridge package).
type ExecSession struct {
	hijack interface {
		Close()
		CloseWrite() error
	}
	reader io.Reader
	writer io.Writer
}

func (s *ExecSession) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

func (s *ExecSession) Write(p []byte) (int, error) {
	return s.writer.Write(p)
}

// CloseWrite half-closes the input side, letting the shell see EOF.
func (s *ExecSession) CloseWrite() error {
	return s.hijack.CloseWrite()
}

// Close tears down the attach connection. Any blocked Read unblocks with an
// error, which is how the bridge's downstream pump is cancelled.
func (s *ExecSession) Close() error {
	s.hijack.Close()
	return nil
}

// ExecShell opens an interactive, TTY-attached shell inside a running
// container. In TTY mode the engine delivers a raw byte stream with no
// stdout/stderr framing, so the reader is passed through undecoded.
func (c *Client) ExecShell(ctx context.Context, containerID string, cmd []string) (*ExecSession, error) {
	if len(cmd) == 0 {
		cmd = []string{"/bin/sh"}
	}

	running, err := c.IsContainerRunning(ctx, containerID)
	if err != nil {
		return nil, fmt.Errorf("inspect container: %w", err)
	}
	if !running {
		return nil, fmt.Errorf("%w: %s", ErrNotRunning, containerID)
	}

	execResp, err := c.docker.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		Tty:          true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotRunning, containerID)
		}
		return nil, fmt.Errorf("exec create: %w", err)
	}

	attach, err := c.docker.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{
		Tty: true,
	})
	if err != nil {
		return nil, fmt.Errorf("exec attach: %w", err)
	}

	return &ExecSession{
		hijack: &attach,
		reader: attach.Reader,
		writer: attach.Conn,
	}, nil
}
