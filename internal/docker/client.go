package docker

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-units"

	"github.com/d-hoffmann/labrange/internal/config"
)

const labelPrefix = "labrange."

type Client struct {
	docker *client.Client
}

// New connects to the engine and verifies it is reachable. Runtime
// availability is part of construction: a dead engine surfaces here as
// ErrRuntimeUnavailable instead of being re-checked at every call site.
func New(ctx context.Context) (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	return &Client{docker: cli}, nil
}

func (c *Client) Close() error {
	return c.docker.Close()
}

// Ping verifies the engine is still reachable.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.docker.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	return nil
}

type CreateOpts struct {
	InstanceID string
	OwnerID    string
	LabID      string
	Image      string
	Command    []string
	Limits     config.Limits // mandatory: every lab container is bounded
	Network    string        // isolation network, empty means engine default
}

// CreateContainer creates and starts a lab container with a TTY, attached
// stdin, and hard resource limits. A missing image is pulled exactly once;
// a second not-found after the pull is returned as ErrImageNotFound.
func (c *Client) CreateContainer(ctx context.Context, opts CreateOpts) (string, error) {
	labels := map[string]string{
		labelPrefix + "instance_id": opts.InstanceID,
		labelPrefix + "owner_id":    opts.OwnerID,
		labelPrefix + "lab_id":      opts.LabID,
		labelPrefix + "managed":     "true",
	}

	resources := container.Resources{
		NanoCPUs:  int64(opts.Limits.CPULimit * 1e9),
		Memory:    int64(opts.Limits.MemLimitMB) * units.MiB,
		PidsLimit: int64Ptr(int64(opts.Limits.PidsLimit)),
	}

	hostCfg := &container.HostConfig{
		Resources:   resources,
		AutoRemove:  false,
		SecurityOpt: []string{"no-new-privileges"},
	}
	if opts.Network != "" {
		hostCfg.NetworkMode = container.NetworkMode(opts.Network)
	}

	containerCfg := &container.Config{
		Image:     opts.Image,
		Cmd:       opts.Command,
		Labels:    labels,
		Tty:       true,
		OpenStdin: true,
	}

	name := "labrange-" + opts.InstanceID

	resp, err := c.docker.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	if client.IsErrNotFound(err) {
		if pullErr := c.pullImage(ctx, opts.Image); pullErr != nil {
			return "", pullErr
		}
		resp, err = c.docker.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	}
	if err != nil {
		return "", classifyCreateError(err)
	}

	if err := c.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Clean up on start failure.
		c.docker.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("container start: %w", err)
	}

	return resp.ID, nil
}

func (c *Client) pullImage(ctx context.Context, ref string) error {
	rc, err := c.docker.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrImageNotFound, ref, err)
	}
	defer rc.Close()
	// The pull completes only once the progress stream is drained.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("image pull %s: %w", ref, err)
	}
	return nil
}

// StopContainer stops a container. Already gone is success: the desired end
// state (no such container) is already achieved.
func (c *Client) StopContainer(ctx context.Context, containerID string) error {
	err := c.docker.ContainerStop(ctx, containerID, container.StopOptions{})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("container stop: %w", err)
	}
	return nil
}

// RemoveContainer force-removes a container. Already gone is success.
func (c *Client) RemoveContainer(ctx context.Context, containerID string) error {
	err := c.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("container remove: %w", err)
	}
	return nil
}

// IsContainerRunning checks if a container is currently running. A missing
// container reports false, not an error.
func (c *Client) IsContainerRunning(ctx context.Context, containerID string) (bool, error) {
	info, err := c.docker.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return info.State.Running, nil
}

// Logs returns the last tail lines of a container's output. Lab containers
// run with a TTY, so the log stream is raw rather than multiplexed.
func (c *Client) Logs(ctx context.Context, containerID string, tail int) (string, error) {
	rc, err := c.docker.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       fmt.Sprintf("%d", tail),
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("container logs: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("reading logs: %w", err)
	}
	return string(data), nil
}

// classifyCreateError maps engine create failures onto adapter sentinels.
func classifyCreateError(err error) error {
	if client.IsErrNotFound(err) {
		return fmt.Errorf("%w: %v", ErrImageNotFound, err)
	}
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "no space left") ||
		strings.Contains(s, "cannot allocate memory") ||
		strings.Contains(s, "insufficient") {
		return fmt.Errorf("%w: %v", ErrResourceExhausted, err)
	}
	return fmt.Errorf("container create: %w", err)
}

func int64Ptr(v int64) *int64 {
	return &v
}
