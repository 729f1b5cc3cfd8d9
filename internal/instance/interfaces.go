package instance

import (
	"context"

	"github.com/d-hoffmann/labrange/internal/catalog"
	"github.com/d-hoffmann/labrange/internal/docker"
)

// RuntimeAdapter abstracts the container engine operations the manager uses.
type RuntimeAdapter interface {
	CreateContainer(ctx context.Context, opts docker.CreateOpts) (string, error)
	StopContainer(ctx context.Context, containerID string) error
	RemoveContainer(ctx context.Context, containerID string) error
	ExecShell(ctx context.Context, containerID string, cmd []string) (*docker.ExecSession, error)
	IsContainerRunning(ctx context.Context, containerID string) (bool, error)
	Logs(ctx context.Context, containerID string, tail int) (string, error)
}

// StackManager abstracts compose stack lifecycle.
type StackManager interface {
	StartStack(ctx context.Context, labID, composeFile string) error
	StopStack(ctx context.Context, labID, composeFile string) error
}

// LabCatalog is the read-only lab definition lookup owned by the curriculum
// system.
type LabCatalog interface {
	Get(labID string) (*catalog.Lab, error)
	List() []*catalog.Lab
}
