package api

import (
	"context"

	"github.com/d-hoffmann/labrange/internal/catalog"
	"github.com/d-hoffmann/labrange/internal/docker"
	"github.com/d-hoffmann/labrange/internal/store"
)

// InstanceService defines what the HTTP layer needs from the instance
// manager. Declared here so handlers can be tested against a mock.
type InstanceService interface {
	StartInstance(ctx context.Context, ownerID, labID string) (*store.Instance, error)
	StopInstance(ctx context.Context, instanceID, requesterID string) error
	Get(ctx context.Context, instanceID, requesterID string) (*store.Instance, error)
	List(ctx context.Context, ownerID string) ([]*store.Instance, error)
	Labs(ctx context.Context) []*catalog.Lab
	Logs(ctx context.Context, instanceID, requesterID string, tail int) (string, error)
	OpenShell(ctx context.Context, instanceID, requesterID string) (*docker.ExecSession, error)
}
