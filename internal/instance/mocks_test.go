package instance

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/d-hoffmann/labrange/internal/catalog"
	"github.com/d-hoffmann/labrange/internal/docker"
)

type MockRuntimeAdapter struct {
	mock.Mock
}

func (m *MockRuntimeAdapter) CreateContainer(ctx context.Context, opts docker.CreateOpts) (string, error) {
	args := m.Called(ctx, opts)
	return args.String(0), args.Error(1)
}

func (m *MockRuntimeAdapter) StopContainer(ctx context.Context, containerID string) error {
	args := m.Called(ctx, containerID)
	return args.Error(0)
}

func (m *MockRuntimeAdapter) RemoveContainer(ctx context.Context, containerID string) error {
	args := m.Called(ctx, containerID)
	return args.Error(0)
}

func (m *MockRuntimeAdapter) ExecShell(ctx context.Context, containerID string, cmd []string) (*docker.ExecSession, error) {
	args := m.Called(ctx, containerID, cmd)
	if sess := args.Get(0); sess != nil {
		return sess.(*docker.ExecSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRuntimeAdapter) IsContainerRunning(ctx context.Context, containerID string) (bool, error) {
	args := m.Called(ctx, containerID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRuntimeAdapter) Logs(ctx context.Context, containerID string, tail int) (string, error) {
	args := m.Called(ctx, containerID, tail)
	return args.String(0), args.Error(1)
}

type MockStackManager struct {
	mock.Mock
}

func (m *MockStackManager) StartStack(ctx context.Context, labID, composeFile string) error {
	args := m.Called(ctx, labID, composeFile)
	return args.Error(0)
}

func (m *MockStackManager) StopStack(ctx context.Context, labID, composeFile string) error {
	args := m.Called(ctx, labID, composeFile)
	return args.Error(0)
}

// fakeCatalog is a trivial in-memory LabCatalog.
type fakeCatalog struct {
	labs map[string]*catalog.Lab
}

func newFakeCatalog(labs ...*catalog.Lab) *fakeCatalog {
	c := &fakeCatalog{labs: make(map[string]*catalog.Lab)}
	for _, lab := range labs {
		c.labs[lab.ID] = lab
	}
	return c
}

func (c *fakeCatalog) Get(labID string) (*catalog.Lab, error) {
	lab, ok := c.labs[labID]
	if !ok {
		return nil, catalog.ErrUnknownLab
	}
	return lab, nil
}

func (c *fakeCatalog) List() []*catalog.Lab {
	result := make([]*catalog.Lab, 0, len(c.labs))
	for _, lab := range c.labs {
		result = append(result, lab)
	}
	return result
}
