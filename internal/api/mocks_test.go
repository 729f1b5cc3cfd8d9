package api

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/d-hoffmann/labrange/internal/catalog"
	"github.com/d-hoffmann/labrange/internal/docker"
	"github.com/d-hoffmann/labrange/internal/store"
)

type MockInstanceService struct {
	mock.Mock
}

func (m *MockInstanceService) StartInstance(ctx context.Context, ownerID, labID string) (*store.Instance, error) {
	args := m.Called(ctx, ownerID, labID)
	if inst := args.Get(0); inst != nil {
		return inst.(*store.Instance), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockInstanceService) StopInstance(ctx context.Context, instanceID, requesterID string) error {
	args := m.Called(ctx, instanceID, requesterID)
	return args.Error(0)
}

func (m *MockInstanceService) Get(ctx context.Context, instanceID, requesterID string) (*store.Instance, error) {
	args := m.Called(ctx, instanceID, requesterID)
	if inst := args.Get(0); inst != nil {
		return inst.(*store.Instance), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockInstanceService) List(ctx context.Context, ownerID string) ([]*store.Instance, error) {
	args := m.Called(ctx, ownerID)
	if instances := args.Get(0); instances != nil {
		return instances.([]*store.Instance), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockInstanceService) Labs(ctx context.Context) []*catalog.Lab {
	args := m.Called(ctx)
	if labs := args.Get(0); labs != nil {
		return labs.([]*catalog.Lab)
	}
	return nil
}

func (m *MockInstanceService) Logs(ctx context.Context, instanceID, requesterID string, tail int) (string, error) {
	args := m.Called(ctx, instanceID, requesterID, tail)
	return args.String(0), args.Error(1)
}

func (m *MockInstanceService) OpenShell(ctx context.Context, instanceID, requesterID string) (*docker.ExecSession, error) {
	args := m.Called(ctx, instanceID, requesterID)
	if sess := args.Get(0); sess != nil {
		return sess.(*docker.ExecSession), args.Error(1)
	}
	return nil, args.Error(1)
}
