package mocks

import (
	"context"

	"github.com/dukex/opsflow/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockDispatcher is a mock implementation of services.Dispatcher interface.
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(ctx context.Context, eventName string, payload map[string]any) ([]models.RunHandle, error) {
	args := m.Called(ctx, eventName, payload)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]models.RunHandle), args.Error(1)
}

// MockRunController is a mock implementation of services.RunController interface.
type MockRunController struct {
	mock.Mock
}

func (m *MockRunController) Cancel(ctx context.Context, runID string) (*models.WorkflowRun, error) {
	args := m.Called(ctx, runID)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowRun), args.Error(1)
}

func (m *MockRunController) Resume(ctx context.Context, runID string) (bool, error) {
	args := m.Called(ctx, runID)

	return args.Bool(0), args.Error(1)
}
