package mocks

import (
	"context"
	"time"

	"github.com/dukex/opsflow/pkg/models"
	"github.com/dukex/opsflow/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockRunRepository is a mock implementation of persistence.RunRepository interface.
type MockRunRepository struct {
	mock.Mock
}

func (m *MockRunRepository) Create(ctx context.Context, run *models.WorkflowRun) error {
	args := m.Called(ctx, run)

	return args.Error(0)
}

func (m *MockRunRepository) GetByID(ctx context.Context, id string) (*models.WorkflowRun, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowRun), args.Error(1)
}

func (m *MockRunRepository) Update(ctx context.Context, run *models.WorkflowRun) error {
	args := m.Called(ctx, run)

	return args.Error(0)
}

func (m *MockRunRepository) Touch(ctx context.Context, id string, version int, at time.Time) error {
	args := m.Called(ctx, id, version, at)

	return args.Error(0)
}

func (m *MockRunRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.WorkflowRun, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowRun), args.Error(1)
}

func (m *MockRunRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]*models.WorkflowRun, error) {
	args := m.Called(ctx, before, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowRun), args.Error(1)
}

func (m *MockRunRepository) List(ctx context.Context, opts persistence.ListRunsOptions) (*persistence.ListRunsResult, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*persistence.ListRunsResult), args.Error(1)
}

// MockStepRunRepository is a mock implementation of persistence.StepRunRepository interface.
type MockStepRunRepository struct {
	mock.Mock
}

func (m *MockStepRunRepository) Create(ctx context.Context, stepRun *models.WorkflowStepRun) error {
	args := m.Called(ctx, stepRun)

	return args.Error(0)
}

func (m *MockStepRunRepository) Update(ctx context.Context, stepRun *models.WorkflowStepRun) error {
	args := m.Called(ctx, stepRun)

	return args.Error(0)
}

func (m *MockStepRunRepository) ListByRun(ctx context.Context, runID string) ([]*models.WorkflowStepRun, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowStepRun), args.Error(1)
}

// MockDefinitionRepository is a mock implementation of persistence.DefinitionRepository interface.
type MockDefinitionRepository struct {
	mock.Mock
}

func (m *MockDefinitionRepository) ActiveByEvent(ctx context.Context, eventName string) ([]*models.WorkflowDefinition, error) {
	args := m.Called(ctx, eventName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowDefinition), args.Error(1)
}

func (m *MockDefinitionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowDefinition), args.Error(1)
}

func (m *MockDefinitionRepository) GetAll(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowDefinition), args.Error(1)
}

func (m *MockDefinitionRepository) Save(ctx context.Context, definition *models.WorkflowDefinition) error {
	args := m.Called(ctx, definition)

	return args.Error(0)
}

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock

	runRepo        *MockRunRepository
	stepRunRepo    *MockStepRunRepository
	definitionRepo *MockDefinitionRepository
}

// NewMockPersistence creates a new MockPersistence with all mock repositories.
func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		runRepo:        &MockRunRepository{},
		stepRunRepo:    &MockStepRunRepository{},
		definitionRepo: &MockDefinitionRepository{},
	}
}

// GetMockRunRepository returns the underlying mock run repository for setting up expectations.
func (m *MockPersistence) GetMockRunRepository() *MockRunRepository {
	return m.runRepo
}

// GetMockStepRunRepository returns the underlying mock step run repository for setting up expectations.
func (m *MockPersistence) GetMockStepRunRepository() *MockStepRunRepository {
	return m.stepRunRepo
}

// GetMockDefinitionRepository returns the underlying mock definition repository for setting up expectations.
func (m *MockPersistence) GetMockDefinitionRepository() *MockDefinitionRepository {
	return m.definitionRepo
}

func (m *MockPersistence) RunRepository() persistence.RunRepository {
	return m.runRepo
}

func (m *MockPersistence) StepRunRepository() persistence.StepRunRepository {
	return m.stepRunRepo
}

func (m *MockPersistence) DefinitionRepository() persistence.DefinitionRepository {
	return m.definitionRepo
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
