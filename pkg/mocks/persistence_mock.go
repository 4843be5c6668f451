package mocks

import (
	"context"
	"time"

	"github.com/reeflow/reeflow/pkg/models"
	"github.com/reeflow/reeflow/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockWorkflowRepository is a mock implementation of
// persistence.WorkflowRepository.
type MockWorkflowRepository struct {
	mock.Mock
}

func (m *MockWorkflowRepository) Save(ctx context.Context, workflow *models.WorkflowDefinition) error {
	args := m.Called(ctx, workflow)

	return args.Error(0)
}

func (m *MockWorkflowRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowDefinition), args.Error(1)
}

func (m *MockWorkflowRepository) GetAll(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowDefinition), args.Error(1)
}

func (m *MockWorkflowRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

// MockExecutionRepository is a mock implementation of
// persistence.ExecutionRepository.
type MockExecutionRepository struct {
	mock.Mock
}

func (m *MockExecutionRepository) Save(ctx context.Context, execution *models.Execution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Execution), args.Error(1)
}

func (m *MockExecutionRepository) GetAll(ctx context.Context) ([]*models.Execution, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Execution), args.Error(1)
}

func (m *MockExecutionRepository) GetByWorkflow(ctx context.Context, workflowID string) ([]*models.Execution, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Execution), args.Error(1)
}

func (m *MockExecutionRepository) ActiveExecutions(ctx context.Context) ([]*models.Execution, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Execution), args.Error(1)
}

func (m *MockExecutionRepository) PendingExecutions(ctx context.Context) ([]*models.Execution, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Execution), args.Error(1)
}

func (m *MockExecutionRepository) DeleteBefore(ctx context.Context, cutoff time.Time, states []models.ExecutionState) (int, error) {
	args := m.Called(ctx, cutoff, states)

	return args.Int(0), args.Error(1)
}

func (m *MockExecutionRepository) SaveWithTaskRuns(ctx context.Context, execution *models.Execution, runs []*models.TaskRun) error {
	args := m.Called(ctx, execution, runs)

	return args.Error(0)
}

// MockTaskRunRepository is a mock implementation of
// persistence.TaskRunRepository.
type MockTaskRunRepository struct {
	mock.Mock
}

func (m *MockTaskRunRepository) Save(ctx context.Context, run *models.TaskRun) error {
	args := m.Called(ctx, run)

	return args.Error(0)
}

func (m *MockTaskRunRepository) Get(ctx context.Context, executionID, taskID string) (*models.TaskRun, error) {
	args := m.Called(ctx, executionID, taskID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.TaskRun), args.Error(1)
}

func (m *MockTaskRunRepository) GetByExecution(ctx context.Context, executionID string) ([]*models.TaskRun, error) {
	args := m.Called(ctx, executionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.TaskRun), args.Error(1)
}

func (m *MockTaskRunRepository) GetByExecutionAndState(ctx context.Context, executionID string, states []models.ExecutionState) ([]*models.TaskRun, error) {
	args := m.Called(ctx, executionID, states)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.TaskRun), args.Error(1)
}

func (m *MockTaskRunRepository) CountByExecutionAndState(ctx context.Context, executionID string, state models.ExecutionState) (int, error) {
	args := m.Called(ctx, executionID, state)

	return args.Int(0), args.Error(1)
}

// MockAttemptRepository is a mock implementation of
// persistence.AttemptRepository.
type MockAttemptRepository struct {
	mock.Mock
}

func (m *MockAttemptRepository) Append(ctx context.Context, attempt *models.Attempt) error {
	args := m.Called(ctx, attempt)

	return args.Error(0)
}

func (m *MockAttemptRepository) Update(ctx context.Context, attempt *models.Attempt) error {
	args := m.Called(ctx, attempt)

	return args.Error(0)
}

func (m *MockAttemptRepository) GetByTaskRun(ctx context.Context, executionID, taskID string) ([]*models.Attempt, error) {
	args := m.Called(ctx, executionID, taskID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Attempt), args.Error(1)
}

// MockPersistence is a mock implementation of persistence.Persistence.
type MockPersistence struct {
	mock.Mock

	Workflows  *MockWorkflowRepository
	Executions *MockExecutionRepository
	TaskRuns   *MockTaskRunRepository
	Attempts   *MockAttemptRepository
}

func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		Workflows:  &MockWorkflowRepository{},
		Executions: &MockExecutionRepository{},
		TaskRuns:   &MockTaskRunRepository{},
		Attempts:   &MockAttemptRepository{},
	}
}

func (m *MockPersistence) WorkflowRepository() persistence.WorkflowRepository {
	return m.Workflows
}

func (m *MockPersistence) ExecutionRepository() persistence.ExecutionRepository {
	return m.Executions
}

func (m *MockPersistence) TaskRunRepository() persistence.TaskRunRepository {
	return m.TaskRuns
}

func (m *MockPersistence) AttemptRepository() persistence.AttemptRepository {
	return m.Attempts
}

func (m *MockPersistence) Transaction(ctx context.Context, fn func(tx persistence.Persistence) error) error {
	return fn(m)
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
