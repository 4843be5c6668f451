// Package persistence provides the state-storage abstraction consumed by
// the scheduler, the recovery pass and the runner.
package persistence

import (
	"context"
	"time"

	"github.com/reeflow/reeflow/pkg/models"
)

// Persistence is the state-persistence contract. The orchestration core
// performs read-modify-write against it and assumes a single logical writer
// per execution id (and per task-run composite key) at any time.
type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	TaskRunRepository() TaskRunRepository
	AttemptRepository() AttemptRepository

	// Transaction runs fn atomically: all writes made through the passed
	// Persistence commit together or roll back together.
	Transaction(ctx context.Context, fn func(tx Persistence) error) error

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow definitions.
type WorkflowRepository interface {
	Save(ctx context.Context, workflow *models.WorkflowDefinition) error
	GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	GetAll(ctx context.Context) ([]*models.WorkflowDefinition, error)
	Delete(ctx context.Context, id string) error
}

// ExecutionRepository stores executions.
type ExecutionRepository interface {
	Save(ctx context.Context, execution *models.Execution) error
	GetByID(ctx context.Context, id string) (*models.Execution, error)
	GetAll(ctx context.Context) ([]*models.Execution, error)
	GetByWorkflow(ctx context.Context, workflowID string) ([]*models.Execution, error)

	// ActiveExecutions returns every execution in RUNNING.
	ActiveExecutions(ctx context.Context) ([]*models.Execution, error)

	// PendingExecutions returns every execution in PENDING or WAITING.
	PendingExecutions(ctx context.Context) ([]*models.Execution, error)

	// DeleteBefore removes executions (and their task runs and attempts)
	// that ended before cutoff and are in one of the given states. The
	// core never calls this; it exists for the retention collaborator.
	DeleteBefore(ctx context.Context, cutoff time.Time, states []models.ExecutionState) (int, error)

	// SaveWithTaskRuns persists an execution and a set of its task runs
	// atomically.
	SaveWithTaskRuns(ctx context.Context, execution *models.Execution, runs []*models.TaskRun) error
}

// TaskRunRepository stores task runs keyed by (executionID, taskID).
type TaskRunRepository interface {
	Save(ctx context.Context, run *models.TaskRun) error
	Get(ctx context.Context, executionID, taskID string) (*models.TaskRun, error)
	GetByExecution(ctx context.Context, executionID string) ([]*models.TaskRun, error)
	GetByExecutionAndState(ctx context.Context, executionID string, states []models.ExecutionState) ([]*models.TaskRun, error)
	CountByExecutionAndState(ctx context.Context, executionID string, state models.ExecutionState) (int, error)
}

// AttemptRepository stores task-run attempts. Attempt rows are append-only;
// Update only stamps the outcome fields of an existing attempt.
type AttemptRepository interface {
	Append(ctx context.Context, attempt *models.Attempt) error
	Update(ctx context.Context, attempt *models.Attempt) error
	GetByTaskRun(ctx context.Context, executionID, taskID string) ([]*models.Attempt, error)
}
