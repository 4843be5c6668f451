// Package memory provides an in-memory persistence implementation for
// development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/reeflow/reeflow/pkg/models"
	"github.com/reeflow/reeflow/pkg/persistence"
)

// Persistence implements persistence.Persistence with process-local maps.
// All methods are safe for concurrent use.
type Persistence struct {
	mu         sync.RWMutex
	workflows  map[string]*models.WorkflowDefinition
	executions map[string]*models.Execution
	taskRuns   map[string]map[string]*models.TaskRun // executionID -> taskID -> run
	attempts   map[string][]*models.Attempt          // executionID/taskID -> attempts

	workflowRepo  *workflowRepository
	executionRepo *executionRepository
	taskRunRepo   *taskRunRepository
	attemptRepo   *attemptRepository
}

// NewPersistence creates an empty in-memory persistence layer.
func NewPersistence() *Persistence {
	p := &Persistence{
		workflows:  make(map[string]*models.WorkflowDefinition),
		executions: make(map[string]*models.Execution),
		taskRuns:   make(map[string]map[string]*models.TaskRun),
		attempts:   make(map[string][]*models.Attempt),
	}

	p.workflowRepo = &workflowRepository{p: p}
	p.executionRepo = &executionRepository{p: p}
	p.taskRunRepo = &taskRunRepository{p: p}
	p.attemptRepo = &attemptRepository{p: p}

	return p
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflowRepo
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executionRepo
}

func (p *Persistence) TaskRunRepository() persistence.TaskRunRepository {
	return p.taskRunRepo
}

func (p *Persistence) AttemptRepository() persistence.AttemptRepository {
	return p.attemptRepo
}

// Transaction runs fn against the same store. The in-memory layer has no
// rollback; partial writes remain on error, which is acceptable for the
// development store.
func (p *Persistence) Transaction(ctx context.Context, fn func(tx persistence.Persistence) error) error {
	return fn(p)
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func copyExecution(e *models.Execution) *models.Execution {
	cp := *e

	return &cp
}

func copyTaskRun(r *models.TaskRun) *models.TaskRun {
	cp := *r

	return &cp
}

type workflowRepository struct {
	p *Persistence
}

func (r *workflowRepository) Save(_ context.Context, workflow *models.WorkflowDefinition) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	cp := *workflow
	r.p.workflows[workflow.ID] = &cp

	return nil
}

func (r *workflowRepository) GetByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	workflow, ok := r.p.workflows[id]
	if !ok {
		return nil, persistence.ErrWorkflowNotFound
	}

	cp := *workflow

	return &cp, nil
}

func (r *workflowRepository) GetAll(_ context.Context) ([]*models.WorkflowDefinition, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	out := make([]*models.WorkflowDefinition, 0, len(r.p.workflows))
	for _, workflow := range r.p.workflows {
		cp := *workflow
		out = append(out, &cp)
	}

	return out, nil
}

func (r *workflowRepository) Delete(_ context.Context, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if _, ok := r.p.workflows[id]; !ok {
		return persistence.ErrWorkflowNotFound
	}

	delete(r.p.workflows, id)

	return nil
}

type executionRepository struct {
	p *Persistence
}

func (r *executionRepository) Save(_ context.Context, execution *models.Execution) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	r.p.executions[execution.ID] = copyExecution(execution)

	return nil
}

func (r *executionRepository) GetByID(_ context.Context, id string) (*models.Execution, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	execution, ok := r.p.executions[id]
	if !ok {
		return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	return copyExecution(execution), nil
}

func (r *executionRepository) GetAll(_ context.Context) ([]*models.Execution, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	out := make([]*models.Execution, 0, len(r.p.executions))
	for _, execution := range r.p.executions {
		out = append(out, copyExecution(execution))
	}

	return out, nil
}

func (r *executionRepository) GetByWorkflow(_ context.Context, workflowID string) ([]*models.Execution, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	out := make([]*models.Execution, 0)

	for _, execution := range r.p.executions {
		if execution.WorkflowID == workflowID {
			out = append(out, copyExecution(execution))
		}
	}

	return out, nil
}

func (r *executionRepository) ActiveExecutions(_ context.Context) ([]*models.Execution, error) {
	return r.byStates(models.StateRunning)
}

func (r *executionRepository) PendingExecutions(_ context.Context) ([]*models.Execution, error) {
	return r.byStates(models.StatePending, models.StateWaiting)
}

func (r *executionRepository) byStates(states ...models.ExecutionState) ([]*models.Execution, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	out := make([]*models.Execution, 0)

	for _, execution := range r.p.executions {
		for _, state := range states {
			if execution.State == state {
				out = append(out, copyExecution(execution))

				break
			}
		}
	}

	return out, nil
}

func (r *executionRepository) DeleteBefore(_ context.Context, cutoff time.Time, states []models.ExecutionState) (int, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	deleted := 0

	for id, execution := range r.p.executions {
		if execution.Timestamps.EndedAt == nil || !execution.Timestamps.EndedAt.Before(cutoff) {
			continue
		}

		for _, state := range states {
			if execution.State != state {
				continue
			}

			delete(r.p.executions, id)
			delete(r.p.taskRuns, id)

			for key := range r.p.attempts {
				if len(key) > len(id) && key[:len(id)] == id && key[len(id)] == '/' {
					delete(r.p.attempts, key)
				}
			}

			deleted++

			break
		}
	}

	return deleted, nil
}

func (r *executionRepository) SaveWithTaskRuns(_ context.Context, execution *models.Execution, runs []*models.TaskRun) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	r.p.executions[execution.ID] = copyExecution(execution)

	byTask, ok := r.p.taskRuns[execution.ID]
	if !ok {
		byTask = make(map[string]*models.TaskRun)
		r.p.taskRuns[execution.ID] = byTask
	}

	for _, run := range runs {
		byTask[run.TaskID] = copyTaskRun(run)
	}

	return nil
}

type taskRunRepository struct {
	p *Persistence
}

func (r *taskRunRepository) Save(_ context.Context, run *models.TaskRun) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	byTask, ok := r.p.taskRuns[run.ExecutionID]
	if !ok {
		byTask = make(map[string]*models.TaskRun)
		r.p.taskRuns[run.ExecutionID] = byTask
	}

	byTask[run.TaskID] = copyTaskRun(run)

	return nil
}

func (r *taskRunRepository) Get(_ context.Context, executionID, taskID string) (*models.TaskRun, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	run, ok := r.p.taskRuns[executionID][taskID]
	if !ok {
		return nil, persistence.NewTaskRunError("Get", executionID, taskID, persistence.ErrTaskRunNotFound)
	}

	return copyTaskRun(run), nil
}

func (r *taskRunRepository) GetByExecution(_ context.Context, executionID string) ([]*models.TaskRun, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	out := make([]*models.TaskRun, 0, len(r.p.taskRuns[executionID]))
	for _, run := range r.p.taskRuns[executionID] {
		out = append(out, copyTaskRun(run))
	}

	return out, nil
}

func (r *taskRunRepository) GetByExecutionAndState(_ context.Context, executionID string, states []models.ExecutionState) ([]*models.TaskRun, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	out := make([]*models.TaskRun, 0)

	for _, run := range r.p.taskRuns[executionID] {
		for _, state := range states {
			if run.State == state {
				out = append(out, copyTaskRun(run))

				break
			}
		}
	}

	return out, nil
}

func (r *taskRunRepository) CountByExecutionAndState(_ context.Context, executionID string, state models.ExecutionState) (int, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	count := 0

	for _, run := range r.p.taskRuns[executionID] {
		if run.State == state {
			count++
		}
	}

	return count, nil
}

type attemptRepository struct {
	p *Persistence
}

func attemptKey(executionID, taskID string) string {
	return executionID + "/" + taskID
}

func (r *attemptRepository) Append(_ context.Context, attempt *models.Attempt) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	key := attemptKey(attempt.ExecutionID, attempt.TaskID)

	for _, existing := range r.p.attempts[key] {
		if existing.AttemptNumber == attempt.AttemptNumber {
			return persistence.ErrAttemptAlreadyExists
		}
	}

	cp := *attempt
	r.p.attempts[key] = append(r.p.attempts[key], &cp)

	return nil
}

func (r *attemptRepository) Update(_ context.Context, attempt *models.Attempt) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	key := attemptKey(attempt.ExecutionID, attempt.TaskID)

	for i, existing := range r.p.attempts[key] {
		if existing.ID == attempt.ID {
			cp := *attempt
			r.p.attempts[key][i] = &cp

			return nil
		}
	}

	return persistence.ErrAttemptNotFound
}

func (r *attemptRepository) GetByTaskRun(_ context.Context, executionID, taskID string) ([]*models.Attempt, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	stored := r.p.attempts[attemptKey(executionID, taskID)]
	out := make([]*models.Attempt, 0, len(stored))

	for _, attempt := range stored {
		cp := *attempt
		out = append(out, &cp)
	}

	return out, nil
}
