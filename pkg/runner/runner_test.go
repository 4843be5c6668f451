package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/reeflow/reeflow/pkg/audit"
	"github.com/reeflow/reeflow/pkg/metrics"
	"github.com/reeflow/reeflow/pkg/models"
	"github.com/reeflow/reeflow/pkg/persistence/memory"
	"github.com/reeflow/reeflow/pkg/scheduler"
	"github.com/reeflow/reeflow/pkg/workerpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecutor struct {
	mu       sync.Mutex
	executed []string
	fail     map[string]int // taskID -> remaining failures
	block    map[string]chan struct{}
}

func newRecordingExecutor() *recordingExecutor {
	return &recordingExecutor{
		fail:  make(map[string]int),
		block: make(map[string]chan struct{}),
	}
}

func (e *recordingExecutor) Execute(ctx context.Context, item *workerpool.WorkItem) (map[string]any, error) {
	e.mu.Lock()
	e.executed = append(e.executed, item.TaskID)
	remaining := e.fail[item.TaskID]

	if remaining > 0 {
		e.fail[item.TaskID] = remaining - 1
	}

	blockCh := e.block[item.TaskID]
	e.mu.Unlock()

	if blockCh != nil {
		select {
		case <-blockCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if remaining > 0 {
		return nil, errors.New("induced failure")
	}

	return map[string]any{"task": item.TaskID}, nil
}

func (e *recordingExecutor) order() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]string{}, e.executed...)
}

type fixture struct {
	store     *memory.Persistence
	scheduler *scheduler.PersistentScheduler
	executor  *recordingExecutor
	runner    *Runner
}

func newFixture(t *testing.T, workers int, config Config) *fixture {
	t.Helper()

	return newFixtureSized(t, workers, 16, config)
}

func newFixtureSized(t *testing.T, workers, queueCapacity int, config Config) *fixture {
	t.Helper()

	store := memory.NewPersistence()
	trail := audit.NewTrail(slog.Default(), nil)
	sched := scheduler.NewPersistentScheduler(slog.Default(), store, trail, metrics.NewMemoryCollector())
	executor := newRecordingExecutor()

	pool := workerpool.NewWorkerPool(slog.Default(), executor, workers, queueCapacity)
	pool.Start(context.Background())
	t.Cleanup(pool.ForceShutdown)

	return &fixture{
		store:     store,
		scheduler: sched,
		executor:  executor,
		runner:    NewRunner(slog.Default(), sched, pool, config),
	}
}

func (f *fixture) createExecution(t *testing.T, workflow *models.WorkflowDefinition, executionID string) {
	t.Helper()

	_, err := f.scheduler.CreateExecution(context.Background(), workflow, executionID, "test")
	require.NoError(t, err)
}

func diamondWorkflow() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:   "wf-diamond",
		Name: "diamond workflow",
		Tasks: []models.WorkflowTask{
			{ID: "d", Type: "test", Needs: []string{"b", "c"}},
			{ID: "b", Type: "test", Needs: []string{"a"}},
			{ID: "c", Type: "test", Needs: []string{"a"}},
			{ID: "a", Type: "test"},
		},
	}
}

func TestRunSucceedsLinearWorkflow(t *testing.T) {
	f := newFixture(t, 2, Config{})
	ctx := context.Background()

	workflow := &models.WorkflowDefinition{
		ID:   "wf-linear",
		Name: "linear workflow",
		Tasks: []models.WorkflowTask{
			{ID: "a", Type: "test"},
			{ID: "b", Type: "test", Needs: []string{"a"}},
		},
	}

	f.createExecution(t, workflow, "exec-1")
	require.NoError(t, f.runner.Run(ctx, workflow, "exec-1"))

	execution, err := f.store.ExecutionRepository().GetByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateSuccess, execution.State)

	runs, err := f.store.TaskRunRepository().GetByExecution(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, runs, 2)

	for _, run := range runs {
		assert.Equal(t, models.StateSuccess, run.State)
		assert.Equal(t, map[string]any{"task": run.TaskID}, run.Outputs)
	}

	assert.Equal(t, []string{"a", "b"}, f.executor.order())
}

func TestRunDispatchesDeterministically(t *testing.T) {
	// One worker and a dispatch limit of one serializes the whole run, so
	// the execution order must be the sorted Kahn order.
	f := newFixture(t, 1, Config{MaxConcurrentPerExecution: 1})
	ctx := context.Background()

	workflow := diamondWorkflow()
	f.createExecution(t, workflow, "exec-1")
	require.NoError(t, f.runner.Run(ctx, workflow, "exec-1"))

	assert.Equal(t, []string{"a", "b", "c", "d"}, f.executor.order())
}

func TestRunFailsDependentsOfFailedTask(t *testing.T) {
	f := newFixture(t, 2, Config{})
	ctx := context.Background()

	workflow := diamondWorkflow()
	f.createExecution(t, workflow, "exec-1")

	f.executor.fail["b"] = 1

	require.NoError(t, f.runner.Run(ctx, workflow, "exec-1"))

	execution, err := f.store.ExecutionRepository().GetByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, execution.State)

	runB, err := f.store.TaskRunRepository().Get(ctx, "exec-1", "b")
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, runB.State)
	assert.Equal(t, "TASK_FAILED", runB.ReasonCode)

	runD, err := f.store.TaskRunRepository().Get(ctx, "exec-1", "d")
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, runD.State)
	assert.Equal(t, models.ReasonDependencyFailed, runD.ReasonCode)
	assert.Equal(t, `Dependency "b" failed`, runD.Message)

	// The independent branch still runs to completion.
	runC, err := f.store.TaskRunRepository().Get(ctx, "exec-1", "c")
	require.NoError(t, err)
	assert.Equal(t, models.StateSuccess, runC.State)
}

func TestRunRetriesFailedTask(t *testing.T) {
	f := newFixture(t, 1, Config{})
	ctx := context.Background()

	workflow := &models.WorkflowDefinition{
		ID:   "wf-retry",
		Name: "retry workflow",
		Tasks: []models.WorkflowTask{
			{ID: "flaky", Type: "test", Retry: &models.RetryPolicy{MaxAttempts: 3}},
		},
	}

	f.createExecution(t, workflow, "exec-1")
	f.executor.fail["flaky"] = 2

	require.NoError(t, f.runner.Run(ctx, workflow, "exec-1"))

	execution, err := f.store.ExecutionRepository().GetByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateSuccess, execution.State)

	attempts, err := f.store.AttemptRepository().GetByTaskRun(ctx, "exec-1", "flaky")
	require.NoError(t, err)
	require.Len(t, attempts, 3)
	assert.Equal(t, string(workerpool.OutcomeFailed), attempts[0].Status)
	assert.Equal(t, string(workerpool.OutcomeSuccess), attempts[2].Status)
}

func TestRunSucceedsWhenReadySetExceedsPool(t *testing.T) {
	// More ready tasks than the pool can hold: dispatch must wait for
	// queue capacity instead of failing the run.
	f := newFixtureSized(t, 1, 1, Config{})
	ctx := context.Background()

	workflow := &models.WorkflowDefinition{
		ID:   "wf-wide",
		Name: "wide workflow",
		Tasks: []models.WorkflowTask{
			{ID: "a", Type: "test"},
			{ID: "b", Type: "test"},
			{ID: "c", Type: "test"},
			{ID: "d", Type: "test", Needs: []string{"a", "b", "c"}},
		},
	}

	f.createExecution(t, workflow, "exec-1")
	require.NoError(t, f.runner.Run(ctx, workflow, "exec-1"))

	execution, err := f.store.ExecutionRepository().GetByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateSuccess, execution.State)

	runs, err := f.store.TaskRunRepository().GetByExecution(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, runs, 4)

	for _, run := range runs {
		assert.Equal(t, models.StateSuccess, run.State)
	}
}

func TestRunParksRetriesInWaiting(t *testing.T) {
	f := newFixture(t, 1, Config{})
	ctx := context.Background()

	workflow := &models.WorkflowDefinition{
		ID:   "wf-retry",
		Name: "retry workflow",
		Tasks: []models.WorkflowTask{
			{ID: "flaky", Type: "test", Retry: &models.RetryPolicy{MaxAttempts: 2, Backoff: 150 * time.Millisecond}},
		},
	}

	f.createExecution(t, workflow, "exec-1")
	f.executor.fail["flaky"] = 1

	done := make(chan error, 1)

	go func() {
		done <- f.runner.Run(ctx, workflow, "exec-1")
	}()

	require.Eventually(t, func() bool {
		run, err := f.store.TaskRunRepository().Get(ctx, "exec-1", "flaky")

		return err == nil && run.State == models.StateWaiting && run.ReasonCode == models.ReasonBackoff
	}, time.Second, 5*time.Millisecond, "failed run must wait out the backoff in WAITING")

	require.NoError(t, <-done)

	run, err := f.store.TaskRunRepository().Get(ctx, "exec-1", "flaky")
	require.NoError(t, err)
	assert.Equal(t, models.StateSuccess, run.State)
}

func TestRunExhaustsRetries(t *testing.T) {
	f := newFixture(t, 1, Config{})
	ctx := context.Background()

	workflow := &models.WorkflowDefinition{
		ID:   "wf-retry",
		Name: "retry workflow",
		Tasks: []models.WorkflowTask{
			{ID: "broken", Type: "test", Retry: &models.RetryPolicy{MaxAttempts: 2}},
		},
	}

	f.createExecution(t, workflow, "exec-1")
	f.executor.fail["broken"] = 5

	require.NoError(t, f.runner.Run(ctx, workflow, "exec-1"))

	run, err := f.store.TaskRunRepository().Get(ctx, "exec-1", "broken")
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, run.State)

	attempts, err := f.store.AttemptRepository().GetByTaskRun(ctx, "exec-1", "broken")
	require.NoError(t, err)
	assert.Len(t, attempts, 2)
}

func TestRunTimesOutExecution(t *testing.T) {
	f := newFixture(t, 1, Config{ExecutionTimeoutMs: 100})
	ctx := context.Background()

	workflow := &models.WorkflowDefinition{
		ID:   "wf-slow",
		Name: "slow workflow",
		Tasks: []models.WorkflowTask{
			{ID: "stuck", Type: "test"},
		},
	}

	f.createExecution(t, workflow, "exec-1")
	f.executor.block["stuck"] = make(chan struct{})

	require.NoError(t, f.runner.Run(ctx, workflow, "exec-1"))

	execution, err := f.store.ExecutionRepository().GetByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, execution.State)
	assert.Equal(t, models.ReasonTimeout, execution.ReasonCode)
	assert.Equal(t, "Execution timed out after 100ms", execution.Message)

	run, err := f.store.TaskRunRepository().Get(ctx, "exec-1", "stuck")
	require.NoError(t, err)
	assert.True(t, run.State.IsTerminal(), "open task runs must be settled on timeout")
}

func TestRunStopsOnExternalCancellation(t *testing.T) {
	f := newFixture(t, 1, Config{StatePollInterval: 20 * time.Millisecond})
	ctx := context.Background()

	workflow := &models.WorkflowDefinition{
		ID:   "wf-cancel",
		Name: "cancel workflow",
		Tasks: []models.WorkflowTask{
			{ID: "long", Type: "test"},
			{ID: "after", Type: "test", Needs: []string{"long"}},
		},
	}

	f.createExecution(t, workflow, "exec-1")
	f.executor.block["long"] = make(chan struct{})

	done := make(chan error, 1)

	go func() {
		done <- f.runner.Run(ctx, workflow, "exec-1")
	}()

	require.Eventually(t, func() bool {
		run, err := f.store.TaskRunRepository().Get(ctx, "exec-1", "long")

		return err == nil && run.State == models.StateRunning
	}, time.Second, 5*time.Millisecond)

	_, err := f.scheduler.CancelExecution(ctx, "exec-1", "operator stop")
	require.NoError(t, err)

	require.NoError(t, <-done)

	execution, err := f.store.ExecutionRepository().GetByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateCancelled, execution.State)

	runAfter, err := f.store.TaskRunRepository().Get(ctx, "exec-1", "after")
	require.NoError(t, err)
	assert.Equal(t, models.StateCancelled, runAfter.State)
}
