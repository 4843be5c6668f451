// Package runner drives a single execution end to end: it builds the task
// graph, dispatches runnable tasks onto the worker pool in deterministic
// topological order, retries failures per task policy, and settles the
// execution's terminal state.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/reeflow/reeflow/pkg/graph"
	"github.com/reeflow/reeflow/pkg/lifecycle"
	"github.com/reeflow/reeflow/pkg/models"
	"github.com/reeflow/reeflow/pkg/scheduler"
	"github.com/reeflow/reeflow/pkg/tracing"
	"github.com/reeflow/reeflow/pkg/workerpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Config tunes a Runner.
type Config struct {
	// MaxConcurrentPerExecution bounds how many of one execution's task
	// runs may be RUNNING at once. Zero means unbounded.
	MaxConcurrentPerExecution int

	// ExecutionTimeoutMs bounds the whole execution. Zero means no
	// deadline.
	ExecutionTimeoutMs int64

	// StatePollInterval is how often the runner re-reads the persisted
	// execution to notice external cancellation.
	StatePollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.StatePollInterval <= 0 {
		c.StatePollInterval = 200 * time.Millisecond
	}

	return c
}

// Runner executes workflows. One Run call owns one execution; the runner
// itself is stateless across runs.
type Runner struct {
	logger    *slog.Logger
	scheduler *scheduler.PersistentScheduler
	pool      *workerpool.WorkerPool
	tracer    trace.Tracer
	config    Config
}

func NewRunner(logger *slog.Logger, sched *scheduler.PersistentScheduler, pool *workerpool.WorkerPool, config Config) *Runner {
	return &Runner{
		logger:    logger.With("module", "runner"),
		scheduler: sched,
		pool:      pool,
		tracer:    otel.Tracer("reeflow.runner"),
		config:    config.withDefaults(),
	}
}

// taskState tracks one task's progress within a run.
type taskState struct {
	task     models.WorkflowTask
	attempts int
	parked   bool // run is WAITING between retry attempts
	terminal bool
	success  bool
}

type taskResult struct {
	taskID  string
	attempt *models.Attempt
	result  workerpool.WorkResult
}

// Run drives the execution to a terminal state. The returned error reports
// infrastructure failures only; a workflow whose tasks fail still returns
// nil once the execution is settled as FAILED.
func (r *Runner) Run(ctx context.Context, workflow *models.WorkflowDefinition, executionID string) error {
	ctx, span := tracing.StartSpan(ctx, r.tracer, "runner.run",
		attribute.String(tracing.WorkflowIDKey, workflow.ID),
		attribute.String(tracing.ExecutionIDKey, executionID),
	)
	defer span.End()

	err := r.run(ctx, workflow, executionID)
	if err != nil {
		tracing.SetError(span, err)
	}

	return err
}

func (r *Runner) run(ctx context.Context, workflow *models.WorkflowDefinition, executionID string) error {
	execution, err := r.scheduler.StartExecution(ctx, executionID)
	if err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "Run started",
		"executionId", executionID, "workflowId", workflow.ID, "tasks", len(workflow.Tasks))

	g, err := graph.BuildWorkflowGraph(workflow.Tasks)
	if err != nil {
		_, completeErr := r.scheduler.CompleteExecution(ctx, executionID, lifecycle.Event{
			Type:       lifecycle.ExecutionFailed,
			ReasonCode: "INVALID_WORKFLOW",
			Message:    err.Error(),
		})

		return errors.Join(err, completeErr)
	}

	order, err := graph.TopologicalSort(g)
	if err != nil {
		return err
	}

	runCtx := ctx

	var stopTimeout context.CancelFunc

	if r.config.ExecutionTimeoutMs > 0 {
		runCtx, stopTimeout = context.WithTimeout(ctx,
			time.Duration(r.config.ExecutionTimeoutMs)*time.Millisecond)
		defer stopTimeout()
	}

	states := make(map[string]*taskState, len(order))
	for _, task := range workflow.Tasks {
		states[task.ID] = &taskState{task: task}
	}

	results := make(chan taskResult, len(order))
	inFlight := make(map[string]string) // taskID -> pool item id

	ticker := time.NewTicker(r.config.StatePollInterval)
	defer ticker.Stop()

	for !allTerminal(states) {
		dispatched, dispatchErr := r.dispatchReady(runCtx, g, order, states, inFlight, execution, results)
		if dispatchErr != nil {
			r.cancelInFlight(inFlight)

			// The deadline can also fire while dispatch waits for queue
			// capacity; settle the timeout the same way as below.
			if errors.Is(dispatchErr, context.DeadlineExceeded) && ctx.Err() == nil {
				r.drainResults(results, inFlight)
				r.cancelOpenTaskRuns(ctx, states, executionID,
					models.ReasonTimeout, "Execution timed out")

				_, timeoutErr := r.scheduler.TimeoutExecution(ctx, executionID, r.config.ExecutionTimeoutMs)

				return timeoutErr
			}

			return dispatchErr
		}

		if len(inFlight) == 0 && dispatched == 0 && !allTerminal(states) {
			// Nothing runnable and nothing running: remaining tasks are
			// unreachable, which the cascade should have settled.
			return fmt.Errorf("execution %s stalled with unreachable tasks", executionID)
		}

		if allTerminal(states) {
			break
		}

		select {
		case res := <-results:
			delete(inFlight, res.taskID)

			if err := r.settleTask(ctx, g, states, res, executionID); err != nil {
				r.cancelInFlight(inFlight)

				return err
			}

		case <-ticker.C:
			stop, err := r.checkExternalState(ctx, executionID, states, inFlight)
			if err != nil {
				return err
			}

			if stop {
				return nil
			}

		case <-runCtx.Done():
			r.cancelInFlight(inFlight)
			r.drainResults(results, inFlight)

			if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				r.cancelOpenTaskRuns(ctx, states, executionID,
					models.ReasonTimeout, "Execution timed out")

				_, timeoutErr := r.scheduler.TimeoutExecution(ctx, executionID, r.config.ExecutionTimeoutMs)

				return timeoutErr
			}

			return runCtx.Err()
		}
	}

	return r.settleExecution(ctx, executionID, states)
}

// dispatchReady submits every runnable task within the concurrency limit.
// A task is runnable when it is untried (or mid-retry) and all of its
// dependencies have succeeded.
func (r *Runner) dispatchReady(
	ctx context.Context,
	g *graph.WorkflowGraph,
	order []string,
	states map[string]*taskState,
	inFlight map[string]string,
	execution *models.Execution,
	results chan taskResult,
) (int, error) {
	dispatched := 0

	for _, taskID := range order {
		state := states[taskID]
		if state.terminal {
			continue
		}

		if _, running := inFlight[taskID]; running {
			continue
		}

		if !dependenciesSucceeded(g, states, taskID) {
			continue
		}

		if r.config.MaxConcurrentPerExecution > 0 {
			// The limiter reads the store, not an in-process counter, so
			// it stays correct across restarts.
			running, err := r.scheduler.RunningTaskRuns(ctx, execution.ID)
			if err != nil {
				return dispatched, err
			}

			if running >= r.config.MaxConcurrentPerExecution {
				break
			}
		}

		itemID, err := r.dispatchTask(ctx, execution.ID, state, results)
		if err != nil {
			return dispatched, err
		}

		inFlight[taskID] = itemID
		dispatched++
	}

	return dispatched, nil
}

func (r *Runner) dispatchTask(ctx context.Context, executionID string, state *taskState, results chan taskResult) (string, error) {
	taskID := state.task.ID

	if state.attempts == 0 || state.parked {
		if _, err := r.scheduler.StartTaskRun(ctx, executionID, taskID); err != nil {
			return "", err
		}

		state.parked = false
	}

	attempt, err := r.scheduler.RecordAttempt(ctx, executionID, taskID)
	if err != nil {
		return "", err
	}

	state.attempts++

	item := &workerpool.WorkItem{
		ID:          fmt.Sprintf("%s/%s#%d", executionID, taskID, attempt.AttemptNumber),
		ExecutionID: executionID,
		TaskID:      taskID,
		TaskType:    state.task.Type,
		Payload:     state.task.Payload,
		TimeoutMs:   state.task.TimeoutMs,
	}

	// A full queue is backpressure, not an error: block until a worker
	// frees a slot.
	resultCh, err := r.pool.SubmitWait(ctx, item)
	if err != nil {
		return "", err
	}

	_, span := tracing.StartSpan(ctx, r.tracer, "runner.task_attempt",
		attribute.String(tracing.ExecutionIDKey, executionID),
		attribute.String(tracing.TaskIDKey, taskID),
		attribute.String(tracing.TaskTypeKey, state.task.Type),
		attribute.Int(tracing.AttemptKey, attempt.AttemptNumber),
	)

	go func() {
		res := <-resultCh
		if res.Err != nil {
			tracing.SetError(span, res.Err)
		}

		span.End()
		results <- taskResult{taskID: taskID, attempt: attempt, result: res}
	}()

	return item.ID, nil
}

// settleTask applies one worker result: success, retry, cancellation, or
// final failure with the dependent cascade.
func (r *Runner) settleTask(
	ctx context.Context,
	g *graph.WorkflowGraph,
	states map[string]*taskState,
	res taskResult,
	executionID string,
) error {
	state := states[res.taskID]

	if err := r.scheduler.FinishAttempt(ctx, res.attempt, string(res.result.Outcome)); err != nil {
		r.logger.WarnContext(ctx, "Failed to record attempt outcome",
			"executionId", executionID, "taskId", res.taskID, "error", err)
	}

	switch res.result.Outcome {
	case workerpool.OutcomeSuccess:
		if _, err := r.scheduler.SucceedTaskRun(ctx, executionID, res.taskID, res.result.Output); err != nil {
			return err
		}

		state.terminal = true
		state.success = true

		return nil

	case workerpool.OutcomeCancelled:
		_, err := r.scheduler.CancelTaskRun(ctx, executionID, res.taskID,
			models.ReasonUserCancelled, "Task cancelled")
		if err != nil && !isTerminalTransition(err) {
			return err
		}

		state.terminal = true

		return nil

	case workerpool.OutcomeFailed:
		if retriesLeft(state) {
			r.logger.InfoContext(ctx, "Retrying task",
				"executionId", executionID, "taskId", res.taskID, "attempt", state.attempts)

			// The run waits out the backoff in WAITING; the next dispatch
			// restarts it.
			_, err := r.scheduler.MarkTaskRunWaiting(ctx, executionID, res.taskID,
				models.ReasonBackoff, fmt.Sprintf("Retrying after attempt %d failed", state.attempts))
			if err != nil {
				return err
			}

			state.parked = true

			if state.task.Retry != nil && state.task.Retry.Backoff > 0 {
				select {
				case <-time.After(state.task.Retry.Backoff):
				case <-ctx.Done():
					return ctx.Err()
				}
			}

			// Not terminal; the dispatch loop picks it up again.
			return nil
		}

		event := lifecycle.Event{
			Type:       lifecycle.TaskFailed,
			ReasonCode: "TASK_FAILED",
			Message:    errorMessage(res.result.Err),
		}
		if errors.Is(res.result.Err, context.DeadlineExceeded) {
			event.Type = lifecycle.TaskTimedOut
			event.Message = fmt.Sprintf("Task timed out after %dms", state.task.TimeoutMs)
		}

		if _, err := r.scheduler.CompleteTaskRun(ctx, executionID, res.taskID, event); err != nil {
			return err
		}

		state.terminal = true

		return r.failDependents(ctx, g, states, res.taskID, executionID)
	}

	return nil
}

// failDependents fails every transitive dependent of a failed task with the
// DEPENDENCY_FAILED reason. A dependent that never started is parked in
// WAITING first, so the failure always lands on an active run.
func (r *Runner) failDependents(
	ctx context.Context,
	g *graph.WorkflowGraph,
	states map[string]*taskState,
	failedTaskID, executionID string,
) error {
	queue := append([]string{}, g.Nodes[failedTaskID].Dependents...)

	for len(queue) > 0 {
		taskID := queue[0]
		queue = queue[1:]

		state := states[taskID]
		if state.terminal {
			continue
		}

		message := fmt.Sprintf("Dependency %q failed", failedTaskID)

		_, err := r.scheduler.MarkTaskRunWaiting(ctx, executionID, taskID,
			models.ReasonDependencyFailed, message)
		if err != nil && !isTerminalTransition(err) {
			return err
		}

		_, err = r.scheduler.CompleteTaskRun(ctx, executionID, taskID, lifecycle.Event{
			Type:       lifecycle.TaskFailed,
			ReasonCode: models.ReasonDependencyFailed,
			Message:    message,
		})
		if err != nil && !isTerminalTransition(err) {
			return err
		}

		state.terminal = true

		queue = append(queue, g.Nodes[taskID].Dependents...)
	}

	return nil
}

// checkExternalState notices cancellation performed outside the runner. It
// reports whether the run should stop.
func (r *Runner) checkExternalState(
	ctx context.Context,
	executionID string,
	states map[string]*taskState,
	inFlight map[string]string,
) (bool, error) {
	execution, err := r.scheduler.GetExecution(ctx, executionID)
	if err != nil {
		return false, err
	}

	if !execution.State.IsTerminal() {
		return false, nil
	}

	r.logger.InfoContext(ctx, "Execution settled externally, stopping run",
		"executionId", executionID, "state", execution.State)
	r.cancelInFlight(inFlight)

	for _, state := range states {
		state.terminal = true
	}

	return true, nil
}

// settleExecution writes the execution's terminal state from the local task
// outcomes.
func (r *Runner) settleExecution(ctx context.Context, executionID string, states map[string]*taskState) error {
	failed := make([]string, 0)

	for taskID, state := range states {
		if !state.success {
			failed = append(failed, taskID)
		}
	}

	if len(failed) == 0 {
		_, err := r.scheduler.CompleteExecution(ctx, executionID, lifecycle.Event{
			Type: lifecycle.ExecutionSucceeded,
		})

		return err
	}

	_, err := r.scheduler.CompleteExecution(ctx, executionID, lifecycle.Event{
		Type:       lifecycle.ExecutionFailed,
		ReasonCode: "TASK_FAILED",
		Message:    fmt.Sprintf("%d task(s) did not succeed", len(failed)),
	})
	if err != nil && !isTerminalTransition(err) {
		return err
	}

	return nil
}

// cancelOpenTaskRuns settles every still-open task run before the execution
// itself is settled.
func (r *Runner) cancelOpenTaskRuns(
	ctx context.Context,
	states map[string]*taskState,
	executionID, reasonCode, message string,
) {
	for taskID, state := range states {
		if state.terminal {
			continue
		}

		_, err := r.scheduler.CancelTaskRun(ctx, executionID, taskID, reasonCode, message)
		if err != nil && !isTerminalTransition(err) {
			r.logger.WarnContext(ctx, "Failed to cancel open task run",
				"executionId", executionID, "taskId", taskID, "error", err)
		}

		state.terminal = true
	}
}

func (r *Runner) cancelInFlight(inFlight map[string]string) {
	for _, itemID := range inFlight {
		r.pool.Cancel(itemID)
	}
}

func (r *Runner) drainResults(results chan taskResult, inFlight map[string]string) {
	deadline := time.After(5 * time.Second)

	for len(inFlight) > 0 {
		select {
		case res := <-results:
			delete(inFlight, res.taskID)
		case <-deadline:
			return
		}
	}
}

func dependenciesSucceeded(g *graph.WorkflowGraph, states map[string]*taskState, taskID string) bool {
	for _, dep := range g.Nodes[taskID].Dependencies {
		if !states[dep].success {
			return false
		}
	}

	return true
}

func allTerminal(states map[string]*taskState) bool {
	for _, state := range states {
		if !state.terminal {
			return false
		}
	}

	return true
}

func retriesLeft(state *taskState) bool {
	if state.task.Retry == nil {
		return false
	}

	return state.attempts < state.task.Retry.MaxAttempts
}

func isTerminalTransition(err error) bool {
	var invalid *lifecycle.InvalidTransitionError

	return errors.As(err, &invalid) && invalid.Reason == lifecycle.ReasonTerminalImmutable
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
