// Package scheduler owns every lifecycle transition of executions and task
// runs. All writes follow the same shape: load the current row, apply the
// transition through the state machine, persist the result, then emit audit
// output. Audit and metrics failures never fail the transition.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/reeflow/reeflow/pkg/audit"
	"github.com/reeflow/reeflow/pkg/lifecycle"
	"github.com/reeflow/reeflow/pkg/metrics"
	"github.com/reeflow/reeflow/pkg/models"
	"github.com/reeflow/reeflow/pkg/persistence"
)

// PersistentScheduler drives execution and task-run state through the
// persistence layer. It assumes a single logical writer per execution.
type PersistentScheduler struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	trail       *audit.Trail
	collector   metrics.Collector
}

func NewPersistentScheduler(
	logger *slog.Logger,
	store persistence.Persistence,
	trail *audit.Trail,
	collector metrics.Collector,
) *PersistentScheduler {
	return &PersistentScheduler{
		logger:      logger.With("module", "scheduler"),
		persistence: store,
		trail:       trail,
		collector:   collector,
	}
}

func (s *PersistentScheduler) countTransition(ctx context.Context, executionID string) {
	if err := s.collector.IncrTransitions(ctx, executionID); err != nil {
		s.logger.WarnContext(ctx, "Failed to count transition", "executionId", executionID, "error", err)
	}
}

func (s *PersistentScheduler) countEvent(ctx context.Context, executionID string) {
	if err := s.collector.IncrEvents(ctx, executionID); err != nil {
		s.logger.WarnContext(ctx, "Failed to count event", "executionId", executionID, "error", err)
	}
}

func (s *PersistentScheduler) countTerminalTaskRun(ctx context.Context, executionID string) {
	if err := s.collector.IncrTaskRuns(ctx, executionID); err != nil {
		s.logger.WarnContext(ctx, "Failed to count task run", "executionId", executionID, "error", err)
	}
}

// CreateExecution persists a new execution in PENDING together with one
// PENDING task run per workflow task.
func (s *PersistentScheduler) CreateExecution(
	ctx context.Context,
	workflow *models.WorkflowDefinition,
	executionID, triggerType string,
) (*models.Execution, error) {
	if existing, err := s.persistence.ExecutionRepository().GetByID(ctx, executionID); err == nil && existing != nil {
		return nil, persistence.NewExecutionError("create", executionID, persistence.ErrExecutionAlreadyExists)
	} else if err != nil && !persistence.IsExecutionNotFound(err) {
		return nil, err
	}

	execution := models.NewExecution(workflow.ID, executionID, triggerType)

	runs := make([]*models.TaskRun, 0, len(workflow.Tasks))
	for _, task := range workflow.Tasks {
		runs = append(runs, models.NewTaskRun(executionID, task.ID))
	}

	if err := s.persistence.ExecutionRepository().SaveWithTaskRuns(ctx, execution, runs); err != nil {
		return nil, persistence.NewExecutionError("create", executionID, err)
	}

	s.trail.Log(ctx, audit.LogEntry{
		ExecutionID: executionID,
		Level:       slog.LevelInfo,
		Message:     "Execution created",
		Metadata:    map[string]any{"workflowId": workflow.ID, "taskCount": len(runs)},
	})
	s.trail.EmitCreated(ctx, execution)
	s.countEvent(ctx, executionID)

	return execution, nil
}

// StartExecution moves a PENDING execution to RUNNING.
func (s *PersistentScheduler) StartExecution(ctx context.Context, executionID string) (*models.Execution, error) {
	execution, err := s.persistence.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if execution.State != models.StatePending {
		return nil, fmt.Errorf("cannot start execution %s in state %s", executionID, execution.State)
	}

	return s.applyExecution(ctx, executionID, lifecycle.Event{Type: lifecycle.ExecutionStarted})
}

// CompleteExecution applies a terminal outcome (success or failure) to an
// execution. On success the execution's log-volume counters and duration are
// folded into its metadata before the final write.
func (s *PersistentScheduler) CompleteExecution(
	ctx context.Context,
	executionID string,
	event lifecycle.Event,
) (*models.Execution, error) {
	execution, err := s.persistence.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	previous := execution.State

	next, err := lifecycle.ApplyExecution(execution, event)
	if err != nil {
		return nil, err
	}

	snapshot, metricsErr := s.collector.Snapshot(ctx, executionID)
	if metricsErr != nil {
		s.logger.WarnContext(ctx, "Failed to snapshot log metrics", "executionId", executionID, "error", metricsErr)
	}

	if next.Metadata == nil {
		next.Metadata = make(map[string]any)
	}

	next.Metadata["logMetrics"] = snapshot.Map()
	next.Metadata["durationMs"] = next.Duration().Milliseconds()

	if err := s.persistence.ExecutionRepository().Save(ctx, next); err != nil {
		return nil, persistence.NewExecutionError("complete", executionID, err)
	}

	s.countTransition(ctx, executionID)
	s.emitExecutionOutcome(ctx, next, previous)

	if err := s.collector.Reset(ctx, executionID); err != nil {
		s.logger.WarnContext(ctx, "Failed to reset log metrics", "executionId", executionID, "error", err)
	}

	return next, nil
}

// CancelExecution cancels an execution and cascades the cancellation to its
// non-terminal task runs. Cancelling an already-terminal execution is a
// no-op: it returns the stored execution unchanged.
func (s *PersistentScheduler) CancelExecution(ctx context.Context, executionID, message string) (*models.Execution, error) {
	execution, err := s.persistence.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if execution.State.IsTerminal() {
		return execution, nil
	}

	previous := execution.State

	next, err := lifecycle.ApplyExecution(execution, lifecycle.Event{
		Type:    lifecycle.CancellationRequested,
		Message: message,
	})
	if err != nil {
		return nil, err
	}

	openRuns, err := s.persistence.TaskRunRepository().GetByExecutionAndState(ctx, executionID,
		[]models.ExecutionState{models.StatePending, models.StateRunning, models.StateWaiting})
	if err != nil {
		return nil, err
	}

	cancelledRuns := make([]*models.TaskRun, 0, len(openRuns))
	previousRunStates := make([]models.ExecutionState, 0, len(openRuns))

	for _, run := range openRuns {
		cancelled, applyErr := lifecycle.ApplyTaskRun(run, lifecycle.Event{
			Type:       lifecycle.TaskCancelled,
			ReasonCode: models.ReasonUserCancelled,
			Message:    "Execution cancelled",
		})
		if applyErr != nil {
			return nil, applyErr
		}

		cancelledRuns = append(cancelledRuns, cancelled)
		previousRunStates = append(previousRunStates, run.State)
	}

	err = s.persistence.Transaction(ctx, func(tx persistence.Persistence) error {
		for _, run := range cancelledRuns {
			if saveErr := tx.TaskRunRepository().Save(ctx, run); saveErr != nil {
				return saveErr
			}
		}

		return tx.ExecutionRepository().Save(ctx, next)
	})
	if err != nil {
		return nil, persistence.NewExecutionError("cancel", executionID, err)
	}

	// Task-run cancellations are announced before the execution's own
	// terminal events.
	for i, run := range cancelledRuns {
		s.countTransition(ctx, executionID)
		s.countTerminalTaskRun(ctx, executionID)
		s.trail.EmitTaskStateChange(ctx, run, previousRunStates[i], run.State)
		s.trail.EmitTaskCancelled(ctx, run)
		s.countEvent(ctx, executionID)
		s.countEvent(ctx, executionID)
	}

	s.countTransition(ctx, executionID)
	s.emitExecutionOutcome(ctx, next, previous)

	return next, nil
}

// TimeoutExecution fails an execution that exceeded its deadline. Timing out
// an already-terminal execution is a no-op.
func (s *PersistentScheduler) TimeoutExecution(ctx context.Context, executionID string, timeoutMs int64) (*models.Execution, error) {
	execution, err := s.persistence.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if execution.State.IsTerminal() {
		return execution, nil
	}

	previous := execution.State

	next, err := lifecycle.ApplyExecution(execution, lifecycle.Event{
		Type:    lifecycle.ExecutionTimedOut,
		Message: fmt.Sprintf("Execution timed out after %dms", timeoutMs),
	})
	if err != nil {
		return nil, err
	}

	if err := s.persistence.ExecutionRepository().Save(ctx, next); err != nil {
		return nil, persistence.NewExecutionError("timeout", executionID, err)
	}

	s.countTransition(ctx, executionID)
	s.trail.EmitStateChange(ctx, next, previous, next.State)
	s.trail.EmitTimeout(ctx, next, timeoutMs)
	s.countEvent(ctx, executionID)
	s.countEvent(ctx, executionID)

	return next, nil
}

func (s *PersistentScheduler) applyExecution(
	ctx context.Context,
	executionID string,
	event lifecycle.Event,
) (*models.Execution, error) {
	execution, err := s.persistence.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	previous := execution.State

	next, err := lifecycle.ApplyExecution(execution, event)
	if err != nil {
		return nil, err
	}

	if err := s.persistence.ExecutionRepository().Save(ctx, next); err != nil {
		return nil, persistence.NewExecutionError("apply", executionID, err)
	}

	s.countTransition(ctx, executionID)

	if event.Type == lifecycle.ExecutionStarted {
		s.trail.Log(ctx, audit.LogEntry{
			ExecutionID: executionID,
			Level:       slog.LevelInfo,
			Message:     "Execution started",
		})
		s.trail.EmitStateChange(ctx, next, previous, next.State)
		s.trail.EmitStarted(ctx, next)
		s.countEvent(ctx, executionID)
		s.countEvent(ctx, executionID)
	}

	return next, nil
}

// emitExecutionOutcome publishes the state-change event followed by the
// outcome-specific event for a terminal transition.
func (s *PersistentScheduler) emitExecutionOutcome(ctx context.Context, execution *models.Execution, previous models.ExecutionState) {
	s.trail.EmitStateChange(ctx, execution, previous, execution.State)
	s.countEvent(ctx, execution.ID)

	switch execution.State {
	case models.StateSuccess:
		s.trail.Log(ctx, audit.LogEntry{
			ExecutionID: execution.ID,
			Level:       slog.LevelInfo,
			Message:     "Execution completed",
			Metadata:    map[string]any{"durationMs": execution.Duration().Milliseconds()},
		})
		s.trail.EmitCompleted(ctx, execution, execution.Duration())

	case models.StateFailed:
		s.trail.Log(ctx, audit.LogEntry{
			ExecutionID: execution.ID,
			Level:       slog.LevelError,
			Message:     "Execution failed",
			Metadata:    map[string]any{"reasonCode": execution.ReasonCode, "message": execution.Message},
		})
		s.trail.EmitFailed(ctx, execution)

	case models.StateCancelled:
		s.trail.Log(ctx, audit.LogEntry{
			ExecutionID: execution.ID,
			Level:       slog.LevelWarn,
			Message:     "Execution cancelled",
			Metadata:    map[string]any{"reasonCode": execution.ReasonCode},
		})
		s.trail.EmitCancelled(ctx, execution)

	case models.StatePending, models.StateRunning, models.StateWaiting:
		// Not a terminal outcome; nothing further to announce.
		return
	}

	s.countEvent(ctx, execution.ID)
}

// GetExecution returns the stored execution.
func (s *PersistentScheduler) GetExecution(ctx context.Context, executionID string) (*models.Execution, error) {
	return s.persistence.ExecutionRepository().GetByID(ctx, executionID)
}

// StartTaskRun moves a task run to RUNNING.
func (s *PersistentScheduler) StartTaskRun(ctx context.Context, executionID, taskID string) (*models.TaskRun, error) {
	return s.applyTaskRun(ctx, executionID, taskID, lifecycle.Event{Type: lifecycle.TaskStarted}, nil)
}

// SucceedTaskRun completes a task run as SUCCESS and records its outputs.
func (s *PersistentScheduler) SucceedTaskRun(
	ctx context.Context,
	executionID, taskID string,
	outputs map[string]any,
) (*models.TaskRun, error) {
	return s.applyTaskRun(ctx, executionID, taskID, lifecycle.Event{Type: lifecycle.TaskSucceeded}, outputs)
}

// CompleteTaskRun applies a terminal outcome to a task run.
func (s *PersistentScheduler) CompleteTaskRun(
	ctx context.Context,
	executionID, taskID string,
	event lifecycle.Event,
) (*models.TaskRun, error) {
	return s.applyTaskRun(ctx, executionID, taskID, event, nil)
}

// CancelTaskRun cancels a single task run. Cancelling an already-terminal
// run is a no-op.
func (s *PersistentScheduler) CancelTaskRun(ctx context.Context, executionID, taskID, reasonCode, message string) (*models.TaskRun, error) {
	run, err := s.persistence.TaskRunRepository().Get(ctx, executionID, taskID)
	if err != nil {
		return nil, err
	}

	if run.State.IsTerminal() {
		return run, nil
	}

	return s.applyTaskRun(ctx, executionID, taskID, lifecycle.Event{
		Type:       lifecycle.TaskCancelled,
		ReasonCode: reasonCode,
		Message:    message,
	}, nil)
}

// MarkTaskRunWaiting parks a task run in WAITING with a mandatory reason.
func (s *PersistentScheduler) MarkTaskRunWaiting(ctx context.Context, executionID, taskID, reasonCode, message string) (*models.TaskRun, error) {
	return s.applyTaskRun(ctx, executionID, taskID, lifecycle.Event{
		Type:       lifecycle.TaskWaiting,
		ReasonCode: reasonCode,
		Message:    message,
	}, nil)
}

func (s *PersistentScheduler) applyTaskRun(
	ctx context.Context,
	executionID, taskID string,
	event lifecycle.Event,
	outputs map[string]any,
) (*models.TaskRun, error) {
	run, err := s.persistence.TaskRunRepository().Get(ctx, executionID, taskID)
	if err != nil {
		return nil, err
	}

	previous := run.State

	next, err := lifecycle.ApplyTaskRun(run, event)
	if err != nil {
		return nil, err
	}

	if outputs != nil {
		next.Outputs = outputs
	}

	if event.Type == lifecycle.TaskFailed || event.Type == lifecycle.TaskTimedOut {
		next.Error = event.Message
	}

	if next.Timestamps.EndedAt != nil && next.Timestamps.StartedAt != nil {
		next.DurationMs = next.Timestamps.EndedAt.Sub(*next.Timestamps.StartedAt).Milliseconds()
	}

	if err := s.persistence.TaskRunRepository().Save(ctx, next); err != nil {
		return nil, persistence.NewTaskRunError("apply", executionID, taskID, err)
	}

	s.countTransition(ctx, executionID)
	s.emitTaskRunOutcome(ctx, next, previous)

	return next, nil
}

func (s *PersistentScheduler) emitTaskRunOutcome(ctx context.Context, run *models.TaskRun, previous models.ExecutionState) {
	s.trail.EmitTaskStateChange(ctx, run, previous, run.State)
	s.countEvent(ctx, run.ExecutionID)

	switch run.State {
	case models.StateSuccess:
		s.countTerminalTaskRun(ctx, run.ExecutionID)
		s.trail.EmitTaskCompleted(ctx, run, time.Duration(run.DurationMs)*time.Millisecond)

	case models.StateFailed:
		s.countTerminalTaskRun(ctx, run.ExecutionID)
		s.trail.Log(ctx, audit.LogEntry{
			ExecutionID: run.ExecutionID,
			TaskID:      run.TaskID,
			Level:       slog.LevelError,
			Message:     "Task run failed",
			Metadata:    map[string]any{"reasonCode": run.ReasonCode, "message": run.Message},
		})
		s.trail.EmitTaskFailed(ctx, run)

	case models.StateCancelled:
		s.countTerminalTaskRun(ctx, run.ExecutionID)
		s.trail.EmitTaskCancelled(ctx, run)

	case models.StatePending, models.StateRunning, models.StateWaiting:
		return
	}

	s.countEvent(ctx, run.ExecutionID)
}

// RecordAttempt appends a new attempt for a task run and returns it. The
// attempt number is derived from the stored attempt history.
func (s *PersistentScheduler) RecordAttempt(ctx context.Context, executionID, taskID string) (*models.Attempt, error) {
	history, err := s.persistence.AttemptRepository().GetByTaskRun(ctx, executionID, taskID)
	if err != nil {
		return nil, err
	}

	attempt := &models.Attempt{
		ID:            uuid.New().String(),
		ExecutionID:   executionID,
		TaskID:        taskID,
		AttemptNumber: len(history) + 1,
		StartedAt:     time.Now().UTC(),
	}

	if err := s.persistence.AttemptRepository().Append(ctx, attempt); err != nil {
		return nil, err
	}

	return attempt, nil
}

// FinishAttempt stamps the attempt's outcome. Attempt bookkeeping is
// best-effort history, so callers may ignore the error.
func (s *PersistentScheduler) FinishAttempt(ctx context.Context, attempt *models.Attempt, status string) error {
	now := time.Now().UTC()
	attempt.Status = status
	attempt.EndedAt = &now

	return s.persistence.AttemptRepository().Update(ctx, attempt)
}

// RunningTaskRuns reports how many task runs of the execution are RUNNING
// according to the store. The dispatch limiter reads this instead of keeping
// its own counter.
func (s *PersistentScheduler) RunningTaskRuns(ctx context.Context, executionID string) (int, error) {
	return s.persistence.TaskRunRepository().CountByExecutionAndState(ctx, executionID, models.StateRunning)
}
