// Package recovery reconciles persisted execution state after an engine
// restart. Executions that were RUNNING when the previous process died are
// failed with the CRASH_RECOVERY reason; PENDING and WAITING executions are
// reported for requeue but left untouched.
package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/reeflow/reeflow/pkg/lifecycle"
	"github.com/reeflow/reeflow/pkg/models"
	"github.com/reeflow/reeflow/pkg/persistence"
	"github.com/reeflow/reeflow/pkg/scheduler"
)

const crashMessage = "Execution was running during engine crash"

// Result summarizes one recovery pass.
type Result struct {
	FailedExecutions   int
	FailedTaskRuns     int
	RequeuedExecutions int
	Duration           time.Duration
}

// Reconciler performs the startup recovery pass. Running it repeatedly is
// safe: a pass over an already-recovered store changes nothing.
type Reconciler struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	scheduler   *scheduler.PersistentScheduler
}

func NewReconciler(logger *slog.Logger, store persistence.Persistence, sched *scheduler.PersistentScheduler) *Reconciler {
	return &Reconciler{
		logger:      logger.With("module", "recovery"),
		persistence: store,
		scheduler:   sched,
	}
}

// Run executes one recovery pass and returns its summary.
func (r *Reconciler) Run(ctx context.Context) (*Result, error) {
	started := time.Now()
	result := &Result{}

	active, err := r.persistence.ExecutionRepository().ActiveExecutions(ctx)
	if err != nil {
		return nil, err
	}

	for _, execution := range active {
		if err := r.failCrashed(ctx, execution, result); err != nil {
			return nil, err
		}
	}

	pending, err := r.persistence.ExecutionRepository().PendingExecutions(ctx)
	if err != nil {
		return nil, err
	}

	result.RequeuedExecutions = len(pending)

	for _, execution := range pending {
		r.logger.InfoContext(ctx, "Execution eligible for requeue",
			"executionId", execution.ID, "state", execution.State)
	}

	result.Duration = time.Since(started)

	r.logger.InfoContext(ctx, "Recovery pass complete",
		"failedExecutions", result.FailedExecutions,
		"failedTaskRuns", result.FailedTaskRuns,
		"requeuedExecutions", result.RequeuedExecutions,
		"duration", result.Duration)

	return result, nil
}

// failCrashed fails a crashed execution's RUNNING task runs first, then the
// execution itself.
func (r *Reconciler) failCrashed(ctx context.Context, execution *models.Execution, result *Result) error {
	runningRuns, err := r.persistence.TaskRunRepository().GetByExecutionAndState(ctx, execution.ID,
		[]models.ExecutionState{models.StateRunning})
	if err != nil {
		return err
	}

	for _, run := range runningRuns {
		_, err := r.scheduler.CompleteTaskRun(ctx, execution.ID, run.TaskID, lifecycle.Event{
			Type:       lifecycle.TaskFailed,
			ReasonCode: models.ReasonCrashRecovery,
			Message:    crashMessage,
		})
		if err != nil {
			return err
		}

		result.FailedTaskRuns++
	}

	_, err = r.scheduler.CompleteExecution(ctx, execution.ID, lifecycle.Event{
		Type:       lifecycle.ExecutionFailed,
		ReasonCode: models.ReasonCrashRecovery,
		Message:    crashMessage,
	})
	if err != nil {
		return err
	}

	result.FailedExecutions++

	r.logger.WarnContext(ctx, "Failed crashed execution",
		"executionId", execution.ID, "failedTaskRuns", len(runningRuns))

	return nil
}
