package lifecycle

import (
	"time"

	"github.com/reeflow/reeflow/pkg/models"
)

const entityTaskRun = "task_run"

// ApplyTaskRun applies an event to a task run and returns the resulting task
// run value. The input is never mutated.
//
// Task runs differ from executions in three ways: TASK_STARTED is accepted
// from WAITING as well as PENDING, TASK_CANCELLED is accepted from any
// non-terminal state (the execution-level cancel cascade reaches runs that
// never started), and TASK_WAITING parks the run in WAITING with a mandatory
// reason code. TASK_FAILED and TASK_TIMED_OUT require RUNNING or WAITING; a
// pending run must be parked before it can be failed.
func ApplyTaskRun(run *models.TaskRun, event Event) (*models.TaskRun, error) {
	if run.State.IsTerminal() {
		return nil, newInvalidTransition(entityTaskRun, run.State, event.Type, ReasonTerminalImmutable)
	}

	now := time.Now().UTC()
	next := *run

	switch event.Type {
	case TaskStarted:
		if run.State != models.StatePending && run.State != models.StateWaiting {
			return nil, newInvalidTransition(entityTaskRun, run.State, event.Type, ReasonTransitionNotAllowed)
		}

		next.State = models.StateRunning
		if next.Timestamps.StartedAt == nil {
			next.Timestamps.StartedAt = &now
		}

	case TaskSucceeded:
		if err := requireActive(entityTaskRun, run.State, event.Type); err != nil {
			return nil, err
		}

		next.State = models.StateSuccess
		next.ReasonCode = models.ReasonSuccess
		next.Timestamps.EndedAt = &now

	case TaskFailed:
		if err := requireActive(entityTaskRun, run.State, event.Type); err != nil {
			return nil, err
		}

		next.State = models.StateFailed
		next.ReasonCode = event.ReasonCode
		next.Message = event.Message
		next.Timestamps.EndedAt = &now

	case TaskCancelled:
		next.State = models.StateCancelled
		next.ReasonCode = event.ReasonCode
		next.Message = event.Message
		next.Timestamps.EndedAt = &now

	case TaskTimedOut:
		if err := requireActive(entityTaskRun, run.State, event.Type); err != nil {
			return nil, err
		}

		next.State = models.StateFailed
		next.ReasonCode = models.ReasonTimeout
		next.Message = event.Message
		next.Timestamps.EndedAt = &now

	case TaskWaiting:
		if event.ReasonCode == "" {
			return nil, newInvalidTransition(entityTaskRun, run.State, event.Type, ReasonWaitingNeedsReason)
		}

		next.State = models.StateWaiting
		next.ReasonCode = event.ReasonCode
		next.Message = event.Message

	default:
		return nil, newInvalidTransition(entityTaskRun, run.State, event.Type, ReasonTransitionNotAllowed)
	}

	next.Timestamps.UpdatedAt = now

	return &next, nil
}
