package lifecycle

import (
	"time"

	"github.com/reeflow/reeflow/pkg/models"
)

const entityExecution = "execution"

// ApplyExecution applies an event to an execution and returns the resulting
// execution value. The input is never mutated.
func ApplyExecution(execution *models.Execution, event Event) (*models.Execution, error) {
	if execution.State.IsTerminal() {
		return nil, newInvalidTransition(entityExecution, execution.State, event.Type, ReasonTerminalImmutable)
	}

	now := time.Now().UTC()
	next := *execution

	switch event.Type {
	case ExecutionStarted:
		if execution.State != models.StatePending {
			return nil, newInvalidTransition(entityExecution, execution.State, event.Type, ReasonTransitionNotAllowed)
		}

		next.State = models.StateRunning
		next.Timestamps.StartedAt = &now

	case ExecutionSucceeded:
		if err := requireActive(entityExecution, execution.State, event.Type); err != nil {
			return nil, err
		}

		next.State = models.StateSuccess
		next.ReasonCode = models.ReasonSuccess
		next.Timestamps.EndedAt = &now

	case ExecutionFailed:
		if err := requireActive(entityExecution, execution.State, event.Type); err != nil {
			return nil, err
		}

		next.State = models.StateFailed
		next.ReasonCode = event.ReasonCode
		next.Message = event.Message
		next.Timestamps.EndedAt = &now

	case ExecutionCancelled:
		if err := requireActive(entityExecution, execution.State, event.Type); err != nil {
			return nil, err
		}

		next.State = models.StateCancelled
		next.ReasonCode = event.ReasonCode
		next.Message = event.Message
		next.Timestamps.EndedAt = &now

	case ExecutionTimedOut:
		if err := requireActive(entityExecution, execution.State, event.Type); err != nil {
			return nil, err
		}

		next.State = models.StateFailed
		next.ReasonCode = models.ReasonTimeout
		next.Message = event.Message
		next.Timestamps.EndedAt = &now

	case CancellationRequested:
		// Cancellation is immediate for executions, there is no
		// "cancelling" intermediate state.
		if err := requireActive(entityExecution, execution.State, event.Type); err != nil {
			return nil, err
		}

		next.State = models.StateCancelled
		next.ReasonCode = models.ReasonUserCancelled
		next.Message = event.Message
		next.Timestamps.EndedAt = &now

	default:
		return nil, newInvalidTransition(entityExecution, execution.State, event.Type, ReasonTransitionNotAllowed)
	}

	next.Timestamps.UpdatedAt = now

	return &next, nil
}

// requireActive rejects completion-shaped events unless the entity is in
// RUNNING or WAITING.
func requireActive(entityType string, state models.ExecutionState, event EventType) error {
	if state != models.StateRunning && state != models.StateWaiting {
		return newInvalidTransition(entityType, state, event, ReasonTransitionNotAllowed)
	}

	return nil
}
