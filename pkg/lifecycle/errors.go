package lifecycle

import (
	"fmt"

	"github.com/reeflow/reeflow/pkg/models"
)

// Reasons reported by InvalidTransitionError.
const (
	ReasonTerminalImmutable    = "terminal state is immutable"
	ReasonTransitionNotAllowed = "transition not allowed"
	ReasonWaitingNeedsReason   = "WAITING requires reasonCode"
)

// InvalidTransitionError reports an event that is not legal for the entity's
// current state. It is always returned before any mutation.
type InvalidTransitionError struct {
	EntityType   string
	CurrentState models.ExecutionState
	EventType    EventType
	Reason       string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for %s: event %s in state %s: %s",
		e.EntityType, e.EventType, e.CurrentState, e.Reason)
}

func newInvalidTransition(entityType string, state models.ExecutionState, event EventType, reason string) error {
	return &InvalidTransitionError{
		EntityType:   entityType,
		CurrentState: state,
		EventType:    event,
		Reason:       reason,
	}
}
