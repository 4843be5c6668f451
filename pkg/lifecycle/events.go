// Package lifecycle implements the execution and task-run state machines.
//
// Transitions are pure: given an entity and an event they return a new
// entity value or an *InvalidTransitionError. Persisting the result is the
// caller's job.
package lifecycle

// EventType identifies a state machine event.
type EventType string

const (
	ExecutionStarted      EventType = "EXECUTION_STARTED"
	ExecutionSucceeded    EventType = "EXECUTION_SUCCEEDED"
	ExecutionFailed       EventType = "EXECUTION_FAILED"
	ExecutionCancelled    EventType = "EXECUTION_CANCELLED"
	ExecutionTimedOut     EventType = "EXECUTION_TIMED_OUT"
	CancellationRequested EventType = "CANCELLATION_REQUESTED"

	TaskStarted   EventType = "TASK_STARTED"
	TaskSucceeded EventType = "TASK_SUCCEEDED"
	TaskFailed    EventType = "TASK_FAILED"
	TaskCancelled EventType = "TASK_CANCELLED"
	TaskTimedOut  EventType = "TASK_TIMED_OUT"
	TaskWaiting   EventType = "TASK_WAITING"
)

// Event carries an event type plus the optional reason attached to terminal
// and waiting transitions.
type Event struct {
	Type       EventType
	ReasonCode string
	Message    string
}
