// Package models defines the core domain models for workflow orchestration.
package models

import "time"

// ExecutionState represents the lifecycle state of an execution or task run.
// Executions and task runs share the same state set.
type ExecutionState string

const (
	StatePending   ExecutionState = "PENDING"
	StateRunning   ExecutionState = "RUNNING"
	StateWaiting   ExecutionState = "WAITING"
	StateSuccess   ExecutionState = "SUCCESS"
	StateFailed    ExecutionState = "FAILED"
	StateCancelled ExecutionState = "CANCELLED"
)

// IsTerminal reports whether the state is final. Terminal entities are
// immutable: no transition may be applied to them.
func (s ExecutionState) IsTerminal() bool {
	switch s {
	case StateSuccess, StateFailed, StateCancelled:
		return true
	case StatePending, StateRunning, StateWaiting:
		return false
	}

	return false
}

// Well-known reason codes attached to terminal and waiting transitions.
const (
	ReasonSuccess          = "SUCCESS"
	ReasonTimeout          = "TIMEOUT"
	ReasonUserCancelled    = "USER_CANCELLED"
	ReasonCrashRecovery    = "CRASH_RECOVERY"
	ReasonDependencyFailed = "DEPENDENCY_FAILED"
	ReasonBackoff          = "BACKOFF"
)

// Timestamps records the lifecycle timestamps of an execution or task run.
// StartedAt is set when the entity leaves PENDING; EndedAt when it reaches a
// terminal state.
type Timestamps struct {
	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Execution represents one run of a workflow.
type Execution struct {
	ID          string         `json:"id"           validate:"required"`
	WorkflowID  string         `json:"workflow_id"  validate:"required"`
	State       ExecutionState `json:"state"        validate:"required"`
	TriggerType string         `json:"trigger_type,omitempty"`
	Timestamps  Timestamps     `json:"timestamps"`
	ReasonCode  string         `json:"reason_code,omitempty"`
	Message     string         `json:"message,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// NewExecution creates an execution in PENDING with creation timestamps set.
func NewExecution(workflowID, executionID, triggerType string) *Execution {
	now := time.Now().UTC()

	return &Execution{
		ID:          executionID,
		WorkflowID:  workflowID,
		State:       StatePending,
		TriggerType: triggerType,
		Timestamps: Timestamps{
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

// Duration returns the wall time from start (or creation, when the execution
// never started) until end, or until now for a live execution.
func (e *Execution) Duration() time.Duration {
	from := e.Timestamps.CreatedAt
	if e.Timestamps.StartedAt != nil {
		from = *e.Timestamps.StartedAt
	}

	to := time.Now().UTC()
	if e.Timestamps.EndedAt != nil {
		to = *e.Timestamps.EndedAt
	}

	return to.Sub(from)
}
