package models

import "time"

// TaskRun represents one task's execution within an execution. Task runs are
// keyed by the composite (ExecutionID, TaskID).
type TaskRun struct {
	ExecutionID string         `json:"execution_id" validate:"required"`
	TaskID      string         `json:"task_id"      validate:"required"`
	State       ExecutionState `json:"state"        validate:"required"`
	Timestamps  Timestamps     `json:"timestamps"`
	ReasonCode  string         `json:"reason_code,omitempty"`
	Message     string         `json:"message,omitempty"`
	Inputs      map[string]any `json:"inputs,omitempty"`
	Outputs     map[string]any `json:"outputs,omitempty"`
	Error       string         `json:"error,omitempty"`
	DurationMs  int64          `json:"duration_ms,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// NewTaskRun creates a task run in PENDING with creation timestamps set.
func NewTaskRun(executionID, taskID string) *TaskRun {
	now := time.Now().UTC()

	return &TaskRun{
		ExecutionID: executionID,
		TaskID:      taskID,
		State:       StatePending,
		Timestamps: Timestamps{
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

// Attempt represents one retry attempt of a task run. Attempts are
// append-only and numbered from 1.
type Attempt struct {
	ID            string     `json:"id"             validate:"required"`
	ExecutionID   string     `json:"execution_id"   validate:"required"`
	TaskID        string     `json:"task_id"        validate:"required"`
	AttemptNumber int        `json:"attempt_number" validate:"required,min=1"`
	Status        string     `json:"status,omitempty"`
	ResultRef     string     `json:"result_ref,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
}
