package models

import "time"

// RetryPolicy controls re-execution of a failed task.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts" validate:"min=1"`
	Backoff     time.Duration `json:"backoff,omitempty"`
}

// WorkflowTask is one task in a workflow definition. Needs lists the ids of
// tasks that must succeed before this task becomes runnable.
type WorkflowTask struct {
	ID        string         `json:"id"    validate:"required,min=1"`
	Type      string         `json:"type"  validate:"required"`
	Needs     []string       `json:"needs,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	TimeoutMs int64          `json:"timeout_ms,omitempty"`
	Retry     *RetryPolicy   `json:"retry,omitempty"`
}

// WorkflowDefinition is a declarative workflow: a named set of tasks whose
// Needs edges form a DAG.
type WorkflowDefinition struct {
	ID          string         `json:"id"    validate:"required"`
	Name        string         `json:"name"  validate:"required,min=3"`
	Description string         `json:"description,omitempty"`
	Tasks       []WorkflowTask `json:"tasks" validate:"required,min=1,dive"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
