// Package events defines the audit event types emitted on execution and
// task-run lifecycle transitions.
package events

import (
	"time"

	"github.com/reeflow/reeflow/pkg/models"
)

type EventType string

// Topic carries all audit events.
const Topic = "reeflow.audit"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Execution lifecycle events.
	ExecutionCreatedEvent     EventType = "execution.created"
	ExecutionStartedEvent     EventType = "execution.started"
	ExecutionStateChangeEvent EventType = "execution.state_change"
	ExecutionCompletedEvent   EventType = "execution.completed"
	ExecutionFailedEvent      EventType = "execution.failed"
	ExecutionCancelledEvent   EventType = "execution.cancelled"
	ExecutionTimeoutEvent     EventType = "execution.timeout"

	// Task-run lifecycle events.
	TaskRunStateChangeEvent EventType = "taskrun.state_change"
	TaskRunCompletedEvent   EventType = "taskrun.completed"
	TaskRunFailedEvent      EventType = "taskrun.failed"
	TaskRunCancelledEvent   EventType = "taskrun.cancelled"
)

type BaseEvent struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	WorkflowID  string         `json:"workflow_id,omitempty"`
	ExecutionID string         `json:"execution_id"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type ExecutionCreated struct {
	BaseEvent

	TriggerType string `json:"trigger_type,omitempty"`
}

func (e ExecutionCreated) GetType() EventType {
	return ExecutionCreatedEvent
}

type ExecutionStarted struct {
	BaseEvent
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

// ExecutionStateChange records a single state machine transition. One is
// emitted before the terminal event on completion paths.
type ExecutionStateChange struct {
	BaseEvent

	FromState models.ExecutionState `json:"from_state"`
	ToState   models.ExecutionState `json:"to_state"`
}

func (e ExecutionStateChange) GetType() EventType {
	return ExecutionStateChangeEvent
}

type ExecutionCompleted struct {
	BaseEvent

	Duration time.Duration `json:"duration"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	ReasonCode string `json:"reason_code"`
	Message    string `json:"message,omitempty"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionCancelled struct {
	BaseEvent

	ReasonCode string `json:"reason_code"`
}

func (e ExecutionCancelled) GetType() EventType {
	return ExecutionCancelledEvent
}

type ExecutionTimeout struct {
	BaseEvent

	DurationMs int64 `json:"duration_ms"`
}

func (e ExecutionTimeout) GetType() EventType {
	return ExecutionTimeoutEvent
}

type TaskRunStateChange struct {
	BaseEvent

	TaskID    string                `json:"task_id"`
	FromState models.ExecutionState `json:"from_state"`
	ToState   models.ExecutionState `json:"to_state"`
}

func (e TaskRunStateChange) GetType() EventType {
	return TaskRunStateChangeEvent
}

type TaskRunCompleted struct {
	BaseEvent

	TaskID   string        `json:"task_id"`
	Duration time.Duration `json:"duration"`
}

func (e TaskRunCompleted) GetType() EventType {
	return TaskRunCompletedEvent
}

type TaskRunFailed struct {
	BaseEvent

	TaskID     string `json:"task_id"`
	ReasonCode string `json:"reason_code"`
	Message    string `json:"message,omitempty"`
}

func (e TaskRunFailed) GetType() EventType {
	return TaskRunFailedEvent
}

type TaskRunCancelled struct {
	BaseEvent

	TaskID     string `json:"task_id"`
	ReasonCode string `json:"reason_code"`
}

func (e TaskRunCancelled) GetType() EventType {
	return TaskRunCancelledEvent
}
