// Package audit emits the log lines and audit events that accompany
// lifecycle transitions. Emission is strictly best-effort: a failing sink is
// logged locally and never surfaces to the caller.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/reeflow/reeflow/pkg/eventbus"
	"github.com/reeflow/reeflow/pkg/events"
	"github.com/reeflow/reeflow/pkg/models"
)

// Trail writes structured log lines and publishes audit events. The event
// bus is optional; with a nil bus only log lines are produced.
type Trail struct {
	logger *slog.Logger
	bus    eventbus.EventBus
}

// NewTrail creates an audit trail. bus may be nil.
func NewTrail(logger *slog.Logger, bus eventbus.EventBus) *Trail {
	return &Trail{
		logger: logger.With("source", "audit"),
		bus:    bus,
	}
}

// LogEntry is one structured audit log line.
type LogEntry struct {
	ExecutionID string
	TaskID      string
	Level       slog.Level
	Message     string
	Metadata    map[string]any
}

// Log writes an audit log line.
func (t *Trail) Log(ctx context.Context, entry LogEntry) {
	attrs := []any{"executionId", entry.ExecutionID}

	if entry.TaskID != "" {
		attrs = append(attrs, "taskId", entry.TaskID)
	}

	for key, value := range entry.Metadata {
		attrs = append(attrs, key, value)
	}

	t.logger.Log(ctx, entry.Level, entry.Message, attrs...)
}

func (t *Trail) base(eventType events.EventType, execution *models.Execution) events.BaseEvent {
	return events.BaseEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		WorkflowID:  execution.WorkflowID,
		ExecutionID: execution.ID,
	}
}

func (t *Trail) publish(ctx context.Context, key string, event eventbus.Event) {
	if t.bus == nil {
		return
	}

	if err := t.bus.Publish(ctx, key, event); err != nil {
		t.logger.WarnContext(ctx, "Failed to publish audit event",
			"eventType", event.GetType(), "error", err)
	}
}

func (t *Trail) EmitCreated(ctx context.Context, execution *models.Execution) {
	event := events.ExecutionCreated{
		BaseEvent:   t.base(events.ExecutionCreatedEvent, execution),
		TriggerType: execution.TriggerType,
	}
	t.publish(ctx, execution.ID, event)
}

func (t *Trail) EmitStarted(ctx context.Context, execution *models.Execution) {
	t.publish(ctx, execution.ID, events.ExecutionStarted{
		BaseEvent: t.base(events.ExecutionStartedEvent, execution),
	})
}

func (t *Trail) EmitStateChange(ctx context.Context, execution *models.Execution, from, to models.ExecutionState) {
	t.publish(ctx, execution.ID, events.ExecutionStateChange{
		BaseEvent: t.base(events.ExecutionStateChangeEvent, execution),
		FromState: from,
		ToState:   to,
	})
}

func (t *Trail) EmitCompleted(ctx context.Context, execution *models.Execution, duration time.Duration) {
	t.publish(ctx, execution.ID, events.ExecutionCompleted{
		BaseEvent: t.base(events.ExecutionCompletedEvent, execution),
		Duration:  duration,
	})
}

func (t *Trail) EmitFailed(ctx context.Context, execution *models.Execution) {
	t.publish(ctx, execution.ID, events.ExecutionFailed{
		BaseEvent:  t.base(events.ExecutionFailedEvent, execution),
		ReasonCode: execution.ReasonCode,
		Message:    execution.Message,
	})
}

func (t *Trail) EmitCancelled(ctx context.Context, execution *models.Execution) {
	t.publish(ctx, execution.ID, events.ExecutionCancelled{
		BaseEvent:  t.base(events.ExecutionCancelledEvent, execution),
		ReasonCode: execution.ReasonCode,
	})
}

func (t *Trail) EmitTimeout(ctx context.Context, execution *models.Execution, durationMs int64) {
	t.publish(ctx, execution.ID, events.ExecutionTimeout{
		BaseEvent:  t.base(events.ExecutionTimeoutEvent, execution),
		DurationMs: durationMs,
	})
}

func (t *Trail) taskBase(eventType events.EventType, run *models.TaskRun) events.BaseEvent {
	return events.BaseEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		ExecutionID: run.ExecutionID,
	}
}

func (t *Trail) EmitTaskStateChange(ctx context.Context, run *models.TaskRun, from, to models.ExecutionState) {
	t.publish(ctx, run.ExecutionID, events.TaskRunStateChange{
		BaseEvent: t.taskBase(events.TaskRunStateChangeEvent, run),
		TaskID:    run.TaskID,
		FromState: from,
		ToState:   to,
	})
}

func (t *Trail) EmitTaskCompleted(ctx context.Context, run *models.TaskRun, duration time.Duration) {
	t.publish(ctx, run.ExecutionID, events.TaskRunCompleted{
		BaseEvent: t.taskBase(events.TaskRunCompletedEvent, run),
		TaskID:    run.TaskID,
		Duration:  duration,
	})
}

func (t *Trail) EmitTaskFailed(ctx context.Context, run *models.TaskRun) {
	t.publish(ctx, run.ExecutionID, events.TaskRunFailed{
		BaseEvent:  t.taskBase(events.TaskRunFailedEvent, run),
		TaskID:     run.TaskID,
		ReasonCode: run.ReasonCode,
		Message:    run.Message,
	})
}

func (t *Trail) EmitTaskCancelled(ctx context.Context, run *models.TaskRun) {
	t.publish(ctx, run.ExecutionID, events.TaskRunCancelled{
		BaseEvent:  t.taskBase(events.TaskRunCancelledEvent, run),
		TaskID:     run.TaskID,
		ReasonCode: run.ReasonCode,
	})
}
