// Package metrics counts lifecycle activity per execution. Counters feed the
// logMetrics block recorded on execution completion.
package metrics

import "context"

// Collector accumulates per-execution counters. Implementations must be safe
// for concurrent use; recording is best-effort and never blocks a lifecycle
// transition on failure.
type Collector interface {
	// IncrTransitions counts one applied state transition.
	IncrTransitions(ctx context.Context, executionID string) error
	// IncrEvents counts one emitted audit event.
	IncrEvents(ctx context.Context, executionID string) error
	// IncrTaskRuns counts one task run reaching a terminal state.
	IncrTaskRuns(ctx context.Context, executionID string) error
	// Snapshot returns the current counters for an execution. Unknown
	// executions return a zero snapshot, not an error.
	Snapshot(ctx context.Context, executionID string) (LogMetrics, error)
	// Reset discards the counters for an execution.
	Reset(ctx context.Context, executionID string) error
}

// LogMetrics is the counter set attached to a completed execution's metadata.
type LogMetrics struct {
	Transitions int64 `json:"transitions"`
	Events      int64 `json:"events"`
	TaskRuns    int64 `json:"task_runs"`
}

// Map renders the counters as execution metadata.
func (m LogMetrics) Map() map[string]any {
	return map[string]any{
		"transitions": m.Transitions,
		"events":      m.Events,
		"task_runs":   m.TaskRuns,
	}
}
