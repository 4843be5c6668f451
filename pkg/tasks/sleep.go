package tasks

import (
	"context"
	"log/slog"
	"time"

	"github.com/reeflow/reeflow/pkg/workerpool"
)

// SleepHandler waits for the configured duration. It exists for workflow
// testing and for pacing between tasks.
type SleepHandler struct{}

func NewSleepHandler() *SleepHandler {
	return &SleepHandler{}
}

func (*SleepHandler) Type() string {
	return "sleep"
}

func (*SleepHandler) Execute(ctx context.Context, item *workerpool.WorkItem, _ *slog.Logger) (map[string]any, error) {
	durationMs, _ := item.Payload["duration_ms"].(float64)
	duration := time.Duration(durationMs) * time.Millisecond

	select {
	case <-time.After(duration):
		return map[string]any{"slept_ms": int64(durationMs)}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
