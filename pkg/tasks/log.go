package tasks

import (
	"context"
	"log/slog"

	"github.com/reeflow/reeflow/pkg/workerpool"
)

// LogHandler writes the task payload to the structured log. Useful for
// debugging workflows and as a placeholder task.
type LogHandler struct{}

func NewLogHandler() *LogHandler {
	return &LogHandler{}
}

func (*LogHandler) Type() string {
	return "log"
}

func (*LogHandler) Execute(ctx context.Context, item *workerpool.WorkItem, logger *slog.Logger) (map[string]any, error) {
	message, _ := item.Payload["message"].(string)
	if message == "" {
		message = "Log task executed"
	}

	logger.InfoContext(ctx, message, "payload", item.Payload)

	return map[string]any{"logged": true}, nil
}
