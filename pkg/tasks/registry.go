// Package tasks provides the task handler registry and the built-in task
// types. The registry is the worker pool's executor: it routes each work
// item to the handler registered for its task type.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/reeflow/reeflow/pkg/workerpool"
)

// Handler executes one task type. Implementations must honor context
// cancellation.
type Handler interface {
	Type() string
	Execute(ctx context.Context, item *workerpool.WorkItem, logger *slog.Logger) (map[string]any, error)
}

// Registry maps task types to handlers and implements workerpool.Executor.
type Registry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:   logger.With("module", "tasks"),
		handlers: make(map[string]Handler),
	}
}

// NewDefaultRegistry creates a registry with the built-in handlers.
func NewDefaultRegistry(logger *slog.Logger) *Registry {
	registry := NewRegistry(logger)
	registry.Register(NewLogHandler())
	registry.Register(NewHTTPRequestHandler())
	registry.Register(NewSleepHandler())

	return registry
}

func (r *Registry) Register(handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[handler.Type()] = handler
}

func (r *Registry) Handler(taskType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[taskType]

	return handler, ok
}

func (r *Registry) Execute(ctx context.Context, item *workerpool.WorkItem) (map[string]any, error) {
	handler, ok := r.Handler(item.TaskType)
	if !ok {
		return nil, fmt.Errorf("no handler registered for task type %q", item.TaskType)
	}

	logger := r.logger.With(
		"executionId", item.ExecutionID,
		"taskId", item.TaskID,
		"taskType", item.TaskType,
	)

	return handler.Execute(ctx, item, logger)
}
