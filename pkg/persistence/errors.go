// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow definition was not found.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrExecutionNotFound indicates an execution was not found by id.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrTaskRunNotFound indicates a task run was not found by its
	// composite (executionID, taskID) key.
	ErrTaskRunNotFound = errors.New("task run not found")

	// ErrExecutionAlreadyExists indicates an execution with the same id
	// already exists.
	ErrExecutionAlreadyExists = errors.New("execution already exists")

	// ErrAttemptAlreadyExists indicates an attempt with the same
	// (executionID, taskID, attemptNumber) already exists.
	ErrAttemptAlreadyExists = errors.New("attempt already exists")

	// ErrAttemptNotFound indicates an attempt was not found by id.
	ErrAttemptNotFound = errors.New("attempt not found")
)

// ExecutionError wraps execution-related errors with additional context.
type ExecutionError struct {
	Op          string // Operation being performed (e.g., "GetByID", "Save")
	ExecutionID string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewExecutionError creates a new execution error with context.
func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{Op: op, ExecutionID: executionID, Err: err}
}

// TaskRunError wraps task-run-related errors with additional context.
type TaskRunError struct {
	Op          string
	ExecutionID string
	TaskID      string
	Err         error
}

func (e *TaskRunError) Error() string {
	return fmt.Sprintf("%s operation failed for task run %s/%s: %v", e.Op, e.ExecutionID, e.TaskID, e.Err)
}

func (e *TaskRunError) Unwrap() error {
	return e.Err
}

func (e *TaskRunError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewTaskRunError creates a new task run error with context.
func NewTaskRunError(op, executionID, taskID string, err error) *TaskRunError {
	return &TaskRunError{Op: op, ExecutionID: executionID, TaskID: taskID, Err: err}
}

// IsExecutionNotFound checks if the error indicates a missing execution.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsTaskRunNotFound checks if the error indicates a missing task run.
func IsTaskRunNotFound(err error) bool {
	return errors.Is(err, ErrTaskRunNotFound)
}

// IsWorkflowNotFound checks if the error indicates a missing workflow.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}
