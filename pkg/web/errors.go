package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
	"github.com/reeflow/reeflow/pkg/graph"
	"github.com/reeflow/reeflow/pkg/lifecycle"
	"github.com/reeflow/reeflow/pkg/persistence"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleError maps domain errors to problem responses.
func handleError(c fiber.Ctx, err error) error {
	var (
		invalidTransition *lifecycle.InvalidTransitionError
		graphError        *graph.GraphValidationError
	)

	switch {
	case errors.As(err, &invalidTransition):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("invalid_transition").
			WithDetail(invalidTransition.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case errors.As(err, &graphError):
		problem := problems.NewStatusProblem(400).
			WithInstance(c.Path()).
			WithType("invalid_workflow").
			WithDetail(graphError.Message)

		return c.Status(fiber.StatusBadRequest).JSON(problem)

	case errors.Is(err, persistence.ErrExecutionAlreadyExists):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("execution_already_exists").
			WithDetail("execution already exists")

		return c.Status(fiber.StatusConflict).JSON(problem)

	case persistence.IsWorkflowNotFound(err):
		problem := problems.NewStatusProblem(404).
			WithInstance(c.Path()).
			WithType("workflow_not_found").
			WithDetail("workflow not found")

		return c.Status(fiber.StatusNotFound).JSON(problem)

	case persistence.IsExecutionNotFound(err):
		problem := problems.NewStatusProblem(404).
			WithInstance(c.Path()).
			WithType("execution_not_found").
			WithDetail("execution not found")

		return c.Status(fiber.StatusNotFound).JSON(problem)

	case persistence.IsTaskRunNotFound(err):
		problem := problems.NewStatusProblem(404).
			WithInstance(c.Path()).
			WithType("task_run_not_found").
			WithDetail("task run not found")

		return c.Status(fiber.StatusNotFound).JSON(problem)

	default:
		return internalError(c, err)
	}
}
