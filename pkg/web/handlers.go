// Package web provides the REST API for workflow and execution management.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/reeflow/reeflow/pkg/definition"
	"github.com/reeflow/reeflow/pkg/models"
	"github.com/reeflow/reeflow/pkg/persistence"
	"github.com/reeflow/reeflow/pkg/scheduler"
	"github.com/reeflow/reeflow/pkg/workerpool"
)

// ExecutionStarter launches the asynchronous run of a freshly created
// execution. The engine wires its runner in here.
type ExecutionStarter func(ctx context.Context, workflow *models.WorkflowDefinition, executionID string)

type APIHandlers struct {
	persistence persistence.Persistence
	scheduler   *scheduler.PersistentScheduler
	loader      *definition.Loader
	pool        *workerpool.WorkerPool
	starter     ExecutionStarter
}

func NewAPIHandlers(
	store persistence.Persistence,
	sched *scheduler.PersistentScheduler,
	loader *definition.Loader,
	pool *workerpool.WorkerPool,
	starter ExecutionStarter,
) *APIHandlers {
	return &APIHandlers{
		persistence: store,
		scheduler:   sched,
		loader:      loader,
		pool:        pool,
		starter:     starter,
	}
}

// Register mounts all routes on the app.
func (h *APIHandlers) Register(app *fiber.App) {
	app.Get("/health", h.HealthCheck)
	app.Get("/pool/status", h.PoolStatus)

	app.Get("/workflows", h.GetWorkflows)
	app.Post("/workflows", h.CreateWorkflow)
	app.Get("/workflows/:id", h.GetWorkflow)
	app.Delete("/workflows/:id", h.DeleteWorkflow)
	app.Post("/workflows/:id/executions", h.TriggerExecution)

	app.Get("/executions", h.GetExecutions)
	app.Get("/executions/:id", h.GetExecution)
	app.Post("/executions/:id/cancel", h.CancelExecution)
	app.Get("/executions/:id/task-runs", h.GetTaskRuns)
	app.Get("/executions/:id/task-runs/:taskId/attempts", h.GetAttempts)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.persistence.WorkflowRepository().GetAll(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"workflows": workflows, "total_count": len(workflows)})
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	workflow, err := h.loader.Parse(c.Body())
	if err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.loader.Register(c.Context(), workflow); err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(workflow)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.persistence.WorkflowRepository().GetByID(c.Context(), id)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	if err := h.persistence.WorkflowRepository().Delete(c.Context(), id); err != nil {
		return handleError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// TriggerExecution creates an execution of the workflow and hands it to the
// engine. The response carries the PENDING execution; the run proceeds
// asynchronously.
func (h *APIHandlers) TriggerExecution(c fiber.Ctx) error {
	workflowID := c.Params("id")
	if workflowID == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req TriggerExecutionRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	workflow, err := h.persistence.WorkflowRepository().GetByID(c.Context(), workflowID)
	if err != nil {
		return handleError(c, err)
	}

	executionID := req.ExecutionID
	if executionID == "" {
		executionID = uuid.New().String()
	}

	triggerType := req.TriggerType
	if triggerType == "" {
		triggerType = "api"
	}

	execution, err := h.scheduler.CreateExecution(c.Context(), workflow, executionID, triggerType)
	if err != nil {
		return handleError(c, err)
	}

	if h.starter != nil {
		h.starter(context.WithoutCancel(c.Context()), workflow, executionID)
	}

	return c.Status(fiber.StatusAccepted).JSON(execution)
}

func (h *APIHandlers) GetExecutions(c fiber.Ctx) error {
	var (
		executions []*models.Execution
		err        error
	)

	if workflowID := c.Query("workflow_id"); workflowID != "" {
		executions, err = h.persistence.ExecutionRepository().GetByWorkflow(c.Context(), workflowID)
	} else {
		executions, err = h.persistence.ExecutionRepository().GetAll(c.Context())
	}

	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"executions": executions, "total_count": len(executions)})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	execution, err := h.persistence.ExecutionRepository().GetByID(c.Context(), id)
	if err != nil {
		return handleError(c, err)
	}

	runs, err := h.persistence.TaskRunRepository().GetByExecution(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"execution": execution, "task_runs": runs})
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	var req CancelExecutionRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	message := req.Message
	if message == "" {
		message = "Cancelled via API"
	}

	execution, err := h.scheduler.CancelExecution(c.Context(), id, message)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) GetTaskRuns(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	if _, err := h.persistence.ExecutionRepository().GetByID(c.Context(), id); err != nil {
		return handleError(c, err)
	}

	runs, err := h.persistence.TaskRunRepository().GetByExecution(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"task_runs": runs, "total_count": len(runs)})
}

func (h *APIHandlers) GetAttempts(c fiber.Ctx) error {
	executionID := c.Params("id")
	taskID := c.Params("taskId")

	if executionID == "" || taskID == "" {
		return badRequest(c, "Execution ID and task ID are required")
	}

	if _, err := h.persistence.TaskRunRepository().Get(c.Context(), executionID, taskID); err != nil {
		return handleError(c, err)
	}

	attempts, err := h.persistence.AttemptRepository().GetByTaskRun(c.Context(), executionID, taskID)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"attempts": attempts, "total_count": len(attempts)})
}

// PoolStatus reports worker pool occupancy. It is absent on API-only
// deployments.
func (h *APIHandlers) PoolStatus(c fiber.Ctx) error {
	if h.pool == nil {
		return notFound(c, "No worker pool on this node")
	}

	return c.JSON(h.pool.Status())
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	err := h.persistence.HealthCheck(c.Context())

	status := "healthy"
	message := "Reeflow API is healthy"
	httpStatus := http.StatusOK

	if err != nil {
		status = "unhealthy"
		message = "Reeflow API is unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"timestamp": time.Now().UTC(),
	})
}
