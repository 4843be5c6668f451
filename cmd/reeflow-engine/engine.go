package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/reeflow/reeflow/pkg/audit"
	"github.com/reeflow/reeflow/pkg/definition"
	"github.com/reeflow/reeflow/pkg/eventbus"
	"github.com/reeflow/reeflow/pkg/metrics"
	"github.com/reeflow/reeflow/pkg/models"
	"github.com/reeflow/reeflow/pkg/persistence"
	"github.com/reeflow/reeflow/pkg/recovery"
	"github.com/reeflow/reeflow/pkg/retention"
	"github.com/reeflow/reeflow/pkg/runner"
	"github.com/reeflow/reeflow/pkg/scheduler"
	"github.com/reeflow/reeflow/pkg/tasks"
	"github.com/reeflow/reeflow/pkg/tracing"
	"github.com/reeflow/reeflow/pkg/web"
	"github.com/reeflow/reeflow/pkg/workerpool"
)

const shutdownGrace = 30 * time.Second

type EngineConfig struct {
	WorkflowsPath      string
	Workers            int
	QueueCapacity      int
	MaxConcurrentTasks int
	Port               int
	RetentionSchedule  string
}

// Engine is the single-node orchestrator: worker pool, runner, recovery
// pass, retention janitor and the HTTP API in one process.
type Engine struct {
	id        string
	logger    *slog.Logger
	store     persistence.Persistence
	scheduler *scheduler.PersistentScheduler
	loader    *definition.Loader
	pool      *workerpool.WorkerPool
	runner    *runner.Runner
	janitor   *retention.Janitor
	config    EngineConfig
}

func NewEngine(
	id string,
	logger *slog.Logger,
	store persistence.Persistence,
	bus eventbus.EventBus,
	collector metrics.Collector,
	config EngineConfig,
) *Engine {
	trail := audit.NewTrail(logger, bus)
	sched := scheduler.NewPersistentScheduler(logger, store, trail, collector)
	registry := tasks.NewDefaultRegistry(logger)
	pool := workerpool.NewWorkerPool(logger, registry, config.Workers, config.QueueCapacity)

	return &Engine{
		id:        id,
		logger:    logger,
		store:     store,
		scheduler: sched,
		loader:    definition.NewLoader(logger, store),
		pool:      pool,
		runner: runner.NewRunner(logger, sched, pool, runner.Config{
			MaxConcurrentPerExecution: config.MaxConcurrentTasks,
		}),
		janitor: retention.NewJanitor(logger, store, retention.Config{
			Schedule: config.RetentionSchedule,
		}),
		config: config,
	}
}

// Run brings the engine up, serves until a signal arrives, then shuts down
// gracefully.
func (e *Engine) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		if _, err := tracing.NewTracer(ctx, "reeflow-engine"); err != nil {
			return fmt.Errorf("tracer setup failed: %w", err)
		}
	}

	if e.config.WorkflowsPath != "" {
		loaded, err := e.loader.LoadDirectory(ctx, e.config.WorkflowsPath)
		if err != nil {
			return err
		}

		e.logger.InfoContext(ctx, "Workflow definitions loaded", "count", loaded)
	}

	// Crashed executions are settled before any new work is accepted.
	reconciler := recovery.NewReconciler(e.logger, e.store, e.scheduler)

	result, err := reconciler.Run(ctx)
	if err != nil {
		return fmt.Errorf("recovery pass failed: %w", err)
	}

	e.pool.Start(ctx)

	for _, execution := range e.requeueable(ctx, result) {
		e.startRun(ctx, execution)
	}

	if err := e.janitor.Start(ctx); err != nil {
		return err
	}
	defer e.janitor.Stop()

	app := fiber.New(fiber.Config{AppName: "reeflow-engine"})

	handlers := web.NewAPIHandlers(e.store, e.scheduler, e.loader, e.pool,
		func(runCtx context.Context, workflow *models.WorkflowDefinition, executionID string) {
			go func() {
				if err := e.runner.Run(runCtx, workflow, executionID); err != nil {
					e.logger.Error("Run ended with error", "executionId", executionID, "error", err)
				}
			}()
		})
	handlers.Register(app)

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- app.Listen(fmt.Sprintf(":%d", e.config.Port))
	}()

	e.logger.InfoContext(ctx, "Engine ready", "port", e.config.Port)

	select {
	case err := <-serveErr:
		e.pool.ForceShutdown()

		return err
	case <-ctx.Done():
	}

	e.logger.Info("Shutting down")
	e.pool.GracefulShutdown(shutdownGrace)

	return app.Shutdown()
}

// requeueable resolves the executions the recovery pass reported as eligible
// and re-launches the PENDING ones. WAITING executions stay parked until
// whatever they wait on releases them.
func (e *Engine) requeueable(ctx context.Context, result *recovery.Result) []*models.Execution {
	if result.RequeuedExecutions == 0 {
		return nil
	}

	pending, err := e.store.ExecutionRepository().PendingExecutions(ctx)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to list requeueable executions", "error", err)

		return nil
	}

	out := make([]*models.Execution, 0, len(pending))

	for _, execution := range pending {
		if execution.State == models.StatePending {
			out = append(out, execution)
		}
	}

	return out
}

func (e *Engine) startRun(ctx context.Context, execution *models.Execution) {
	workflow, err := e.store.WorkflowRepository().GetByID(ctx, execution.WorkflowID)
	if err != nil {
		e.logger.ErrorContext(ctx, "Cannot requeue execution, workflow missing",
			"executionId", execution.ID, "workflowId", execution.WorkflowID, "error", err)

		return
	}

	e.logger.InfoContext(ctx, "Requeuing execution", "executionId", execution.ID)

	go func() {
		if err := e.runner.Run(ctx, workflow, execution.ID); err != nil {
			e.logger.Error("Requeued run ended with error", "executionId", execution.ID, "error", err)
		}
	}()
}
