package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/reeflow/reeflow/pkg/audit"
	"github.com/reeflow/reeflow/pkg/cmd"
	"github.com/reeflow/reeflow/pkg/definition"
	"github.com/reeflow/reeflow/pkg/log"
	"github.com/reeflow/reeflow/pkg/metrics"
	"github.com/reeflow/reeflow/pkg/scheduler"
	"github.com/reeflow/reeflow/pkg/web"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "reeflow-api",
		EnableShellCompletion: true,
		Usage:                 "Serve the Reeflow management API without an embedded engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL (postgres:// or memory://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.IntFlag{
				Name:    "port",
				Usage:   "HTTP API port",
				Value:   8081,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("reeflow-api")

			logger.InfoContext(ctx, "Initializing Reeflow API")

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "reeflow-api", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			trail := audit.NewTrail(logger, eventBus)
			sched := scheduler.NewPersistentScheduler(logger, store, trail, metrics.NewMemoryCollector())
			loader := definition.NewLoader(logger, store)

			// No pool and no starter: executions created here stay PENDING
			// until an engine node picks them up.
			handlers := web.NewAPIHandlers(store, sched, loader, nil, nil)

			app := fiber.New(fiber.Config{AppName: "reeflow-api"})
			handlers.Register(app)

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			serveErr := make(chan error, 1)

			go func() {
				serveErr <- app.Listen(fmt.Sprintf(":%d", command.Int("port")))
			}()

			select {
			case err := <-serveErr:
				return err
			case <-ctx.Done():
				return app.Shutdown()
			}
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
