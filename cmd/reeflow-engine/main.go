package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/reeflow/reeflow/pkg/cmd"
	"github.com/reeflow/reeflow/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "reeflow-engine",
		EnableShellCompletion: true,
		Usage:                 "Start the Reeflow orchestration engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "engine-id",
				Aliases: []string{"id"},
				Usage:   "Custom engine ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("ENGINE_ID"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL (postgres:// or memory://)",
				Value:   "memory://",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for log-volume counters (in-memory if empty)",
				Value:   "",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "workflows-path",
				Usage:   "Directory of workflow definition files to register on boot",
				Value:   "",
				Sources: cli.EnvVars("WORKFLOWS_PATH"),
			},
			&cli.IntFlag{
				Name:    "workers",
				Usage:   "Worker pool concurrency",
				Value:   4,
				Sources: cli.EnvVars("WORKERS"),
			},
			&cli.IntFlag{
				Name:    "queue-capacity",
				Usage:   "Worker pool queue capacity",
				Value:   64,
				Sources: cli.EnvVars("QUEUE_CAPACITY"),
			},
			&cli.IntFlag{
				Name:    "max-concurrent-tasks",
				Usage:   "Max RUNNING task runs per execution (0 = unbounded)",
				Value:   0,
				Sources: cli.EnvVars("MAX_CONCURRENT_TASKS"),
			},
			&cli.IntFlag{
				Name:    "port",
				Usage:   "HTTP API port",
				Value:   8080,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "retention-schedule",
				Usage:   "Cron schedule for the retention sweep",
				Value:   "@hourly",
				Sources: cli.EnvVars("RETENTION_SCHEDULE"),
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

			engineID := command.String("engine-id")
			if engineID == "" {
				engineID = "engine-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("reeflow-engine").With("engineId", engineID)

			logger.InfoContext(ctx, "Initializing Reeflow Engine")

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "reeflow-engine", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			collector, err := cmd.NewMetricsCollector(command.String("redis-url"))
			if err != nil {
				return err
			}

			engine := NewEngine(engineID, logger, store, eventBus, collector, EngineConfig{
				WorkflowsPath:      command.String("workflows-path"),
				Workers:            int(command.Int("workers")),
				QueueCapacity:      int(command.Int("queue-capacity")),
				MaxConcurrentTasks: int(command.Int("max-concurrent-tasks")),
				Port:               int(command.Int("port")),
				RetentionSchedule:  command.String("retention-schedule"),
			})

			return engine.Run(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
