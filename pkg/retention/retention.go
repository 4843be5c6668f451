// Package retention prunes old terminal executions on a cron schedule.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/reeflow/reeflow/pkg/models"
	"github.com/reeflow/reeflow/pkg/persistence"
	"github.com/robfig/cron/v3"
)

// Config controls the retention janitor.
type Config struct {
	// Schedule is a cron expression. Defaults to hourly.
	Schedule string

	// MaxAge is how long terminal executions are kept after they end.
	MaxAge time.Duration
}

func (c Config) withDefaults() Config {
	if c.Schedule == "" {
		c.Schedule = "@hourly"
	}

	if c.MaxAge <= 0 {
		c.MaxAge = 30 * 24 * time.Hour
	}

	return c
}

// Janitor deletes terminal executions older than the retention window,
// together with their task runs and attempts.
type Janitor struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	config      Config
	cron        *cron.Cron
}

func NewJanitor(logger *slog.Logger, store persistence.Persistence, config Config) *Janitor {
	return &Janitor{
		logger:      logger.With("module", "retention"),
		persistence: store,
		config:      config.withDefaults(),
		cron:        cron.New(),
	}
}

// Start schedules the janitor. It returns after registering the cron entry;
// sweeps run on the cron's own goroutine.
func (j *Janitor) Start(ctx context.Context) error {
	_, err := j.cron.AddFunc(j.config.Schedule, func() {
		if _, err := j.Sweep(ctx); err != nil {
			j.logger.ErrorContext(ctx, "Retention sweep failed", "error", err)
		}
	})
	if err != nil {
		return err
	}

	j.cron.Start()
	j.logger.InfoContext(ctx, "Retention janitor started",
		"schedule", j.config.Schedule, "maxAge", j.config.MaxAge)

	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Sweep deletes expired executions once and reports how many were removed.
// Only terminal states are eligible; live executions are never touched.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-j.config.MaxAge)

	deleted, err := j.persistence.ExecutionRepository().DeleteBefore(ctx, cutoff,
		[]models.ExecutionState{models.StateSuccess, models.StateFailed, models.StateCancelled})
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		j.logger.InfoContext(ctx, "Retention sweep removed executions",
			"deleted", deleted, "cutoff", cutoff)
	}

	return deleted, nil
}
