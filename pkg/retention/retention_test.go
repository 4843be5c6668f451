package retention

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/reeflow/reeflow/pkg/models"
	"github.com/reeflow/reeflow/pkg/persistence"
	"github.com/reeflow/reeflow/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedExecution(t *testing.T, store *memory.Persistence, id string, state models.ExecutionState, endedAgo time.Duration) {
	t.Helper()

	execution := models.NewExecution("wf-1", id, "manual")
	execution.State = state

	if endedAgo > 0 {
		ended := time.Now().UTC().Add(-endedAgo)
		execution.Timestamps.EndedAt = &ended
	}

	require.NoError(t, store.ExecutionRepository().Save(context.Background(), execution))
}

func TestSweepDeletesExpiredTerminalExecutions(t *testing.T) {
	store := memory.NewPersistence()
	janitor := NewJanitor(slog.Default(), store, Config{MaxAge: 24 * time.Hour})
	ctx := context.Background()

	seedExecution(t, store, "old-success", models.StateSuccess, 48*time.Hour)
	seedExecution(t, store, "old-failed", models.StateFailed, 48*time.Hour)
	seedExecution(t, store, "fresh-success", models.StateSuccess, time.Hour)
	seedExecution(t, store, "old-running", models.StateRunning, 0)

	deleted, err := janitor.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	_, err = store.ExecutionRepository().GetByID(ctx, "old-success")
	assert.True(t, persistence.IsExecutionNotFound(err))

	_, err = store.ExecutionRepository().GetByID(ctx, "fresh-success")
	require.NoError(t, err)

	_, err = store.ExecutionRepository().GetByID(ctx, "old-running")
	require.NoError(t, err, "live executions are never swept")
}

func TestSweepEmptyStore(t *testing.T) {
	store := memory.NewPersistence()
	janitor := NewJanitor(slog.Default(), store, Config{})

	deleted, err := janitor.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestConfigDefaults(t *testing.T) {
	config := Config{}.withDefaults()

	assert.Equal(t, "@hourly", config.Schedule)
	assert.Equal(t, 30*24*time.Hour, config.MaxAge)
}
