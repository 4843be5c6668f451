package postgresql_test

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/reeflow/reeflow/pkg/models"
	"github.com/reeflow/reeflow/pkg/persistence"
	"github.com/reeflow/reeflow/pkg/persistence/postgresql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	// Drop tables in reverse dependency order (children first, parents last)
	for _, table := range []string{"attempts", "task_runs", "executions", "workflows", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("reeflow_test"),
			postgres.WithUsername("reeflow"),
			postgres.WithPassword("reeflow"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = store.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return store, ctx, databaseURL
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	var exists bool

	for _, table := range []string{"workflows", "executions", "task_runs", "attempts", "schema_migrations"} {
		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	var version int

	err = db.QueryRowContext(ctx, "SELECT version FROM schema_migrations WHERE version = 1").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	err := p.HealthCheck(ctx)
	assert.NoError(t, err)
}

func TestNewPersistence_SaveAndRetrieveExecution(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	execution := models.NewExecution("wf-1", uuid.NewString(), "manual")
	execution.Metadata = map[string]any{"requested_by": "test"}

	err := p.ExecutionRepository().Save(ctx, execution)
	require.NoError(t, err)

	retrieved, err := p.ExecutionRepository().GetByID(ctx, execution.ID)
	require.NoError(t, err)

	assert.Equal(t, execution.ID, retrieved.ID)
	assert.Equal(t, "wf-1", retrieved.WorkflowID)
	assert.Equal(t, models.StatePending, retrieved.State)
	assert.Equal(t, "manual", retrieved.TriggerType)
	assert.Equal(t, "test", retrieved.Metadata["requested_by"])
	assert.Nil(t, retrieved.Timestamps.StartedAt)
	assert.Nil(t, retrieved.Timestamps.EndedAt)

	_, err = p.ExecutionRepository().GetByID(ctx, uuid.NewString())
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestNewPersistence_UpdateExecution(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	execution := models.NewExecution("wf-1", uuid.NewString(), "manual")

	err := p.ExecutionRepository().Save(ctx, execution)
	require.NoError(t, err)

	now := time.Now().UTC()
	execution.State = models.StateFailed
	execution.ReasonCode = models.ReasonTimeout
	execution.Message = "Execution timed out after 5000ms"
	execution.Timestamps.StartedAt = &now
	execution.Timestamps.EndedAt = &now
	execution.Timestamps.UpdatedAt = now

	err = p.ExecutionRepository().Save(ctx, execution)
	require.NoError(t, err)

	retrieved, err := p.ExecutionRepository().GetByID(ctx, execution.ID)
	require.NoError(t, err)

	assert.Equal(t, models.StateFailed, retrieved.State)
	assert.Equal(t, models.ReasonTimeout, retrieved.ReasonCode)
	assert.Equal(t, "Execution timed out after 5000ms", retrieved.Message)
	require.NotNil(t, retrieved.Timestamps.StartedAt)
	require.NotNil(t, retrieved.Timestamps.EndedAt)
}

func TestNewPersistence_ActiveAndPendingExecutions(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	states := map[string]models.ExecutionState{
		"exec-pending": models.StatePending,
		"exec-running": models.StateRunning,
		"exec-waiting": models.StateWaiting,
		"exec-done":    models.StateSuccess,
	}

	for id, state := range states {
		execution := models.NewExecution("wf-1", id, "manual")
		execution.State = state

		require.NoError(t, p.ExecutionRepository().Save(ctx, execution))
	}

	active, err := p.ExecutionRepository().ActiveExecutions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "exec-running", active[0].ID)

	pending, err := p.ExecutionRepository().PendingExecutions(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	ids := []string{pending[0].ID, pending[1].ID}
	assert.ElementsMatch(t, []string{"exec-pending", "exec-waiting"}, ids)
}

func TestNewPersistence_DeleteBefore(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	old := time.Now().UTC().Add(-48 * time.Hour)
	fresh := time.Now().UTC()

	for _, tc := range []struct {
		id      string
		state   models.ExecutionState
		endedAt *time.Time
	}{
		{"exec-old-success", models.StateSuccess, &old},
		{"exec-old-failed", models.StateFailed, &old},
		{"exec-fresh", models.StateSuccess, &fresh},
		{"exec-live", models.StateRunning, nil},
	} {
		execution := models.NewExecution("wf-1", tc.id, "manual")
		execution.State = tc.state
		execution.Timestamps.EndedAt = tc.endedAt

		require.NoError(t, p.ExecutionRepository().Save(ctx, execution))
	}

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	terminal := []models.ExecutionState{models.StateSuccess, models.StateFailed, models.StateCancelled}

	deleted, err := p.ExecutionRepository().DeleteBefore(ctx, cutoff, terminal)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	remaining, err := p.ExecutionRepository().GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}

func TestNewPersistence_SaveWithTaskRuns(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	execution := models.NewExecution("wf-1", uuid.NewString(), "api")
	runs := []*models.TaskRun{
		models.NewTaskRun(execution.ID, "a"),
		models.NewTaskRun(execution.ID, "b"),
	}

	err := p.ExecutionRepository().SaveWithTaskRuns(ctx, execution, runs)
	require.NoError(t, err)

	stored, err := p.TaskRunRepository().GetByExecution(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "a", stored[0].TaskID)
	assert.Equal(t, "b", stored[1].TaskID)
	assert.Equal(t, models.StatePending, stored[0].State)
}

func TestNewPersistence_TaskRunLifecycle(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	execution := models.NewExecution("wf-1", uuid.NewString(), "manual")
	require.NoError(t, p.ExecutionRepository().Save(ctx, execution))

	run := models.NewTaskRun(execution.ID, "extract")
	run.Inputs = map[string]any{"url": "https://example.com"}

	require.NoError(t, p.TaskRunRepository().Save(ctx, run))

	now := time.Now().UTC()
	run.State = models.StateSuccess
	run.ReasonCode = models.ReasonSuccess
	run.Outputs = map[string]any{"rows": float64(42)}
	run.DurationMs = 120
	run.Timestamps.StartedAt = &now
	run.Timestamps.EndedAt = &now
	run.Timestamps.UpdatedAt = now

	require.NoError(t, p.TaskRunRepository().Save(ctx, run))

	retrieved, err := p.TaskRunRepository().Get(ctx, execution.ID, "extract")
	require.NoError(t, err)

	assert.Equal(t, models.StateSuccess, retrieved.State)
	assert.Equal(t, models.ReasonSuccess, retrieved.ReasonCode)
	assert.Equal(t, map[string]any{"url": "https://example.com"}, retrieved.Inputs)
	assert.Equal(t, map[string]any{"rows": float64(42)}, retrieved.Outputs)
	assert.Equal(t, int64(120), retrieved.DurationMs)

	_, err = p.TaskRunRepository().Get(ctx, execution.ID, "ghost")
	assert.True(t, persistence.IsTaskRunNotFound(err))
}

func TestNewPersistence_CountByExecutionAndState(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	execution := models.NewExecution("wf-1", uuid.NewString(), "manual")
	require.NoError(t, p.ExecutionRepository().Save(ctx, execution))

	for taskID, state := range map[string]models.ExecutionState{
		"a": models.StateRunning,
		"b": models.StateRunning,
		"c": models.StatePending,
	} {
		run := models.NewTaskRun(execution.ID, taskID)
		run.State = state

		require.NoError(t, p.TaskRunRepository().Save(ctx, run))
	}

	count, err := p.TaskRunRepository().CountByExecutionAndState(ctx, execution.ID, models.StateRunning)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	open, err := p.TaskRunRepository().GetByExecutionAndState(ctx, execution.ID,
		[]models.ExecutionState{models.StatePending, models.StateRunning})
	require.NoError(t, err)
	assert.Len(t, open, 3)
}

func TestNewPersistence_AttemptHistory(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	executionID := uuid.NewString()
	first := &models.Attempt{
		ID:            uuid.NewString(),
		ExecutionID:   executionID,
		TaskID:        "extract",
		AttemptNumber: 1,
		StartedAt:     time.Now().UTC(),
	}

	require.NoError(t, p.AttemptRepository().Append(ctx, first))

	// Same (execution, task, number) is rejected
	duplicate := &models.Attempt{
		ID:            uuid.NewString(),
		ExecutionID:   executionID,
		TaskID:        "extract",
		AttemptNumber: 1,
		StartedAt:     time.Now().UTC(),
	}
	err := p.AttemptRepository().Append(ctx, duplicate)
	require.ErrorIs(t, err, persistence.ErrAttemptAlreadyExists)

	ended := time.Now().UTC()
	first.Status = "FAILED"
	first.ResultRef = "attempt failed: boom"
	first.EndedAt = &ended

	require.NoError(t, p.AttemptRepository().Update(ctx, first))

	second := &models.Attempt{
		ID:            uuid.NewString(),
		ExecutionID:   executionID,
		TaskID:        "extract",
		AttemptNumber: 2,
		StartedAt:     time.Now().UTC(),
	}
	require.NoError(t, p.AttemptRepository().Append(ctx, second))

	history, err := p.AttemptRepository().GetByTaskRun(ctx, executionID, "extract")
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.Equal(t, 1, history[0].AttemptNumber)
	assert.Equal(t, "FAILED", history[0].Status)
	require.NotNil(t, history[0].EndedAt)
	assert.Equal(t, 2, history[1].AttemptNumber)
	assert.Nil(t, history[1].EndedAt)

	missing := &models.Attempt{ID: uuid.NewString(), StartedAt: time.Now().UTC()}
	err = p.AttemptRepository().Update(ctx, missing)
	require.ErrorIs(t, err, persistence.ErrAttemptNotFound)
}

func TestNewPersistence_SaveAndRetrieveWorkflow(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	now := time.Now().UTC()
	workflow := &models.WorkflowDefinition{
		ID:          "wf-etl",
		Name:        "nightly etl",
		Description: "extract, transform, load",
		Tasks: []models.WorkflowTask{
			{ID: "extract", Type: "http_request", Payload: map[string]any{"url": "https://example.com/data"}},
			{ID: "load", Type: "log", Needs: []string{"extract"}, Retry: &models.RetryPolicy{MaxAttempts: 3}},
		},
		Metadata:  map[string]any{"owner": "data-team"},
		CreatedAt: now,
		UpdatedAt: now,
	}

	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	retrieved, err := p.WorkflowRepository().GetByID(ctx, "wf-etl")
	require.NoError(t, err)

	assert.Equal(t, "nightly etl", retrieved.Name)
	require.Len(t, retrieved.Tasks, 2)
	assert.Equal(t, []string{"extract"}, retrieved.Tasks[1].Needs)
	require.NotNil(t, retrieved.Tasks[1].Retry)
	assert.Equal(t, 3, retrieved.Tasks[1].Retry.MaxAttempts)
	assert.Equal(t, "data-team", retrieved.Metadata["owner"])

	all, err := p.WorkflowRepository().GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, p.WorkflowRepository().Delete(ctx, "wf-etl"))

	_, err = p.WorkflowRepository().GetByID(ctx, "wf-etl")
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)

	err = p.WorkflowRepository().Delete(ctx, "wf-etl")
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
}

func TestNewPersistence_TransactionCommit(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	execution := models.NewExecution("wf-1", uuid.NewString(), "manual")
	run := models.NewTaskRun(execution.ID, "a")

	err := p.Transaction(ctx, func(tx persistence.Persistence) error {
		if err := tx.ExecutionRepository().Save(ctx, execution); err != nil {
			return err
		}

		return tx.TaskRunRepository().Save(ctx, run)
	})
	require.NoError(t, err)

	_, err = p.ExecutionRepository().GetByID(ctx, execution.ID)
	require.NoError(t, err)

	_, err = p.TaskRunRepository().Get(ctx, execution.ID, "a")
	require.NoError(t, err)
}

func TestNewPersistence_TransactionRollback(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	execution := models.NewExecution("wf-1", uuid.NewString(), "manual")
	boom := errors.New("boom")

	err := p.Transaction(ctx, func(tx persistence.Persistence) error {
		if err := tx.ExecutionRepository().Save(ctx, execution); err != nil {
			return err
		}

		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = p.ExecutionRepository().GetByID(ctx, execution.ID)
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestNewPersistence_CascadeDeleteTaskRuns(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	old := time.Now().UTC().Add(-48 * time.Hour)
	execution := models.NewExecution("wf-1", uuid.NewString(), "manual")
	execution.State = models.StateSuccess
	execution.Timestamps.EndedAt = &old

	require.NoError(t, p.ExecutionRepository().SaveWithTaskRuns(ctx, execution, []*models.TaskRun{
		models.NewTaskRun(execution.ID, "a"),
	}))

	deleted, err := p.ExecutionRepository().DeleteBefore(ctx, time.Now().UTC(),
		[]models.ExecutionState{models.StateSuccess})
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	runs, err := p.TaskRunRepository().GetByExecution(ctx, execution.ID)
	require.NoError(t, err)
	assert.Empty(t, runs, "task runs are removed with their execution")
}
