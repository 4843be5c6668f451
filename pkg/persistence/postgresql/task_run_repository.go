package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
	"github.com/reeflow/reeflow/pkg/models"
	"github.com/reeflow/reeflow/pkg/persistence"
)

// TaskRunRepository handles task-run-related database operations.
type TaskRunRepository struct {
	q      querier
	logger *slog.Logger
}

const taskRunColumns = `execution_id, task_id, state, reason_code, message, inputs, outputs,
	error, duration_ms, metadata, created_at, started_at, ended_at, updated_at`

func (r *TaskRunRepository) Save(ctx context.Context, run *models.TaskRun) error {
	inputsJSON, err := json.Marshal(run.Inputs)
	if err != nil {
		return fmt.Errorf("failed to marshal task run inputs: %w", err)
	}

	outputsJSON, err := json.Marshal(run.Outputs)
	if err != nil {
		return fmt.Errorf("failed to marshal task run outputs: %w", err)
	}

	metadataJSON, err := json.Marshal(run.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal task run metadata: %w", err)
	}

	query := `
		INSERT INTO task_runs (` + taskRunColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (execution_id, task_id) DO UPDATE SET
			state = EXCLUDED.state,
			reason_code = EXCLUDED.reason_code,
			message = EXCLUDED.message,
			inputs = EXCLUDED.inputs,
			outputs = EXCLUDED.outputs,
			error = EXCLUDED.error,
			duration_ms = EXCLUDED.duration_ms,
			metadata = EXCLUDED.metadata,
			started_at = EXCLUDED.started_at,
			ended_at = EXCLUDED.ended_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.q.ExecContext(ctx, query,
		run.ExecutionID,
		run.TaskID,
		string(run.State),
		run.ReasonCode,
		run.Message,
		inputsJSON,
		outputsJSON,
		run.Error,
		run.DurationMs,
		metadataJSON,
		run.Timestamps.CreatedAt,
		run.Timestamps.StartedAt,
		run.Timestamps.EndedAt,
		run.Timestamps.UpdatedAt,
	)
	if err != nil {
		return persistence.NewTaskRunError("Save", run.ExecutionID, run.TaskID, err)
	}

	return nil
}

func (r *TaskRunRepository) Get(ctx context.Context, executionID, taskID string) (*models.TaskRun, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+taskRunColumns+` FROM task_runs WHERE execution_id = $1 AND task_id = $2`,
		executionID, taskID)

	run, err := scanTaskRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewTaskRunError("Get", executionID, taskID, persistence.ErrTaskRunNotFound)
		}

		return nil, persistence.NewTaskRunError("Get", executionID, taskID, err)
	}

	return run, nil
}

func (r *TaskRunRepository) GetByExecution(ctx context.Context, executionID string) ([]*models.TaskRun, error) {
	return r.query(ctx,
		`SELECT `+taskRunColumns+` FROM task_runs WHERE execution_id = $1 ORDER BY task_id`,
		executionID)
}

func (r *TaskRunRepository) GetByExecutionAndState(ctx context.Context, executionID string, states []models.ExecutionState) ([]*models.TaskRun, error) {
	stateNames := make([]string, len(states))
	for i, state := range states {
		stateNames[i] = string(state)
	}

	return r.query(ctx,
		`SELECT `+taskRunColumns+` FROM task_runs WHERE execution_id = $1 AND state = ANY($2) ORDER BY task_id`,
		executionID, pq.Array(stateNames))
}

func (r *TaskRunRepository) CountByExecutionAndState(ctx context.Context, executionID string, state models.ExecutionState) (int, error) {
	var count int

	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM task_runs WHERE execution_id = $1 AND state = $2`,
		executionID, string(state)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count task runs: %w", err)
	}

	return count, nil
}

func (r *TaskRunRepository) query(ctx context.Context, query string, args ...any) ([]*models.TaskRun, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query task runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	runs := make([]*models.TaskRun, 0)

	for rows.Next() {
		run, err := scanTaskRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task run: %w", err)
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate task runs: %w", err)
	}

	return runs, nil
}

func scanTaskRun(row rowScanner) (*models.TaskRun, error) {
	var (
		run          models.TaskRun
		state        string
		inputsJSON   []byte
		outputsJSON  []byte
		metadataJSON []byte
		startedAt    sql.NullTime
		endedAt      sql.NullTime
	)

	err := row.Scan(
		&run.ExecutionID,
		&run.TaskID,
		&state,
		&run.ReasonCode,
		&run.Message,
		&inputsJSON,
		&outputsJSON,
		&run.Error,
		&run.DurationMs,
		&metadataJSON,
		&run.Timestamps.CreatedAt,
		&startedAt,
		&endedAt,
		&run.Timestamps.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	run.State = models.ExecutionState(state)

	for _, field := range []struct {
		raw  []byte
		into *map[string]any
	}{
		{inputsJSON, &run.Inputs},
		{outputsJSON, &run.Outputs},
		{metadataJSON, &run.Metadata},
	} {
		if len(field.raw) > 0 {
			if err := json.Unmarshal(field.raw, field.into); err != nil {
				return nil, fmt.Errorf("failed to unmarshal task run field: %w", err)
			}
		}
	}

	if startedAt.Valid {
		run.Timestamps.StartedAt = &startedAt.Time
	}

	if endedAt.Valid {
		run.Timestamps.EndedAt = &endedAt.Time
	}

	return &run, nil
}
