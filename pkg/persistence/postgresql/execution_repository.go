package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/reeflow/reeflow/pkg/models"
	"github.com/reeflow/reeflow/pkg/persistence"
)

// ExecutionRepository handles execution-related database operations.
type ExecutionRepository struct {
	q      querier
	logger *slog.Logger
}

const executionColumns = `id, workflow_id, state, trigger_type, reason_code, message, metadata,
	created_at, started_at, ended_at, updated_at`

func (r *ExecutionRepository) Save(ctx context.Context, execution *models.Execution) error {
	metadataJSON, err := json.Marshal(execution.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal execution metadata: %w", err)
	}

	query := `
		INSERT INTO executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			reason_code = EXCLUDED.reason_code,
			message = EXCLUDED.message,
			metadata = EXCLUDED.metadata,
			started_at = EXCLUDED.started_at,
			ended_at = EXCLUDED.ended_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.q.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		string(execution.State),
		execution.TriggerType,
		execution.ReasonCode,
		execution.Message,
		metadataJSON,
		execution.Timestamps.CreatedAt,
		execution.Timestamps.StartedAt,
		execution.Timestamps.EndedAt,
		execution.Timestamps.UpdatedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = $1`, id)

	execution, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return execution, nil
}

func (r *ExecutionRepository) GetAll(ctx context.Context) ([]*models.Execution, error) {
	return r.query(ctx, `SELECT `+executionColumns+` FROM executions ORDER BY created_at`)
}

func (r *ExecutionRepository) GetByWorkflow(ctx context.Context, workflowID string) ([]*models.Execution, error) {
	return r.query(ctx, `SELECT `+executionColumns+` FROM executions WHERE workflow_id = $1 ORDER BY created_at`, workflowID)
}

func (r *ExecutionRepository) ActiveExecutions(ctx context.Context) ([]*models.Execution, error) {
	return r.query(ctx, `SELECT `+executionColumns+` FROM executions WHERE state = $1 ORDER BY created_at`,
		string(models.StateRunning))
}

func (r *ExecutionRepository) PendingExecutions(ctx context.Context) ([]*models.Execution, error) {
	return r.query(ctx, `SELECT `+executionColumns+` FROM executions WHERE state = ANY($1) ORDER BY created_at`,
		pq.Array([]string{string(models.StatePending), string(models.StateWaiting)}))
}

func (r *ExecutionRepository) DeleteBefore(ctx context.Context, cutoff time.Time, states []models.ExecutionState) (int, error) {
	stateNames := make([]string, len(states))
	for i, state := range states {
		stateNames[i] = string(state)
	}

	result, err := r.q.ExecContext(ctx,
		`DELETE FROM executions WHERE ended_at IS NOT NULL AND ended_at < $1 AND state = ANY($2)`,
		cutoff, pq.Array(stateNames))
	if err != nil {
		return 0, fmt.Errorf("failed to delete executions: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted executions: %w", err)
	}

	return int(affected), nil
}

func (r *ExecutionRepository) SaveWithTaskRuns(ctx context.Context, execution *models.Execution, runs []*models.TaskRun) error {
	// When already inside a transaction the querier is a *sql.Tx and the
	// writes are atomic by construction.
	if err := r.Save(ctx, execution); err != nil {
		return err
	}

	taskRunRepo := &TaskRunRepository{q: r.q, logger: r.logger}

	for _, run := range runs {
		if err := taskRunRepo.Save(ctx, run); err != nil {
			return err
		}
	}

	return nil
}

func (r *ExecutionRepository) query(ctx context.Context, query string, args ...any) ([]*models.Execution, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate executions: %w", err)
	}

	return executions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*models.Execution, error) {
	var (
		execution    models.Execution
		state        string
		metadataJSON []byte
		startedAt    sql.NullTime
		endedAt      sql.NullTime
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&state,
		&execution.TriggerType,
		&execution.ReasonCode,
		&execution.Message,
		&metadataJSON,
		&execution.Timestamps.CreatedAt,
		&startedAt,
		&endedAt,
		&execution.Timestamps.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	execution.State = models.ExecutionState(state)

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &execution.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution metadata: %w", err)
		}
	}

	if startedAt.Valid {
		execution.Timestamps.StartedAt = &startedAt.Time
	}

	if endedAt.Valid {
		execution.Timestamps.EndedAt = &endedAt.Time
	}

	return &execution, nil
}
