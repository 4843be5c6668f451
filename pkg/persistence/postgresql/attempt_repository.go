package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
	"github.com/reeflow/reeflow/pkg/models"
	"github.com/reeflow/reeflow/pkg/persistence"
)

// AttemptRepository handles attempt-related database operations. Rows are
// append-only; Update only stamps the outcome fields of an existing row.
type AttemptRepository struct {
	q      querier
	logger *slog.Logger
}

func (r *AttemptRepository) Append(ctx context.Context, attempt *models.Attempt) error {
	query := `
		INSERT INTO attempts (id, execution_id, task_id, attempt_number, status, result_ref, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.q.ExecContext(ctx, query,
		attempt.ID,
		attempt.ExecutionID,
		attempt.TaskID,
		attempt.AttemptNumber,
		attempt.Status,
		attempt.ResultRef,
		attempt.StartedAt,
		attempt.EndedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return persistence.ErrAttemptAlreadyExists
		}

		return fmt.Errorf("failed to append attempt: %w", err)
	}

	return nil
}

func (r *AttemptRepository) Update(ctx context.Context, attempt *models.Attempt) error {
	result, err := r.q.ExecContext(ctx, `
		UPDATE attempts SET status = $2, result_ref = $3, ended_at = $4
		WHERE id = $1
	`, attempt.ID, attempt.Status, attempt.ResultRef, attempt.EndedAt)
	if err != nil {
		return fmt.Errorf("failed to update attempt: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}

	if affected == 0 {
		return persistence.ErrAttemptNotFound
	}

	return nil
}

func (r *AttemptRepository) GetByTaskRun(ctx context.Context, executionID, taskID string) ([]*models.Attempt, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, execution_id, task_id, attempt_number, status, result_ref, started_at, ended_at
		FROM attempts
		WHERE execution_id = $1 AND task_id = $2
		ORDER BY attempt_number
	`, executionID, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	attempts := make([]*models.Attempt, 0)

	for rows.Next() {
		var (
			attempt models.Attempt
			endedAt sql.NullTime
		)

		err := rows.Scan(
			&attempt.ID,
			&attempt.ExecutionID,
			&attempt.TaskID,
			&attempt.AttemptNumber,
			&attempt.Status,
			&attempt.ResultRef,
			&attempt.StartedAt,
			&endedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}

		if endedAt.Valid {
			attempt.EndedAt = &endedAt.Time
		}

		attempts = append(attempts, &attempt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attempts: %w", err)
	}

	return attempts, nil
}
