package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/reeflow/reeflow/pkg/models"
	"github.com/reeflow/reeflow/pkg/persistence"
)

// WorkflowRepository handles workflow-definition database operations.
type WorkflowRepository struct {
	q      querier
	logger *slog.Logger
}

func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.WorkflowDefinition) error {
	tasksJSON, err := json.Marshal(workflow.Tasks)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow tasks: %w", err)
	}

	metadataJSON, err := json.Marshal(workflow.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow metadata: %w", err)
	}

	query := `
		INSERT INTO workflows (id, name, description, tasks, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			tasks = EXCLUDED.tasks,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.q.ExecContext(ctx, query,
		workflow.ID,
		workflow.Name,
		workflow.Description,
		tasksJSON,
		metadataJSON,
		workflow.CreatedAt,
		workflow.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", workflow.ID, err)
	}

	return nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT id, name, description, tasks, metadata, created_at, updated_at FROM workflows WHERE id = $1`, id)

	workflow, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, fmt.Errorf("failed to get workflow %s: %w", id, err)
	}

	return workflow, nil
}

func (r *WorkflowRepository) GetAll(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, name, description, tasks, metadata, created_at, updated_at FROM workflows ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	workflows := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate workflows: %w", err)
	}

	return workflows, nil
}

func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deleted workflow %s: %w", id, err)
	}

	if affected == 0 {
		return persistence.ErrWorkflowNotFound
	}

	return nil
}

func scanWorkflow(row rowScanner) (*models.WorkflowDefinition, error) {
	var (
		workflow     models.WorkflowDefinition
		tasksJSON    []byte
		metadataJSON []byte
	)

	err := row.Scan(
		&workflow.ID,
		&workflow.Name,
		&workflow.Description,
		&tasksJSON,
		&metadataJSON,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(tasksJSON) > 0 {
		if err := json.Unmarshal(tasksJSON, &workflow.Tasks); err != nil {
			return nil, fmt.Errorf("failed to unmarshal workflow tasks: %w", err)
		}
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &workflow.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal workflow metadata: %w", err)
		}
	}

	return &workflow, nil
}
