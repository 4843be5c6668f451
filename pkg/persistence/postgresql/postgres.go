// Package postgresql provides PostgreSQL persistence for executions, task
// runs and attempts.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver
	"github.com/reeflow/reeflow/pkg/persistence"
	"github.com/reeflow/reeflow/pkg/persistence/sqlbase"
)

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx. The
// repositories run against it so the same code serves transactional and
// non-transactional calls.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	workflowRepo  *WorkflowRepository
	executionRepo *ExecutionRepository
	taskRunRepo   *TaskRunRepository
	attemptRepo   *AttemptRepository
}

// NewPersistence connects, migrates and returns a PostgreSQL persistence
// layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return newWithQuerier(database, logger), nil
}

func newWithQuerier(db *sql.DB, logger *slog.Logger) *Persistence {
	return &Persistence{
		db:            db,
		logger:        logger,
		workflowRepo:  &WorkflowRepository{q: db, logger: logger},
		executionRepo: &ExecutionRepository{q: db, logger: logger},
		taskRunRepo:   &TaskRunRepository{q: db, logger: logger},
		attemptRepo:   &AttemptRepository{q: db, logger: logger},
	}
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflowRepo
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executionRepo
}

func (p *Persistence) TaskRunRepository() persistence.TaskRunRepository {
	return p.taskRunRepo
}

func (p *Persistence) AttemptRepository() persistence.AttemptRepository {
	return p.attemptRepo
}

// Transaction runs fn with repositories bound to a single database
// transaction, committing on success and rolling back on error.
func (p *Persistence) Transaction(ctx context.Context, fn func(tx persistence.Persistence) error) error {
	transaction, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txPersistence := &Persistence{
		db:            p.db,
		logger:        p.logger,
		workflowRepo:  &WorkflowRepository{q: transaction, logger: p.logger},
		executionRepo: &ExecutionRepository{q: transaction, logger: p.logger},
		taskRunRepo:   &TaskRunRepository{q: transaction, logger: p.logger},
		attemptRepo:   &AttemptRepository{q: transaction, logger: p.logger},
	}

	err = fn(txPersistence)
	if err != nil {
		_ = transaction.Rollback()

		return err
	}

	err = transaction.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}
