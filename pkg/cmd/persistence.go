// Package cmd provides common initialization functions for command-line
// applications.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/reeflow/reeflow/pkg/persistence"
	"github.com/reeflow/reeflow/pkg/persistence/memory"
	"github.com/reeflow/reeflow/pkg/persistence/postgresql"
)

// NewPersistence selects the persistence backend from the database URL
// scheme. postgres:// selects PostgreSQL; memory:// (or an empty URL)
// selects the in-process store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return memory.NewPersistence(), nil
	}
}

func parseProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "memory"
	}

	return scheme
}
