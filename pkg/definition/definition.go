// Package definition loads and validates workflow definitions. A definition
// passes three gates before registration: the JSON schema, struct-level
// field validation, and graph validation of its dependency edges.
package definition

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/reeflow/reeflow/pkg/graph"
	"github.com/reeflow/reeflow/pkg/models"
	"github.com/reeflow/reeflow/pkg/persistence"
	"github.com/xeipuuv/gojsonschema"
)

// Loader parses, validates and registers workflow definitions.
type Loader struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	validate    *validator.Validate
}

func NewLoader(logger *slog.Logger, store persistence.Persistence) *Loader {
	return &Loader{
		logger:      logger.With("module", "definition"),
		persistence: store,
		validate:    validator.New(),
	}
}

// Parse decodes and fully validates a JSON workflow definition.
func (l *Loader) Parse(data []byte) (*models.WorkflowDefinition, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	var workflow models.WorkflowDefinition
	if err := json.Unmarshal(data, &workflow); err != nil {
		return nil, fmt.Errorf("failed to decode workflow definition: %w", err)
	}

	if err := l.validate.Struct(&workflow); err != nil {
		return nil, fmt.Errorf("invalid workflow definition: %w", err)
	}

	if _, err := graph.BuildWorkflowGraph(workflow.Tasks); err != nil {
		return nil, err
	}

	return &workflow, nil
}

// Register validates and persists a workflow definition.
func (l *Loader) Register(ctx context.Context, workflow *models.WorkflowDefinition) error {
	if err := l.validate.Struct(workflow); err != nil {
		return fmt.Errorf("invalid workflow definition: %w", err)
	}

	if _, err := graph.BuildWorkflowGraph(workflow.Tasks); err != nil {
		return err
	}

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	return l.persistence.WorkflowRepository().Save(ctx, workflow)
}

// LoadDirectory parses and registers every *.json definition in dir.
func (l *Loader) LoadDirectory(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read definitions directory: %w", err)
	}

	loaded := 0

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		path := filepath.Join(dir, entry.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			return loaded, fmt.Errorf("failed to read %s: %w", path, err)
		}

		workflow, err := l.Parse(data)
		if err != nil {
			return loaded, fmt.Errorf("failed to parse %s: %w", path, err)
		}

		if err := l.Register(ctx, workflow); err != nil {
			return loaded, err
		}

		l.logger.InfoContext(ctx, "Workflow registered",
			"workflowId", workflow.ID, "file", entry.Name(), "tasks", len(workflow.Tasks))

		loaded++
	}

	return loaded, nil
}

// workflowSchema is the structural contract for definition files. Field
// semantics beyond shape are enforced by the struct validator and the graph.
const workflowSchema = `{
	"type": "object",
	"required": ["id", "name", "tasks"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"name": {"type": "string", "minLength": 3},
		"description": {"type": "string"},
		"metadata": {"type": "object"},
		"tasks": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["id", "type"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"type": {"type": "string", "minLength": 1},
					"needs": {"type": "array", "items": {"type": "string"}},
					"payload": {"type": "object"},
					"timeout_ms": {"type": "integer", "minimum": 0},
					"retry": {
						"type": "object",
						"required": ["max_attempts"],
						"properties": {
							"max_attempts": {"type": "integer", "minimum": 1},
							"backoff": {"type": "integer", "minimum": 0}
						}
					}
				}
			}
		}
	}
}`

func validateSchema(data []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(workflowSchema)
	documentLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("failed to run schema validation: %w", err)
	}

	if !result.Valid() {
		descriptions := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			descriptions = append(descriptions, desc.String())
		}

		return fmt.Errorf("workflow definition is not valid: %s", strings.Join(descriptions, "; "))
	}

	return nil
}
