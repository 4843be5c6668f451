package definition

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/reeflow/reeflow/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoader(t *testing.T) (*Loader, *memory.Persistence) {
	t.Helper()

	store := memory.NewPersistence()

	return NewLoader(slog.Default(), store), store
}

const validDefinition = `{
	"id": "wf-etl",
	"name": "nightly etl",
	"tasks": [
		{"id": "extract", "type": "http_request", "payload": {"url": "https://example.com/data"}},
		{"id": "transform", "type": "log", "needs": ["extract"]},
		{"id": "load", "type": "log", "needs": ["transform"], "retry": {"max_attempts": 3}}
	]
}`

func TestParseValidDefinition(t *testing.T) {
	loader, _ := newTestLoader(t)

	workflow, err := loader.Parse([]byte(validDefinition))
	require.NoError(t, err)
	assert.Equal(t, "wf-etl", workflow.ID)
	require.Len(t, workflow.Tasks, 3)
	assert.Equal(t, []string{"transform"}, workflow.Tasks[2].Needs)
	require.NotNil(t, workflow.Tasks[2].Retry)
	assert.Equal(t, 3, workflow.Tasks[2].Retry.MaxAttempts)
}

func TestParseRejectsInvalidDefinitions(t *testing.T) {
	loader, _ := newTestLoader(t)

	tests := []struct {
		name string
		data string
	}{
		{
			name: "not json",
			data: `{"id": `,
		},
		{
			name: "missing tasks",
			data: `{"id": "wf-1", "name": "no tasks"}`,
		},
		{
			name: "empty task id",
			data: `{"id": "wf-1", "name": "bad task", "tasks": [{"id": "", "type": "log"}]}`,
		},
		{
			name: "missing task type",
			data: `{"id": "wf-1", "name": "bad task", "tasks": [{"id": "a"}]}`,
		},
		{
			name: "unknown dependency",
			data: `{"id": "wf-1", "name": "bad deps", "tasks": [{"id": "a", "type": "log", "needs": ["ghost"]}]}`,
		},
		{
			name: "cycle",
			data: `{"id": "wf-1", "name": "cyclic", "tasks": [
				{"id": "a", "type": "log", "needs": ["b"]},
				{"id": "b", "type": "log", "needs": ["a"]}
			]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loader.Parse([]byte(tt.data))
			require.Error(t, err)
		})
	}
}

func TestRegisterPersistsWorkflow(t *testing.T) {
	loader, store := newTestLoader(t)
	ctx := context.Background()

	workflow, err := loader.Parse([]byte(validDefinition))
	require.NoError(t, err)
	require.NoError(t, loader.Register(ctx, workflow))

	stored, err := store.WorkflowRepository().GetByID(ctx, "wf-etl")
	require.NoError(t, err)
	assert.Equal(t, "nightly etl", stored.Name)
	assert.False(t, stored.CreatedAt.IsZero())
	assert.False(t, stored.UpdatedAt.IsZero())
}

func TestLoadDirectory(t *testing.T) {
	loader, store := newTestLoader(t)
	ctx := context.Background()
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "etl.json"), []byte(validDefinition), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	loaded, err := loader.LoadDirectory(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)

	all, err := store.WorkflowRepository().GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestLoadDirectoryFailsOnBrokenDefinition(t *testing.T) {
	loader, _ := newTestLoader(t)
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte(`{"id": "x"}`), 0o600))

	_, err := loader.LoadDirectory(context.Background(), dir)
	require.Error(t, err)
}
