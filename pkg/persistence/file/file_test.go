package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/opsflow/pkg/models"
	"github.com/dukex/opsflow/pkg/persistence"
	"github.com/dukex/opsflow/pkg/persistence/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPersistence(t *testing.T) {
	// Test with regular path
	fp := NewPersistence("/tmp/test")
	assert.Equal(t, "/tmp/test", fp.root)

	// Test with file:// prefix
	fp = NewPersistence("file:///tmp/test")
	assert.Equal(t, "/tmp/test", fp.root)
}

func TestPersistence_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) persistence.Persistence {
		return NewPersistence(t.TempDir())
	})
}

func TestPersistence_RejectsPathTraversal(t *testing.T) {
	fp := NewPersistence(t.TempDir())

	_, err := fp.RunRepository().GetByID(context.Background(), "../etc/passwd")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid characters")
}

func TestDefinitionRepository_ReadsAuthoredYAML(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "definitions")
	require.NoError(t, os.MkdirAll(dir, 0750))

	document := `
id: delayed-log
name: Delayed log
trigger_event_name: document.signed
active: true
steps:
  - key: wait
    type: DELAY
    config:
      duration: 1
      unit: minutes
    timeout_seconds: 5
    next_step_key: note
  - key: note
    type: LOG
    config:
      level: info
      message: "Document {{payload.documentId}} signed"
    timeout_seconds: 5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "delayed-log.yml"), []byte(document), 0600))

	fp := NewPersistence(root)

	definitions, err := fp.DefinitionRepository().ActiveByEvent(context.Background(), "document.signed")
	require.NoError(t, err)
	require.Len(t, definitions, 1)

	definition := definitions[0]
	assert.Equal(t, "delayed-log", definition.ID)
	require.Len(t, definition.Steps, 2)
	assert.Equal(t, models.StepTypeDelay, definition.Steps[0].Type)
	assert.Equal(t, 1, definition.Steps[0].Config["duration"])
	assert.Equal(t, "note", definition.Steps[0].NextStepKey)
}

func TestRunRepository_WritesJSONDocuments(t *testing.T) {
	root := t.TempDir()
	fp := NewPersistence(root)

	run := storetest.NewRun("wf-1", time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, fp.RunRepository().Create(context.Background(), run))

	_, err := os.Stat(filepath.Join(root, "runs", run.ID+".json"))
	require.NoError(t, err)

	err = fp.RunRepository().Create(context.Background(), run)
	assert.ErrorIs(t, err, persistence.ErrRunAlreadyExists)
}
