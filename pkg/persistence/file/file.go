// Package file provides file-based persistence: runs and step runs as JSON
// documents and workflow definitions as YAML documents.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/opsflow/pkg/persistence"
)

const (
	runsDir        = "runs"
	stepRunsDir    = "step_runs"
	definitionsDir = "definitions"
)

// Persistence implements the persistence.Persistence interface using the file system.
// A single mutex serialises writers, which makes the version check of run
// updates atomic within one process. Several processes must not share a root.
type Persistence struct {
	root string
	mu   sync.Mutex

	runRepo        *RunRepository
	stepRunRepo    *StepRunRepository
	definitionRepo *DefinitionRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{root: cleanRoot}
	p.runRepo = &RunRepository{p: p}
	p.stepRunRepo = &StepRunRepository{p: p}
	p.definitionRepo = &DefinitionRepository{p: p}

	return p
}

func (fp *Persistence) RunRepository() persistence.RunRepository {
	return fp.runRepo
}

func (fp *Persistence) StepRunRepository() persistence.StepRunRepository {
	return fp.stepRunRepo
}

func (fp *Persistence) DefinitionRepository() persistence.DefinitionRepository {
	return fp.definitionRepo
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks that the root directory exists and is writable.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	err := os.MkdirAll(fp.root, 0750)
	if err != nil {
		return fmt.Errorf("file store root %s is not usable: %w", fp.root, err)
	}

	return nil
}

// validateID rejects identifiers that would escape the store directory.
func validateID(id string) error {
	if id == "" {
		return errors.New("ID cannot be empty")
	}

	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("ID %q contains invalid characters", id)
	}

	return nil
}

func (fp *Persistence) path(dir, name string) string {
	return filepath.Join(fp.root, dir, name)
}

func (fp *Persistence) readJSON(path string, target any) error {
	data, err := os.ReadFile(path) // #nosec G304 -- path is built from a validated ID
	if err != nil {
		return err
	}

	err = json.Unmarshal(data, target)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}

	return nil
}

func (fp *Persistence) writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}

	return writeFileAtomic(path, data)
}

// writeFileAtomic writes to a temporary file and renames it over path so a
// reader never sees a partial document.
func writeFileAtomic(path string, data []byte) error {
	err := os.MkdirAll(filepath.Dir(path), 0750)
	if err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Close()
	} else {
		_ = tmp.Close()
	}

	if err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}

	err = os.Rename(tmp.Name(), path)
	if err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}

	return nil
}
