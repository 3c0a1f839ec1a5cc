package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"time"

	"github.com/dukex/opsflow/pkg/models"
	"github.com/dukex/opsflow/pkg/persistence"
	"gopkg.in/yaml.v3"
)

// DefinitionRepository reads workflow definitions from definitions/*.yaml.
type DefinitionRepository struct {
	p *Persistence
}

func (r *DefinitionRepository) ActiveByEvent(ctx context.Context, eventName string) ([]*models.WorkflowDefinition, error) {
	definitions, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	active := make([]*models.WorkflowDefinition, 0)

	for _, definition := range definitions {
		if definition.Active && definition.TriggerEventName == eventName {
			active = append(active, definition)
		}
	}

	return active, nil
}

func (r *DefinitionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	definitions, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	for _, definition := range definitions {
		if definition.ID == id {
			return definition, nil
		}
	}

	return nil, fmt.Errorf("definition %s: %w", id, persistence.ErrDefinitionNotFound)
}

// GetAll loads every definition document, ordered by ID. A file may be named
// anything as long as it ends in .yaml or .yml.
func (r *DefinitionRepository) GetAll(_ context.Context) ([]*models.WorkflowDefinition, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	root := os.DirFS(r.p.path(definitionsDir, ""))

	files, err := fs.Glob(root, "*.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to list definition files: %w", err)
	}

	ymlFiles, err := fs.Glob(root, "*.yml")
	if err != nil {
		return nil, fmt.Errorf("failed to list definition files: %w", err)
	}

	files = append(files, ymlFiles...)
	definitions := make([]*models.WorkflowDefinition, 0, len(files))

	for _, name := range files {
		data, err := fs.ReadFile(root, name)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}

			return nil, fmt.Errorf("failed to read definition %s: %w", name, err)
		}

		var definition models.WorkflowDefinition

		err = yaml.Unmarshal(data, &definition)
		if err != nil {
			return nil, fmt.Errorf("failed to decode definition %s: %w", name, err)
		}

		definitions = append(definitions, &definition)
	}

	sort.Slice(definitions, func(i, j int) bool { return definitions[i].ID < definitions[j].ID })

	return definitions, nil
}

// Save writes the definition to definitions/<id>.yaml.
func (r *DefinitionRepository) Save(_ context.Context, definition *models.WorkflowDefinition) error {
	err := validateID(definition.ID)
	if err != nil {
		return fmt.Errorf("invalid definition ID: %w", err)
	}

	now := time.Now().UTC()
	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = now
	}

	definition.UpdatedAt = now

	data, err := yaml.Marshal(definition)
	if err != nil {
		return fmt.Errorf("failed to encode definition %s: %w", definition.ID, err)
	}

	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	return writeFileAtomic(r.p.path(definitionsDir, definition.ID+".yaml"), data)
}
