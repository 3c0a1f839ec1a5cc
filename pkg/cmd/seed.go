package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/opsflow/pkg/persistence"
	"github.com/dukex/opsflow/pkg/persistence/file"
	"github.com/dukex/opsflow/pkg/registry"
)

// SeedDefinitions copies the definitions found under dir/definitions into store.
// Every definition is validated first; nothing is written if one is invalid.
func SeedDefinitions(ctx context.Context, logger *slog.Logger, store persistence.Persistence, reg *registry.Registry, dir string) (int, error) {
	definitions, err := file.NewPersistence(dir).DefinitionRepository().GetAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read definitions from %s: %w", dir, err)
	}

	for _, definition := range definitions {
		err := reg.Validate(definition)
		if err != nil {
			return 0, fmt.Errorf("invalid definition %s: %w", definition.ID, err)
		}
	}

	for _, definition := range definitions {
		err := store.DefinitionRepository().Save(ctx, definition)
		if err != nil {
			return 0, fmt.Errorf("failed to seed definition %s: %w", definition.ID, err)
		}

		logger.InfoContext(ctx, "Seeded workflow definition", "workflow_id", definition.ID, "event", definition.TriggerEventName)
	}

	return len(definitions), nil
}
