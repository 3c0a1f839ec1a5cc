// Package registry maps step types to their executors and validates workflow
// definitions against the registered executors.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/dukex/opsflow/pkg/models"
	"github.com/dukex/opsflow/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

// ErrNotRegistered is returned when no executor handles a step type.
var ErrNotRegistered = errors.New("step type not registered")

type entry struct {
	executor protocol.StepExecutor
	schema   *gojsonschema.Schema
}

type Registry struct {
	logger  *slog.Logger
	mu      sync.RWMutex
	entries map[models.StepType]entry
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:  log.With("module", "registry"),
		entries: make(map[models.StepType]entry),
	}
}

// Register adds an executor, replacing any executor of the same step type. The
// executor schema is compiled once here.
func (r *Registry) Register(executor protocol.StepExecutor) error {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(executor.Schema()))
	if err != nil {
		return fmt.Errorf("invalid schema for %s: %w", executor.Type(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[executor.Type()] = entry{executor: executor, schema: schema}

	r.logger.Debug("Registered step executor", "type", executor.Type(), "name", executor.Name())

	return nil
}

// Executor returns the executor of stepType.
func (r *Registry) Executor(stepType models.StepType) (protocol.StepExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[stepType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, stepType)
	}

	return e.executor, nil
}

// Executors returns every registered executor ordered by step type.
func (r *Registry) Executors() []protocol.StepExecutor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executors := make([]protocol.StepExecutor, 0, len(r.entries))
	for _, e := range r.entries {
		executors = append(executors, e.executor)
	}

	slices.SortFunc(executors, func(a, b protocol.StepExecutor) int {
		return strings.Compare(string(a.Type()), string(b.Type()))
	})

	return executors
}

// ValidateConfig checks an unresolved step config against the executor schema.
func (r *Registry) ValidateConfig(stepType models.StepType, config map[string]any) error {
	r.mu.RLock()
	e, ok := r.entries[stepType]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrNotRegistered, stepType)
	}

	if config == nil {
		config = map[string]any{}
	}

	result, err := e.schema.Validate(gojsonschema.NewGoLoader(config))
	if err != nil {
		return fmt.Errorf("failed to validate config: %w", err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, resultErr := range result.Errors() {
			messages = append(messages, resultErr.String())
		}

		return fmt.Errorf("config schema validation failed: %s", strings.Join(messages, "; "))
	}

	return nil
}
