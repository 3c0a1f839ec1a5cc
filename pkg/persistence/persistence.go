// Package persistence provides the run state store and the workflow definition
// store used by the engine.
package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/opsflow/pkg/models"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Persistence groups the repositories of a storage backend.
type Persistence interface {
	RunRepository() RunRepository
	StepRunRepository() StepRunRepository
	DefinitionRepository() DefinitionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// RunRepository stores workflow runs. Every mutation is conditional on the run
// version so that concurrent writers never both advance the same run.
type RunRepository interface {
	Create(ctx context.Context, run *models.WorkflowRun) error
	GetByID(ctx context.Context, id string) (*models.WorkflowRun, error)

	// Update persists run if the stored version still equals run.Version, then
	// increments run.Version. It returns ErrConcurrentUpdate when another writer
	// got there first.
	Update(ctx context.Context, run *models.WorkflowRun) error

	// Touch refreshes the heartbeat without bumping the version.
	Touch(ctx context.Context, id string, version int, at time.Time) error

	// ListDue returns WAITING runs whose resume time is at or before now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.WorkflowRun, error)

	// ListStale returns PENDING and RUNNING runs whose heartbeat is older than before.
	ListStale(ctx context.Context, before time.Time, limit int) ([]*models.WorkflowRun, error)

	// List returns runs ordered by start time, newest first.
	List(ctx context.Context, opts ListRunsOptions) (*ListRunsResult, error)
}

// StepRunRepository stores step attempts. Rows are never deleted.
type StepRunRepository interface {
	Create(ctx context.Context, stepRun *models.WorkflowStepRun) error
	Update(ctx context.Context, stepRun *models.WorkflowStepRun) error

	// ListByRun returns the attempts of a run ordered by start time.
	ListByRun(ctx context.Context, runID string) ([]*models.WorkflowStepRun, error)
}

// DefinitionRepository gives read access to workflow definitions. Save exists for
// seeding and tests; definitions are authored elsewhere.
type DefinitionRepository interface {
	ActiveByEvent(ctx context.Context, eventName string) ([]*models.WorkflowDefinition, error)
	GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	GetAll(ctx context.Context) ([]*models.WorkflowDefinition, error)
	Save(ctx context.Context, definition *models.WorkflowDefinition) error
}

// ListRunsOptions filters the run history.
type ListRunsOptions struct {
	WorkflowID string
	Status     models.RunStatus
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// Normalize applies defaults and validates the options.
func (o *ListRunsOptions) Normalize() error {
	if o.Limit == 0 {
		o.Limit = DefaultListLimit
	}

	if o.Limit < 0 || o.Limit > MaxListLimit {
		return fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidListOptions, MaxListLimit)
	}

	if o.Offset < 0 {
		return fmt.Errorf("%w: offset must not be negative", ErrInvalidListOptions)
	}

	if o.Status != "" && !o.Status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidListOptions, o.Status)
	}

	if o.From != nil && o.To != nil && o.From.After(*o.To) {
		return fmt.Errorf("%w: from is after to", ErrInvalidListOptions)
	}

	return nil
}

// Matches reports whether run passes the filters. Stores that cannot push the
// filters down use it.
func (o ListRunsOptions) Matches(run *models.WorkflowRun) bool {
	if o.WorkflowID != "" && run.WorkflowID != o.WorkflowID {
		return false
	}

	if o.Status != "" && run.Status != o.Status {
		return false
	}

	if o.From != nil && run.StartedAt.Before(*o.From) {
		return false
	}

	if o.To != nil && run.StartedAt.After(*o.To) {
		return false
	}

	return true
}

// ListRunsResult is one page of run history.
type ListRunsResult struct {
	Runs        []*models.WorkflowRun `json:"runs"`
	TotalCount  int                   `json:"total_count"`
	HasNextPage bool                  `json:"has_next_page"`
}
