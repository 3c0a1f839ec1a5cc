package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/dukex/opsflow/pkg/models"
	"github.com/dukex/opsflow/pkg/persistence"
)

// StepRunRepository stores the attempts of a run together in step_runs/<run id>.json.
type StepRunRepository struct {
	p *Persistence
}

func (r *StepRunRepository) Create(_ context.Context, stepRun *models.WorkflowStepRun) error {
	err := validateID(stepRun.RunID)
	if err != nil {
		return fmt.Errorf("invalid run ID: %w", err)
	}

	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	stepRuns, err := r.load(stepRun.RunID)
	if err != nil {
		return err
	}

	stepRuns = append(stepRuns, stepRun)

	return r.p.writeJSON(r.p.path(stepRunsDir, stepRun.RunID+".json"), stepRuns)
}

func (r *StepRunRepository) Update(_ context.Context, stepRun *models.WorkflowStepRun) error {
	err := validateID(stepRun.RunID)
	if err != nil {
		return fmt.Errorf("invalid run ID: %w", err)
	}

	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	stepRuns, err := r.load(stepRun.RunID)
	if err != nil {
		return err
	}

	for i, existing := range stepRuns {
		if existing.ID == stepRun.ID {
			stepRuns[i] = stepRun

			return r.p.writeJSON(r.p.path(stepRunsDir, stepRun.RunID+".json"), stepRuns)
		}
	}

	return fmt.Errorf("step run %s: %w", stepRun.ID, persistence.ErrStepRunNotFound)
}

func (r *StepRunRepository) ListByRun(_ context.Context, runID string) ([]*models.WorkflowStepRun, error) {
	err := validateID(runID)
	if err != nil {
		return nil, fmt.Errorf("invalid run ID: %w", err)
	}

	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	stepRuns, err := r.load(runID)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(stepRuns, func(i, j int) bool {
		if !stepRuns[i].StartedAt.Equal(stepRuns[j].StartedAt) {
			return stepRuns[i].StartedAt.Before(stepRuns[j].StartedAt)
		}

		return stepRuns[i].AttemptNumber < stepRuns[j].AttemptNumber
	})

	return stepRuns, nil
}

func (r *StepRunRepository) load(runID string) ([]*models.WorkflowStepRun, error) {
	stepRuns := make([]*models.WorkflowStepRun, 0)

	err := r.p.readJSON(r.p.path(stepRunsDir, runID+".json"), &stepRuns)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load step runs of %s: %w", runID, err)
	}

	return stepRuns, nil
}
