package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dukex/opsflow/pkg/models"
	"github.com/dukex/opsflow/pkg/persistence"
)

// RunRepository stores each run as runs/<id>.json.
type RunRepository struct {
	p *Persistence
}

func (r *RunRepository) Create(_ context.Context, run *models.WorkflowRun) error {
	err := validateID(run.ID)
	if err != nil {
		return persistence.NewRunError("Create", run.ID, err)
	}

	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	path := r.p.path(runsDir, run.ID+".json")

	_, err = os.Stat(path)
	if err == nil {
		return persistence.NewRunError("Create", run.ID, persistence.ErrRunAlreadyExists)
	}

	err = r.p.writeJSON(path, run)
	if err != nil {
		return persistence.NewRunError("Create", run.ID, err)
	}

	return nil
}

func (r *RunRepository) GetByID(_ context.Context, id string) (*models.WorkflowRun, error) {
	err := validateID(id)
	if err != nil {
		return nil, persistence.NewRunError("GetByID", id, err)
	}

	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	return r.load(id)
}

func (r *RunRepository) load(id string) (*models.WorkflowRun, error) {
	var run models.WorkflowRun

	err := r.p.readJSON(r.p.path(runsDir, id+".json"), &run)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewRunError("GetByID", id, persistence.ErrRunNotFound)
		}

		return nil, persistence.NewRunError("GetByID", id, err)
	}

	return &run, nil
}

func (r *RunRepository) Update(_ context.Context, run *models.WorkflowRun) error {
	err := validateID(run.ID)
	if err != nil {
		return persistence.NewRunError("Update", run.ID, err)
	}

	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	stored, err := r.load(run.ID)
	if err != nil {
		return persistence.NewRunError("Update", run.ID, errors.Unwrap(err))
	}

	if stored.Version != run.Version {
		return persistence.NewRunError("Update", run.ID, persistence.ErrConcurrentUpdate)
	}

	next := *run
	next.Version++

	err = r.p.writeJSON(r.p.path(runsDir, run.ID+".json"), &next)
	if err != nil {
		return persistence.NewRunError("Update", run.ID, err)
	}

	run.Version = next.Version

	return nil
}

func (r *RunRepository) Touch(_ context.Context, id string, version int, at time.Time) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	stored, err := r.load(id)
	if err != nil {
		return persistence.NewRunError("Touch", id, errors.Unwrap(err))
	}

	if stored.Version != version {
		return persistence.NewRunError("Touch", id, persistence.ErrConcurrentUpdate)
	}

	stored.HeartbeatAt = at

	err = r.p.writeJSON(r.p.path(runsDir, id+".json"), stored)
	if err != nil {
		return persistence.NewRunError("Touch", id, err)
	}

	return nil
}

func (r *RunRepository) ListDue(_ context.Context, now time.Time, limit int) ([]*models.WorkflowRun, error) {
	runs, err := r.all()
	if err != nil {
		return nil, err
	}

	due := make([]*models.WorkflowRun, 0)

	for _, run := range runs {
		if run.Status == models.RunStatusWaiting && run.ResumeAt != nil && !run.ResumeAt.After(now) {
			due = append(due, run)
		}
	}

	sort.Slice(due, func(i, j int) bool { return due[i].ResumeAt.Before(*due[j].ResumeAt) })

	return truncate(due, limit), nil
}

func (r *RunRepository) ListStale(_ context.Context, before time.Time, limit int) ([]*models.WorkflowRun, error) {
	runs, err := r.all()
	if err != nil {
		return nil, err
	}

	stale := make([]*models.WorkflowRun, 0)

	for _, run := range runs {
		active := run.Status == models.RunStatusPending || run.Status == models.RunStatusRunning
		if active && run.HeartbeatAt.Before(before) {
			stale = append(stale, run)
		}
	}

	sort.Slice(stale, func(i, j int) bool { return stale[i].HeartbeatAt.Before(stale[j].HeartbeatAt) })

	return truncate(stale, limit), nil
}

// List returns paginated and filtered runs with in-memory operations.
func (r *RunRepository) List(_ context.Context, opts persistence.ListRunsOptions) (*persistence.ListRunsResult, error) {
	err := opts.Normalize()
	if err != nil {
		return nil, err
	}

	runs, err := r.all()
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.WorkflowRun, 0, len(runs))

	for _, run := range runs {
		if opts.Matches(run) {
			filtered = append(filtered, run)
		}
	}

	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].StartedAt.Equal(filtered[j].StartedAt) {
			return filtered[i].ID > filtered[j].ID
		}

		return filtered[i].StartedAt.After(filtered[j].StartedAt)
	})

	total := len(filtered)
	if opts.Offset >= total {
		return &persistence.ListRunsResult{Runs: []*models.WorkflowRun{}, TotalCount: total}, nil
	}

	end := min(opts.Offset+opts.Limit, total)

	return &persistence.ListRunsResult{
		Runs:        filtered[opts.Offset:end],
		TotalCount:  total,
		HasNextPage: end < total,
	}, nil
}

func (r *RunRepository) all() ([]*models.WorkflowRun, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	files, err := fs.Glob(os.DirFS(r.p.path(runsDir, "")), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list run files: %w", err)
	}

	runs := make([]*models.WorkflowRun, 0, len(files))

	for _, name := range files {
		run, err := r.load(strings.TrimSuffix(filepath.Base(name), ".json"))
		if err != nil {
			return nil, err
		}

		runs = append(runs, run)
	}

	return runs, nil
}

func truncate(runs []*models.WorkflowRun, limit int) []*models.WorkflowRun {
	if limit > 0 && len(runs) > limit {
		return runs[:limit]
	}

	return runs
}
