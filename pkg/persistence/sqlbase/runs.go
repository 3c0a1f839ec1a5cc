package sqlbase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/opsflow/pkg/models"
	"github.com/dukex/opsflow/pkg/persistence"
)

const runColumns = `
	id
  , workflow_id
  , trigger_event_name
  , trigger_payload
  , context
  , status
  , current_step_key
  , cancel_requested
  , version
  , resume_at
  , heartbeat_at
  , started_at
  , finished_at
  , error_message
`

// RunRepository handles workflow run database operations.
type RunRepository struct {
	db      *sql.DB
	logger  *slog.Logger
	dialect Dialect
}

func (r *RunRepository) Create(ctx context.Context, run *models.WorkflowRun) error {
	payload, err := encodeJSON(run.TriggerPayload)
	if err != nil {
		return persistence.NewRunError("Create", run.ID, fmt.Errorf("failed to marshal trigger payload: %w", err))
	}

	runContext, err := encodeJSON(run.Context)
	if err != nil {
		return persistence.NewRunError("Create", run.ID, fmt.Errorf("failed to marshal context: %w", err))
	}

	query := r.dialect.Rebind(`
		INSERT INTO workflow_runs (` + runColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	_, err = r.db.ExecContext(ctx, query,
		run.ID,
		run.WorkflowID,
		run.TriggerEventName,
		payload,
		runContext,
		string(run.Status),
		run.CurrentStepKey,
		run.CancelRequested,
		run.Version,
		nullTime(run.ResumeAt),
		dbTime(run.HeartbeatAt),
		dbTime(run.StartedAt),
		nullTime(run.FinishedAt),
		run.ErrorMessage,
	)
	if err != nil {
		return persistence.NewRunError("Create", run.ID, err)
	}

	return nil
}

func (r *RunRepository) GetByID(ctx context.Context, id string) (*models.WorkflowRun, error) {
	query := r.dialect.Rebind(`SELECT ` + runColumns + ` FROM workflow_runs WHERE id = ?`)

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRunError("GetByID", id, persistence.ErrRunNotFound)
		}

		return nil, persistence.NewRunError("GetByID", id, err)
	}

	return run, nil
}

// Update writes the run when the stored version matches and bumps the version.
func (r *RunRepository) Update(ctx context.Context, run *models.WorkflowRun) error {
	runContext, err := encodeJSON(run.Context)
	if err != nil {
		return persistence.NewRunError("Update", run.ID, fmt.Errorf("failed to marshal context: %w", err))
	}

	query := r.dialect.Rebind(`
		UPDATE workflow_runs
		SET context = ?
		  , status = ?
		  , current_step_key = ?
		  , cancel_requested = ?
		  , version = version + 1
		  , resume_at = ?
		  , heartbeat_at = ?
		  , finished_at = ?
		  , error_message = ?
		WHERE id = ? AND version = ?
	`)

	result, err := r.db.ExecContext(ctx, query,
		runContext,
		string(run.Status),
		run.CurrentStepKey,
		run.CancelRequested,
		nullTime(run.ResumeAt),
		dbTime(run.HeartbeatAt),
		nullTime(run.FinishedAt),
		run.ErrorMessage,
		run.ID,
		run.Version,
	)
	if err != nil {
		return persistence.NewRunError("Update", run.ID, err)
	}

	err = r.checkAffected(ctx, result, run.ID)
	if err != nil {
		return persistence.NewRunError("Update", run.ID, err)
	}

	run.Version++

	return nil
}

func (r *RunRepository) Touch(ctx context.Context, id string, version int, at time.Time) error {
	query := r.dialect.Rebind(`UPDATE workflow_runs SET heartbeat_at = ? WHERE id = ? AND version = ?`)

	result, err := r.db.ExecContext(ctx, query, dbTime(at), id, version)
	if err != nil {
		return persistence.NewRunError("Touch", id, err)
	}

	err = r.checkAffected(ctx, result, id)
	if err != nil {
		return persistence.NewRunError("Touch", id, err)
	}

	return nil
}

// checkAffected tells a lost race apart from a missing run.
func (r *RunRepository) checkAffected(ctx context.Context, result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 1 {
		return nil
	}

	var exists int

	err = r.db.QueryRowContext(ctx, r.dialect.Rebind(`SELECT 1 FROM workflow_runs WHERE id = ?`), id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.ErrRunNotFound
	}

	if err != nil {
		return err
	}

	return persistence.ErrConcurrentUpdate
}

func (r *RunRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.WorkflowRun, error) {
	query := r.dialect.Rebind(`
		SELECT ` + runColumns + `
		FROM workflow_runs
		WHERE status = ? AND resume_at IS NOT NULL AND ` + r.dialect.Time("resume_at") + ` <= ` + r.dialect.Time("?") + `
		ORDER BY ` + r.dialect.Time("resume_at") + `
		LIMIT ?
	`)

	return r.query(ctx, query, string(models.RunStatusWaiting), dbTime(now), limit)
}

func (r *RunRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]*models.WorkflowRun, error) {
	query := r.dialect.Rebind(`
		SELECT ` + runColumns + `
		FROM workflow_runs
		WHERE status IN (?, ?) AND ` + r.dialect.Time("heartbeat_at") + ` < ` + r.dialect.Time("?") + `
		ORDER BY ` + r.dialect.Time("heartbeat_at") + `
		LIMIT ?
	`)

	return r.query(ctx, query, string(models.RunStatusPending), string(models.RunStatusRunning), dbTime(before), limit)
}

func (r *RunRepository) List(ctx context.Context, opts persistence.ListRunsOptions) (*persistence.ListRunsResult, error) {
	err := opts.Normalize()
	if err != nil {
		return nil, err
	}

	conditions := make([]string, 0, 4)
	args := make([]any, 0, 6)

	if opts.WorkflowID != "" {
		conditions = append(conditions, "workflow_id = ?")
		args = append(args, opts.WorkflowID)
	}

	if opts.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(opts.Status))
	}

	if opts.From != nil {
		conditions = append(conditions, r.dialect.Time("started_at")+" >= "+r.dialect.Time("?"))
		args = append(args, dbTime(*opts.From))
	}

	if opts.To != nil {
		conditions = append(conditions, r.dialect.Time("started_at")+" <= "+r.dialect.Time("?"))
		args = append(args, dbTime(*opts.To))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int

	err = r.db.QueryRowContext(ctx, r.dialect.Rebind(`SELECT COUNT(*) FROM workflow_runs `+where), args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to count runs: %w", err)
	}

	query := r.dialect.Rebind(`
		SELECT ` + runColumns + `
		FROM workflow_runs
		` + where + `
		ORDER BY ` + r.dialect.Time("started_at") + ` DESC, id DESC
		LIMIT ? OFFSET ?
	`)

	runs, err := r.query(ctx, query, append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, err
	}

	return &persistence.ListRunsResult{
		Runs:        runs,
		TotalCount:  total,
		HasNextPage: opts.Offset+len(runs) < total,
	}, nil
}

func (r *RunRepository) query(ctx context.Context, query string, args ...any) ([]*models.WorkflowRun, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	runs := make([]*models.WorkflowRun, 0)

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		runs = append(runs, run)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

func scanRun(row scanner) (*models.WorkflowRun, error) {
	var (
		run                 models.WorkflowRun
		status              string
		payload, runContext []byte
		resumeAt, finished  sql.NullTime
	)

	err := row.Scan(
		&run.ID,
		&run.WorkflowID,
		&run.TriggerEventName,
		&payload,
		&runContext,
		&status,
		&run.CurrentStepKey,
		&run.CancelRequested,
		&run.Version,
		&resumeAt,
		&run.HeartbeatAt,
		&run.StartedAt,
		&finished,
		&run.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}

	err = decodeJSON(payload, &run.TriggerPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger payload: %w", err)
	}

	err = decodeJSON(runContext, &run.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal context: %w", err)
	}

	run.Status = models.RunStatus(status)
	run.ResumeAt = timePtr(resumeAt)
	run.FinishedAt = timePtr(finished)
	run.HeartbeatAt = run.HeartbeatAt.UTC()
	run.StartedAt = run.StartedAt.UTC()

	return &run, nil
}
