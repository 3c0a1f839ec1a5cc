package sqlbase

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/opsflow/pkg/models"
	"github.com/dukex/opsflow/pkg/persistence"
)

const stepRunColumns = `
	id
  , run_id
  , step_key
  , step_type
  , status
  , attempt_number
  , input_data
  , output_data
  , error_message
  , error_stack
  , started_at
  , finished_at
`

// StepRunRepository handles step attempt database operations.
type StepRunRepository struct {
	db      *sql.DB
	logger  *slog.Logger
	dialect Dialect
}

func (r *StepRunRepository) Create(ctx context.Context, stepRun *models.WorkflowStepRun) error {
	input, err := encodeJSON(stepRun.InputData)
	if err != nil {
		return fmt.Errorf("failed to marshal input data: %w", err)
	}

	output, err := encodeJSON(stepRun.OutputData)
	if err != nil {
		return fmt.Errorf("failed to marshal output data: %w", err)
	}

	query := r.dialect.Rebind(`
		INSERT INTO workflow_step_runs (` + stepRunColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	_, err = r.db.ExecContext(ctx, query,
		stepRun.ID,
		stepRun.RunID,
		stepRun.StepKey,
		string(stepRun.StepType),
		string(stepRun.Status),
		stepRun.AttemptNumber,
		input,
		output,
		stepRun.ErrorMessage,
		stepRun.ErrorStack,
		dbTime(stepRun.StartedAt),
		nullTime(stepRun.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert step run %s: %w", stepRun.ID, err)
	}

	return nil
}

func (r *StepRunRepository) Update(ctx context.Context, stepRun *models.WorkflowStepRun) error {
	input, err := encodeJSON(stepRun.InputData)
	if err != nil {
		return fmt.Errorf("failed to marshal input data: %w", err)
	}

	output, err := encodeJSON(stepRun.OutputData)
	if err != nil {
		return fmt.Errorf("failed to marshal output data: %w", err)
	}

	query := r.dialect.Rebind(`
		UPDATE workflow_step_runs
		SET status = ?
		  , input_data = ?
		  , output_data = ?
		  , error_message = ?
		  , error_stack = ?
		  , finished_at = ?
		WHERE id = ?
	`)

	result, err := r.db.ExecContext(ctx, query,
		string(stepRun.Status),
		input,
		output,
		stepRun.ErrorMessage,
		stepRun.ErrorStack,
		nullTime(stepRun.FinishedAt),
		stepRun.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update step run %s: %w", stepRun.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("step run %s: %w", stepRun.ID, persistence.ErrStepRunNotFound)
	}

	return nil
}

func (r *StepRunRepository) ListByRun(ctx context.Context, runID string) ([]*models.WorkflowStepRun, error) {
	query := r.dialect.Rebind(`
		SELECT ` + stepRunColumns + `
		FROM workflow_step_runs
		WHERE run_id = ?
		ORDER BY ` + r.dialect.Time("started_at") + `, attempt_number
	`)

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query step runs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	stepRuns := make([]*models.WorkflowStepRun, 0)

	for rows.Next() {
		stepRun, err := scanStepRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step run: %w", err)
		}

		stepRuns = append(stepRuns, stepRun)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating step runs: %w", err)
	}

	return stepRuns, nil
}

func scanStepRun(row scanner) (*models.WorkflowStepRun, error) {
	var (
		stepRun          models.WorkflowStepRun
		stepType, status string
		input, output    []byte
		finished         sql.NullTime
	)

	err := row.Scan(
		&stepRun.ID,
		&stepRun.RunID,
		&stepRun.StepKey,
		&stepType,
		&status,
		&stepRun.AttemptNumber,
		&input,
		&output,
		&stepRun.ErrorMessage,
		&stepRun.ErrorStack,
		&stepRun.StartedAt,
		&finished,
	)
	if err != nil {
		return nil, err
	}

	err = decodeJSON(input, &stepRun.InputData)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal input data: %w", err)
	}

	err = decodeJSON(output, &stepRun.OutputData)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal output data: %w", err)
	}

	stepRun.StepType = models.StepType(stepType)
	stepRun.Status = models.StepRunStatus(status)
	stepRun.StartedAt = stepRun.StartedAt.UTC()
	stepRun.FinishedAt = timePtr(finished)

	return &stepRun, nil
}
