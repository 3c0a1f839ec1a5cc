package sqlbase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/opsflow/pkg/models"
	"github.com/dukex/opsflow/pkg/persistence"
)

const definitionColumns = `
	id
  , name
  , description
  , trigger_event_name
  , active
  , steps
  , created_at
  , updated_at
`

// DefinitionRepository handles workflow definition database operations.
type DefinitionRepository struct {
	db      *sql.DB
	logger  *slog.Logger
	dialect Dialect
}

func (r *DefinitionRepository) ActiveByEvent(ctx context.Context, eventName string) ([]*models.WorkflowDefinition, error) {
	query := r.dialect.Rebind(`
		SELECT ` + definitionColumns + `
		FROM workflow_definitions
		WHERE trigger_event_name = ? AND active = ?
		ORDER BY id
	`)

	return r.query(ctx, query, eventName, true)
}

func (r *DefinitionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	query := r.dialect.Rebind(`SELECT ` + definitionColumns + ` FROM workflow_definitions WHERE id = ?`)

	definition, err := scanDefinition(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("definition %s: %w", id, persistence.ErrDefinitionNotFound)
		}

		return nil, fmt.Errorf("failed to scan definition %s: %w", id, err)
	}

	return definition, nil
}

func (r *DefinitionRepository) GetAll(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	return r.query(ctx, `SELECT `+definitionColumns+` FROM workflow_definitions ORDER BY id`)
}

// Save upserts the definition.
func (r *DefinitionRepository) Save(ctx context.Context, definition *models.WorkflowDefinition) error {
	now := dbTime(time.Now())
	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = now
	}

	definition.UpdatedAt = now

	steps := definition.Steps
	if steps == nil {
		steps = []*models.StepDefinition{}
	}

	stepsJSON, err := encodeJSON(steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, r.dialect.Rebind(`
		UPDATE workflow_definitions
		SET name = ?
		  , description = ?
		  , trigger_event_name = ?
		  , active = ?
		  , steps = ?
		  , updated_at = ?
		WHERE id = ?
	`),
		definition.Name,
		definition.Description,
		definition.TriggerEventName,
		definition.Active,
		stepsJSON,
		dbTime(definition.UpdatedAt),
		definition.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update definition %s: %w", definition.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		_, err = tx.ExecContext(ctx, r.dialect.Rebind(`
			INSERT INTO workflow_definitions (`+definitionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`),
			definition.ID,
			definition.Name,
			definition.Description,
			definition.TriggerEventName,
			definition.Active,
			stepsJSON,
			dbTime(definition.CreatedAt),
			dbTime(definition.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert definition %s: %w", definition.ID, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit definition %s: %w", definition.ID, err)
	}

	return nil
}

func (r *DefinitionRepository) query(ctx context.Context, query string, args ...any) ([]*models.WorkflowDefinition, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query definitions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	definitions := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		definition, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}

		definitions = append(definitions, definition)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating definitions: %w", err)
	}

	return definitions, nil
}

func scanDefinition(row scanner) (*models.WorkflowDefinition, error) {
	var (
		definition models.WorkflowDefinition
		steps      []byte
	)

	err := row.Scan(
		&definition.ID,
		&definition.Name,
		&definition.Description,
		&definition.TriggerEventName,
		&definition.Active,
		&steps,
		&definition.CreatedAt,
		&definition.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	err = decodeJSON(steps, &definition.Steps)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}

	return &definition, nil
}
