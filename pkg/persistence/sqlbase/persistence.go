package sqlbase

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/opsflow/pkg/persistence"
)

// Persistence implements persistence.Persistence on top of database/sql.
type Persistence struct {
	db      *sql.DB
	logger  *slog.Logger
	dialect Dialect

	runRepo        *RunRepository
	stepRunRepo    *StepRunRepository
	definitionRepo *DefinitionRepository
}

// NewPersistence runs the migrations of dialect and returns the store.
func NewPersistence(ctx context.Context, logger *slog.Logger, db *sql.DB, dialect Dialect) (*Persistence, error) {
	err := NewMigrationManager(logger, db, dialect).RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	p := &Persistence{
		db:      db,
		logger:  logger,
		dialect: dialect,
	}

	p.runRepo = &RunRepository{db: db, logger: logger, dialect: dialect}
	p.stepRunRepo = &StepRunRepository{db: db, logger: logger, dialect: dialect}
	p.definitionRepo = &DefinitionRepository{db: db, logger: logger, dialect: dialect}

	return p, nil
}

// DB exposes the connection pool, mainly for tests.
func (p *Persistence) DB() *sql.DB {
	return p.db
}

func (p *Persistence) RunRepository() persistence.RunRepository {
	return p.runRepo
}

func (p *Persistence) StepRunRepository() persistence.StepRunRepository {
	return p.stepRunRepo
}

func (p *Persistence) DefinitionRepository() persistence.DefinitionRepository {
	return p.definitionRepo
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

// dbTime normalises timestamps to UTC with the microsecond precision every
// supported database keeps.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: dbTime(*t), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}

	value := t.Time.UTC()

	return &value
}

func encodeJSON(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func decodeJSON(raw []byte, target any) error {
	if len(raw) == 0 {
		return nil
	}

	return json.Unmarshal(raw, target)
}
