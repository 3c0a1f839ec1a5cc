// Package postgresql provides the PostgreSQL persistence for workflow runs and definitions.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/opsflow/pkg/persistence/sqlbase"
	"github.com/golang-migrate/migrate/v4/database"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/lib/pq"
)

// Dialect is the PostgreSQL flavour of the shared SQL store.
var Dialect = sqlbase.Dialect{
	Name:                 "postgres",
	NumberedPlaceholders: true,
	MigrationDriver: func(db *sql.DB) (database.Driver, error) {
		return migratepostgres.WithInstance(db, &migratepostgres.Config{})
	},
}

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	*sqlbase.Persistence
}

// NewPersistence connects to databaseURL and applies pending migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = db.PingContext(ctx)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	base, err := sqlbase.NewPersistence(ctx, logger, db, Dialect)
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	return &Persistence{Persistence: base}, nil
}
