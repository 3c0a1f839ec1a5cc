// Package sqlite provides a single-file SQLite persistence, used for local
// development and single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/opsflow/pkg/persistence/sqlbase"
	"github.com/golang-migrate/migrate/v4/database"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect is the SQLite flavour of the shared SQL store. Timestamps are stored as
// text, so comparisons go through julianday().
var Dialect = sqlbase.Dialect{
	Name:        "sqlite3",
	JulianTimes: true,
	MigrationDriver: func(db *sql.DB) (database.Driver, error) {
		return migratesqlite.WithInstance(db, &migratesqlite.Config{})
	},
}

// Persistence implements the persistence layer for SQLite.
type Persistence struct {
	*sqlbase.Persistence
}

// NewPersistence opens the database at databaseURL ("sqlite://path" or a plain
// path) and applies pending migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	path := strings.TrimPrefix(strings.TrimPrefix(databaseURL, "sqlite3://"), "sqlite://")

	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// SQLite allows a single writer; one connection keeps conditional updates
	// serialized instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

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
