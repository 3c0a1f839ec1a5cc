package sqlbase

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// MigrationManager applies the embedded schema migrations of a dialect.
type MigrationManager struct {
	db      *sql.DB
	logger  *slog.Logger
	dialect Dialect
}

// NewMigrationManager creates a new migration manager.
func NewMigrationManager(logger *slog.Logger, db *sql.DB, dialect Dialect) *MigrationManager {
	return &MigrationManager{
		db:      db,
		logger:  logger,
		dialect: dialect,
	}
}

// RunMigrations brings the schema to the latest version. The migrate instance is
// not closed because closing it would close the shared connection pool.
func (m *MigrationManager) RunMigrations(ctx context.Context) error {
	m.logger.InfoContext(ctx, "Starting database migrations", "dialect", m.dialect.Name)

	sub, err := fs.Sub(migrationsFS, "migrations/"+m.dialect.Name)
	if err != nil {
		return fmt.Errorf("no migrations for dialect %s: %w", m.dialect.Name, err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("failed to open migration source: %w", err)
	}

	driver, err := m.dialect.MigrationDriver(m.db)
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	migration, err := migrate.NewWithInstance("iofs", source, m.dialect.Name, driver)
	if err != nil {
		return fmt.Errorf("failed to prepare migrations: %w", err)
	}

	err = migration.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := migration.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	m.logger.InfoContext(ctx, "Database migrations completed", "version", version, "dirty", dirty)

	return nil
}
