package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/opsflow/pkg/persistence"
	"github.com/dukex/opsflow/pkg/persistence/cached"
	"github.com/dukex/opsflow/pkg/persistence/file"
	"github.com/dukex/opsflow/pkg/persistence/mysql"
	"github.com/dukex/opsflow/pkg/persistence/postgresql"
	"github.com/dukex/opsflow/pkg/persistence/sqlite"
)

var supportedPersistenceProviders = map[string]string{
	"file":       "file",
	"postgres":   "postgresql",
	"postgresql": "postgresql",
	"sqlite":     "sqlite",
	"sqlite3":    "sqlite",
	"mysql":      "mysql",
}

// NewPersistence opens the store named by databaseURL. A positive cacheTTL wraps
// it with the definition cache.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string, cacheTTL time.Duration) (persistence.Persistence, error) {
	store, err := openPersistence(ctx, logger, databaseURL)
	if err != nil {
		return nil, err
	}

	if cacheTTL > 0 {
		logger.InfoContext(ctx, "Caching workflow definitions", "ttl", cacheTTL)

		return cached.NewPersistence(store, cacheTTL), nil
	}

	return store, nil
}

func openPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider := parsePersistenceProvider(databaseURL)

	logger.InfoContext(ctx, "Opening persistence", "provider", provider)

	switch provider {
	case "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case "sqlite":
		return sqlite.NewPersistence(ctx, logger, databaseURL)
	case "mysql":
		return mysql.NewPersistence(ctx, logger, databaseURL)
	case "file":
		root := strings.TrimPrefix(databaseURL, "file://")
		if root == "" {
			return nil, fmt.Errorf("file persistence requires a directory, got %q", databaseURL)
		}

		return file.NewPersistence(root), nil
	default:
		return nil, fmt.Errorf("unsupported persistence provider %q", provider)
	}
}

// parsePersistenceProvider maps the URL scheme to a provider. A URL without a
// scheme is a file store directory.
func parsePersistenceProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	provider, ok := supportedPersistenceProviders[strings.ToLower(scheme)]
	if !ok {
		return scheme
	}

	return provider
}
