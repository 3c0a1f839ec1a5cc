// Package sqlbase provides the SQL persistence shared by the PostgreSQL, SQLite
// and MySQL backends. Queries are written with ? placeholders and rebound per
// dialect.
package sqlbase

import (
	"database/sql"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4/database"
)

// Dialect describes the differences between the supported databases.
type Dialect struct {
	// Name selects the embedded migration directory and the migrate driver name.
	Name string

	// NumberedPlaceholders rewrites ? into $1, $2...
	NumberedPlaceholders bool

	// JulianTimes compares timestamps through julianday(), for stores that keep
	// them as text.
	JulianTimes bool

	// MigrationDriver wraps an open connection for golang-migrate.
	MigrationDriver func(db *sql.DB) (database.Driver, error)
}

// Rebind converts ? placeholders to the dialect form.
func (d Dialect) Rebind(query string) string {
	if !d.NumberedPlaceholders {
		return query
	}

	var out strings.Builder

	out.Grow(len(query) + 8)

	n := 0

	for _, r := range query {
		if r == '?' {
			n++

			out.WriteByte('$')
			out.WriteString(strconv.Itoa(n))

			continue
		}

		out.WriteRune(r)
	}

	return out.String()
}

// Time returns an expression that compares and orders correctly for a timestamp
// column or placeholder.
func (d Dialect) Time(expr string) string {
	if d.JulianTimes {
		return "julianday(" + expr + ")"
	}

	return expr
}
