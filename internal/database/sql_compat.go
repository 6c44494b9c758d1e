package database

import (
	"context"
	"database/sql"
	"regexp"
	"strings"
	"sync"
)

var (
	driverMu     sync.RWMutex
	activeDriver = "mysql"
)

// SetDriver records the driver the dialect helpers should target. Open calls
// this automatically; tests set it explicitly.
func SetDriver(name string) {
	driverMu.Lock()
	activeDriver = normalizeDriver(strings.ToLower(strings.TrimSpace(name)))
	driverMu.Unlock()
}

// Driver returns the active database driver name.
func Driver() string {
	driverMu.RLock()
	defer driverMu.RUnlock()
	return activeDriver
}

// IsMySQL reports whether the active driver is MySQL/MariaDB.
func IsMySQL() bool { return Driver() == "mysql" }

// IsPostgreSQL reports whether the active driver is PostgreSQL.
func IsPostgreSQL() bool { return Driver() == "postgres" }

var placeholderPattern = regexp.MustCompile(`\$\d+`)

// ConvertPlaceholders rewrites PostgreSQL-style placeholders ($1, $2) to ?
// for drivers that expect ordinal markers. Queries are written in PostgreSQL
// form and converted on the way out, matching argument order.
func ConvertPlaceholders(query string) string {
	if IsPostgreSQL() {
		return query
	}
	return placeholderPattern.ReplaceAllString(query, "?")
}

// IgnoreConflict rewrites a plain INSERT into the dialect's conflict-ignoring
// form: INSERT IGNORE on MySQL, ON CONFLICT DO NOTHING elsewhere. The input
// must start with "INSERT INTO".
func IgnoreConflict(query string) string {
	if IsMySQL() {
		return "INSERT IGNORE" + strings.TrimPrefix(strings.TrimSpace(query), "INSERT")
	}
	return strings.TrimRight(strings.TrimSpace(query), "; \n\t") + " ON CONFLICT DO NOTHING"
}

// Execer is the subset of sql.DB / sql.Tx used for inserts.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// InsertReturningID executes an insert and returns the generated row ID.
// PostgreSQL has no LastInsertId, so the query gains a RETURNING clause there.
func InsertReturningID(ctx context.Context, ex Execer, query string, args ...any) (int64, error) {
	if IsPostgreSQL() {
		var id int64
		err := ex.QueryRowContext(ctx, query+" RETURNING id", args...).Scan(&id)
		return id, err
	}
	res, err := ex.ExecContext(ctx, ConvertPlaceholders(query), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
