package repository

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uvhelp-io/uvhelp-ce/internal/database"
)

// newTestDB opens a private in-memory database with the full schema applied.
// A single connection keeps the in-memory store alive for the test's duration.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(database.Config{
		Driver:       "sqlite3",
		Path:         ":memory:",
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Bootstrap(db))
	return db
}
