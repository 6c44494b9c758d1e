package database

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func withDriver(t *testing.T, name string) {
	t.Helper()
	previous := Driver()
	SetDriver(name)
	t.Cleanup(func() { SetDriver(previous) })
}

func TestConvertPlaceholders(t *testing.T) {
	withDriver(t, "mysql")
	require.Equal(t, "SELECT * FROM uv_user WHERE email = ? AND id > ?",
		ConvertPlaceholders("SELECT * FROM uv_user WHERE email = $1 AND id > $2"))

	withDriver(t, "postgres")
	require.Equal(t, "SELECT * FROM uv_user WHERE email = $1",
		ConvertPlaceholders("SELECT * FROM uv_user WHERE email = $1"))
}

func TestIgnoreConflict(t *testing.T) {
	query := "INSERT INTO uv_support_role (code) VALUES ($1)"

	withDriver(t, "mysql")
	require.Equal(t, "INSERT IGNORE INTO uv_support_role (code) VALUES ($1)",
		IgnoreConflict(query))

	withDriver(t, "sqlite3")
	require.Equal(t, "INSERT INTO uv_support_role (code) VALUES ($1) ON CONFLICT DO NOTHING",
		IgnoreConflict(query))
}

func TestNormalizeDriverAliases(t *testing.T) {
	require.Equal(t, "mysql", normalizeDriver("mariadb"))
	require.Equal(t, "postgres", normalizeDriver("postgresql"))
	require.Equal(t, "postgres", normalizeDriver("pgx"))
	require.Equal(t, "sqlite3", normalizeDriver("sqlite"))
	require.Equal(t, "mysql", normalizeDriver(""))
}

func TestBuildDSN(t *testing.T) {
	dsn, err := buildDSN("mysql", Config{User: "u", Password: "p", Host: "db", Port: 3306, Name: "helpdesk"})
	require.NoError(t, err)
	require.Equal(t, "u:p@tcp(db:3306)/helpdesk?parseTime=true&loc=UTC", dsn)

	dsn, err = buildDSN("sqlite3", Config{Path: "/tmp/helpdesk.db"})
	require.NoError(t, err)
	require.Equal(t, "/tmp/helpdesk.db", dsn)

	_, err = buildDSN("sqlite3", Config{})
	require.Error(t, err)

	_, err = buildDSN("oracle", Config{})
	require.Error(t, err)
}
