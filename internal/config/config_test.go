package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "mysql", cfg.Database.Driver)
	require.Equal(t, 3306, cfg.Database.Port)
	require.Equal(t, 10, cfg.Fetch.RecentLimit)
	require.Equal(t, 10*time.Second, cfg.Fetch.DialTimeout)
	require.Empty(t, cfg.Fetch.Schedule)
	require.Same(t, cfg, Get())
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("UVHELP_DATABASE_DRIVER", "postgres")
	t.Setenv("UVHELP_FETCH_RECENT_LIMIT", "25")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, 25, cfg.Fetch.RecentLimit)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  driver: sqlite3
  path: /tmp/helpdesk.db
smtp:
  host: smtp.example
  use_tls: true
fetch:
  schedule: "*/5 * * * *"
  blacklist:
    - spam@example.com
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "sqlite3", cfg.Database.Driver)
	require.Equal(t, "/tmp/helpdesk.db", cfg.Database.Path)
	require.Equal(t, "smtp.example", cfg.SMTP.Host)
	require.True(t, cfg.SMTP.UseTLS)
	require.Equal(t, "*/5 * * * *", cfg.Fetch.Schedule)
	require.Equal(t, []string{"spam@example.com"}, cfg.Fetch.Blacklist)
}
