package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Config carries the connection settings for the active database.
type Config struct {
	Driver   string // mysql, postgres, or sqlite3
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	// Path is the database file for sqlite3.
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to the configured database and records the active driver for
// dialect helpers. Callers own the returned handle.
func Open(cfg Config) (*sql.DB, error) {
	driver := normalizeDriver(cfg.Driver)
	dsn, err := buildDSN(driver, cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	SetDriver(driver)
	return db, nil
}

func buildDSN(driver string, cfg Config) (string, error) {
	switch driver {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name), nil
	case "postgres":
		return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
			cfg.Host, cfg.Port, cfg.Name, cfg.User, cfg.Password), nil
	case "sqlite3":
		path := cfg.Path
		if path == "" {
			path = cfg.Name
		}
		if path == "" {
			return "", fmt.Errorf("sqlite3 requires a database path")
		}
		return path, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func normalizeDriver(name string) string {
	switch name {
	case "", "mariadb":
		return "mysql"
	case "postgresql", "pgx":
		return "postgres"
	case "sqlite":
		return "sqlite3"
	default:
		return name
	}
}
