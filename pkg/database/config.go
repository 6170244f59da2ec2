package database

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Config holds database configuration
type Config struct {
	DatabasePath    string        `json:"database_path"`
	MaxConnections  int           `json:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	BusyTimeout     time.Duration `json:"busy_timeout"`
	// WriteRetryDelay is how long the writer waits before retrying a write
	// that failed because the database was busy or locked.
	WriteRetryDelay time.Duration `json:"write_retry_delay"`
}

// DefaultConfig returns production-ready database configuration
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:    "./data/pairchat.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 10,
		BusyTimeout:     5 * time.Second,
		WriteRetryDelay: 5 * time.Second,
	}
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return errors.New("database path cannot be empty")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	if c.BusyTimeout < 0 {
		return errors.New("busy timeout cannot be negative")
	}
	if c.WriteRetryDelay < 0 {
		return errors.New("write retry delay cannot be negative")
	}
	return nil
}

// DSN builds the go-sqlite3 connection string. Pragmas that are scoped to a
// single connection go here so every pooled connection gets them.
func (c *Config) DSN() string {
	q := url.Values{}
	q.Set("_busy_timeout", fmt.Sprintf("%d", c.BusyTimeout.Milliseconds()))
	q.Set("_journal_mode", "WAL")
	q.Set("_synchronous", "NORMAL")
	q.Set("_foreign_keys", "on")
	q.Set("_txlock", "immediate")
	return "file:" + c.DatabasePath + "?" + q.Encode()
}

const sqliteOptimizations = `
	PRAGMA cache_size = -64000;
	PRAGMA temp_store = MEMORY;
`

// ApplySQLiteOptimizations sets cache pragmas on the pool.
func ApplySQLiteOptimizations(db *sql.DB) error {
	if _, err := db.Exec(sqliteOptimizations); err != nil {
		return fmt.Errorf("failed to apply sqlite pragmas: %w", err)
	}
	return nil
}
