package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	dbconfig "pairchat/pkg/database"
	"pairchat/pkg/interfaces"
)

var _ interfaces.Store = (*Manager)(nil)

// Manager is the sqlite-backed store. Reads run concurrently on the pool;
// every write goes through a single writer goroutine.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       *slog.Logger
	writeChannel chan writeOperation
	shutdown     chan struct{}
	loopDone     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
	now          func() time.Time
}

type writeOperation struct {
	ctx       context.Context
	operation func(ctx context.Context, db *sql.DB) error
	result    chan error
}

// NewManager opens the database, applies pending migrations, validates the
// schema and starts the writer.
func NewManager(ctx context.Context, config *dbconfig.Config, logger *slog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "database")

	if dir := filepath.Dir(config.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	applied, err := dbconfig.NewMigrationManager(db).ApplyMigrations(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if len(applied) > 0 {
		logger.Info("applied migrations", "versions", applied)
	}
	if err := dbconfig.NewSchemaValidator(db).Validate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       logger,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		loopDone:     make(chan struct{}),
		now:          time.Now,
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	logger.Info("database ready", "path", config.DatabasePath)
	return manager, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()
	defer close(m.loopDone)

	for {
		select {
		case op := <-m.writeChannel:
			op.result <- m.runWrite(op)

		case <-m.shutdown:
			m.logger.Info("write loop shutting down")
			for {
				select {
				case op := <-m.writeChannel:
					op.result <- ErrManagerClosed
				default:
					return
				}
			}
		}
	}
}

// runWrite executes op and retries it once after WriteRetryDelay when the
// database reported a lock conflict.
func (m *Manager) runWrite(op writeOperation) error {
	err := op.operation(op.ctx, m.db)
	if err == nil || !isRetryable(err) {
		return err
	}

	m.logger.Warn("database write failed, retrying", "delay", m.config.WriteRetryDelay, "error", err)
	select {
	case <-time.After(m.config.WriteRetryDelay):
	case <-op.ctx.Done():
		return op.ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	if err = op.operation(op.ctx, m.db); err != nil {
		m.logger.Error("database write failed after retry", "error", err)
	}
	return err
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(ctx context.Context, db *sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	op := writeOperation{ctx: ctx, operation: operation, result: result}

	select {
	case m.writeChannel <- op:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	case <-time.After(30 * time.Second):
		return ErrWriteTimeout
	}

	select {
	case err := <-result:
		return err
	case <-m.loopDone:
		select {
		case err := <-result:
			return err
		default:
			return ErrManagerClosed
		}
	}
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrManagerClosed
	}

	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}

	return nil
}

// GetDB returns the underlying database handle.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close stops the writer and closes the database. Safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

// pairKey orders a participant pair so that {a, b} and {b, a} share a key.
func pairKey(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}
