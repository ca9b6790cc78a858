package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/vzahanych/footfall-counter/internal/config"
	"github.com/vzahanych/footfall-counter/internal/logger"
)

var (
	// ErrCameraNotFound is returned when no camera has the requested id
	ErrCameraNotFound = errors.New("camera not found")
	// ErrRecordingNotFound is returned when no recording has the requested id
	ErrRecordingNotFound = errors.New("recording not found")
)

// Manager persists cameras, recordings and system state
type Manager struct {
	db     *Database
	logger *logger.Logger
	mu     sync.RWMutex
}

// NewManager opens the database under the configured data directory
func NewManager(cfg *config.Config, log *logger.Logger) (*Manager, error) {
	dbPath := filepath.Join(cfg.Counter.DataDir, "db", "footfall.db")

	db, err := NewDatabase(dbPath, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	log.Info("State database ready", "path", dbPath)

	return &Manager{
		db:     db,
		logger: log,
	}, nil
}

// Close closes the state manager and database
func (m *Manager) Close() error {
	return m.db.Close()
}

// GetDB returns the database connection
func (m *Manager) GetDB() *sql.DB {
	return m.db.GetDB()
}

// Ping verifies the database is reachable
func (m *Manager) Ping(ctx context.Context) error {
	return m.db.GetDB().PingContext(ctx)
}

// SchemaVersion returns the applied schema version and whether the last
// migration left the schema dirty
func (m *Manager) SchemaVersion() (uint, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return schemaVersion(m.db.GetDB(), m.logger)
}

// SaveSystemState saves a system state value
func (m *Manager) SaveSystemState(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := `
		INSERT INTO system_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`

	_, err := m.db.GetDB().ExecContext(ctx, query, key, value, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save system state: %w", err)
	}

	return nil
}

// GetSystemState retrieves a system state value, or "" when unset
func (m *Manager) GetSystemState(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var value string
	query := `SELECT value FROM system_state WHERE key = ?`
	err := m.db.GetDB().QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get system state: %w", err)
	}

	return value, nil
}
