// Package persistence provides the SQLite-backed audit trail: every executed
// step, raised signal, and resolution is recorded so a session can be
// reviewed after the fact. The execution loop treats write failures here as
// non-fatal.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// StepRecord is one executed step as stored in the audit trail.
type StepRecord struct {
	RunID     string
	StepID    string
	Action    string
	Status    string
	Output    string
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// SignalRecord is one raised signal, with its resolution when present.
type SignalRecord struct {
	ID         string
	StepID     string
	RuleID     string
	Type       string
	Severity   string
	Confidence string
	Message    string
	Sheet      string
	CreatedAt  time.Time

	Resolved    bool
	Action      string
	Success     bool
	Description string
	ResolvedAt  time.Time
}

// Store defines the audit persistence interface.
type Store interface {
	RecordStep(ctx context.Context, rec StepRecord) error
	ListSteps(ctx context.Context, runID string) ([]StepRecord, error)

	RecordSignal(ctx context.Context, rec SignalRecord) error
	RecordResolution(ctx context.Context, signalID, action string, success bool, description string) error
	ListSignals(ctx context.Context) ([]SignalRecord, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode and busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys via PRAGMA (required for modernc.org/sqlite)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	db.SetMaxOpenConns(2)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// NewMemoryStore creates an in-memory SQLite store for testing.
// Uses a shared cache so multiple connections see the same database.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", "file::memory:?mode=memory&cache=shared")
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	db.SetMaxOpenConns(2)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
