package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS steps (
		run_id TEXT NOT NULL,
		step_id TEXT NOT NULL,
		action TEXT NOT NULL,
		status TEXT NOT NULL,
		output TEXT,
		error TEXT,
		duration_ms INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (run_id, step_id)
	);

	CREATE INDEX IF NOT EXISTS idx_steps_run_id ON steps(run_id);

	CREATE TABLE IF NOT EXISTS signals (
		id TEXT PRIMARY KEY,
		step_id TEXT NOT NULL,
		rule_id TEXT NOT NULL,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		confidence TEXT NOT NULL,
		message TEXT NOT NULL,
		sheet TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_signals_rule_id ON signals(rule_id);

	CREATE TABLE IF NOT EXISTS resolutions (
		signal_id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		success INTEGER NOT NULL,
		description TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (signal_id) REFERENCES signals(id) ON DELETE CASCADE
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
