package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RecordStep stores one step outcome. Upserts so a retried step overwrites
// its earlier record within the same run.
func (s *SQLiteStore) RecordStep(ctx context.Context, rec StepRecord) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO steps (run_id, step_id, action, status, output, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, step_id) DO UPDATE SET
			status = excluded.status,
			output = excluded.output,
			error = excluded.error,
			duration_ms = excluded.duration_ms
	`, rec.RunID, rec.StepID, rec.Action, rec.Status, rec.Output, rec.Error, rec.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to record step: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListSteps retrieves the steps of one run in insertion order.
func (s *SQLiteStore) ListSteps(ctx context.Context, runID string) ([]StepRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, step_id, action, status, output, error, duration_ms, created_at
		FROM steps
		WHERE run_id = ?
		ORDER BY created_at ASC, step_id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	records := []StepRecord{}
	for rows.Next() {
		var rec StepRecord
		var durationMs int64
		var output, errText sql.NullString
		if err := rows.Scan(&rec.RunID, &rec.StepID, &rec.Action, &rec.Status, &output, &errText, &durationMs, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		rec.Output = output.String
		rec.Error = errText.String
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}
	return records, nil
}

// RecordSignal stores a raised signal. Append-only; a signal id is unique.
func (s *SQLiteStore) RecordSignal(ctx context.Context, rec SignalRecord) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO signals (id, step_id, rule_id, type, severity, confidence, message, sheet)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.StepID, rec.RuleID, rec.Type, rec.Severity, rec.Confidence, rec.Message, rec.Sheet)
	if err != nil {
		return fmt.Errorf("failed to record signal: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RecordResolution stores how a signal was closed out.
func (s *SQLiteStore) RecordResolution(ctx context.Context, signalID, action string, success bool, description string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO resolutions (signal_id, action, success, description)
		VALUES (?, ?, ?, ?)
	`, signalID, action, success, description)
	if err != nil {
		return fmt.Errorf("failed to record resolution: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListSignals retrieves all signals with their resolutions, oldest first.
func (s *SQLiteStore) ListSignals(ctx context.Context) ([]SignalRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.step_id, s.rule_id, s.type, s.severity, s.confidence, s.message, s.sheet, s.created_at,
		       r.action, r.success, r.description, r.created_at
		FROM signals s
		LEFT JOIN resolutions r ON r.signal_id = s.id
		ORDER BY s.created_at ASC, s.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	records := []SignalRecord{}
	for rows.Next() {
		var rec SignalRecord
		var sheet, action, description sql.NullString
		var success sql.NullBool
		var resolvedAt sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.StepID, &rec.RuleID, &rec.Type, &rec.Severity, &rec.Confidence,
			&rec.Message, &sheet, &rec.CreatedAt, &action, &success, &description, &resolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		rec.Sheet = sheet.String
		if action.Valid {
			rec.Resolved = true
			rec.Action = action.String
			rec.Success = success.Bool
			rec.Description = description.String
			rec.ResolvedAt = resolvedAt.Time
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating signals: %w", err)
	}
	return records, nil
}
