package db

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"forgeline/internal/events"
	"forgeline/internal/runstate"
)

// RunSummary is one row in the runs table.
type RunSummary struct {
	RunID       string
	WorkflowID  string
	WorkID      string
	ContextID   string
	Status      string
	StartedAt   string
	CompletedAt string
	Error       string
}

// AggregateRun folds a run's state and event log into the project store.
// Re-aggregating a run replaces its previous rows, so the fold is
// idempotent.
func (d *DB) AggregateRun(rs *runstate.RunState, evs []events.Event) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM run_events WHERE run_id = ?`, rs.RunID); err != nil {
		return fmt.Errorf("clear prior events: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO runs (run_id, workflow_id, work_id, context_id, status, started_at, completed_at, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
		   status = excluded.status,
		   completed_at = excluded.completed_at,
		   error = excluded.error,
		   aggregated_at = datetime('now')`,
		rs.RunID, rs.WorkflowID, rs.WorkID, rs.ContextID, rs.Status, rs.StartedAt,
		nullable(rs.CompletedAt), nullable(rs.Error),
	); err != nil {
		return fmt.Errorf("upsert run summary: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO run_events (run_id, event_id, type, phase, step_id, message, metadata, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare event insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range evs {
		var meta string
		if len(e.Metadata) > 0 {
			b, err := json.Marshal(e.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metadata for event %d: %w", e.EventID, err)
			}
			meta = string(b)
		}
		if _, err := stmt.Exec(rs.RunID, e.EventID, e.Type, nullable(e.Phase), nullable(e.StepID),
			nullable(e.Message), nullable(meta), e.Timestamp); err != nil {
			return fmt.Errorf("insert event %d: %w", e.EventID, err)
		}
	}

	return tx.Commit()
}

// GetRunEvents returns a run's aggregated events ordered by event id.
func (d *DB) GetRunEvents(runID string) ([]events.Event, error) {
	rows, err := d.conn.Query(
		`SELECT event_id, type, phase, step_id, message, metadata, timestamp
		 FROM run_events WHERE run_id = ? ORDER BY event_id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get run events: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var e events.Event
		var phase, stepID, message, meta sql.NullString
		if err := rows.Scan(&e.EventID, &e.Type, &phase, &stepID, &message, &meta, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		e.RunID = runID
		e.Phase = phase.String
		e.StepID = stepID.String
		e.Message = message.String
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("parse metadata for event %d: %w", e.EventID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListRuns returns aggregated run summaries, newest first, optionally
// filtered by workflow id.
func (d *DB) ListRuns(workflowID string) ([]RunSummary, error) {
	query := `SELECT run_id, workflow_id, work_id, context_id, status, started_at, completed_at, error
	          FROM runs`
	args := []interface{}{}
	if workflowID != "" {
		query += ` WHERE workflow_id = ?`
		args = append(args, workflowID)
	}
	query += ` ORDER BY started_at DESC`

	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var completedAt, errText sql.NullString
		if err := rows.Scan(&r.RunID, &r.WorkflowID, &r.WorkID, &r.ContextID, &r.Status,
			&r.StartedAt, &completedAt, &errText); err != nil {
			return nil, fmt.Errorf("scan run summary: %w", err)
		}
		r.CompletedAt = completedAt.String
		r.Error = errText.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
