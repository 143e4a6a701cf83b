// internal/state/db.go
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loopautoma/loopautoma/internal/event"
	"github.com/loopautoma/loopautoma/internal/security"
)

// RunRecord represents one monitor run in the history.
type RunRecord struct {
	ID         string
	ProfileID  string
	State      string // stopped, panic_stopped, watchdog, terminated
	Reason     string
	StartedAt  time.Time
	FinishedAt time.Time
	DurationMs int64
}

// EventRecord is a persisted runtime event.
type EventRecord struct {
	ID        string
	RunID     string
	ProfileID string
	Type      string
	Timestamp time.Time
	Reason    string
	Payload   string // scrubbed free-text payload (description or message)
}

// DB wraps the SQLite database connection for run and event history.
type DB struct {
	db *sql.DB
}

const historySchema = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL,
    applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    profile_id TEXT NOT NULL,
    state TEXT NOT NULL,
    reason TEXT,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    duration_ms INTEGER,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    run_id TEXT REFERENCES runs(id),
    profile_id TEXT NOT NULL,
    type TEXT NOT NULL,
    timestamp DATETIME NOT NULL,
    reason TEXT,
    payload TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_profile ON runs(profile_id);
CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
`

// Open opens or creates a history database at the given path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	var count int
	db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count)
	if count == 0 {
		db.Exec("INSERT INTO schema_version (version) VALUES (1)")
	}

	return &DB{db: db}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// StartRun records the beginning of a run.
func (d *DB) StartRun(runID, profileID string, startedAt time.Time) error {
	_, err := d.db.Exec(
		"INSERT INTO runs (id, profile_id, state, started_at) VALUES (?, ?, 'running', ?)",
		runID, profileID, startedAt,
	)
	if err != nil {
		return fmt.Errorf("recording run start: %w", err)
	}
	return nil
}

// FinishRun records how a run ended.
func (d *DB) FinishRun(runID, state, reason string, finishedAt time.Time) error {
	_, err := d.db.Exec(`
		UPDATE runs SET state = ?, reason = ?, finished_at = ?,
			duration_ms = CAST((julianday(?) - julianday(started_at)) * 86400000 AS INTEGER)
		WHERE id = ?`,
		state, security.ScrubOutput(reason), finishedAt, finishedAt, runID,
	)
	if err != nil {
		return fmt.Errorf("recording run finish: %w", err)
	}
	return nil
}

// RecordEvent stores one runtime event. Free-text payload fields are scrubbed
// before they hit disk.
func (d *DB) RecordEvent(e event.Event) error {
	payload := e.Description
	if payload == "" {
		payload = e.Message
	}
	_, err := d.db.Exec(
		"INSERT INTO events (id, run_id, profile_id, type, timestamp, reason, payload) VALUES (?, ?, ?, ?, ?, ?, ?)",
		e.ID, e.RunID, e.ProfileID, string(e.Type), e.Timestamp,
		security.ScrubOutput(e.Reason), security.ScrubOutput(payload),
	)
	if err != nil {
		return fmt.Errorf("recording event: %w", err)
	}
	return nil
}

// GetRuns retrieves run history, newest first, optionally filtered by profile.
func (d *DB) GetRuns(profileID string, limit int) ([]RunRecord, error) {
	query := "SELECT id, profile_id, state, reason, started_at, finished_at, duration_ms FROM runs WHERE 1=1"
	var args []any

	if profileID != "" {
		query += " AND profile_id = ?"
		args = append(args, profileID)
	}

	query += " ORDER BY started_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var r RunRecord
		var reason sql.NullString
		var finished sql.NullTime
		var duration sql.NullInt64
		if err := rows.Scan(&r.ID, &r.ProfileID, &r.State, &reason, &r.StartedAt, &finished, &duration); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.Reason = reason.String
		r.FinishedAt = finished.Time
		r.DurationMs = duration.Int64
		records = append(records, r)
	}
	return records, rows.Err()
}

// GetEvents retrieves the events of one run in emission order.
func (d *DB) GetEvents(runID string, limit int) ([]EventRecord, error) {
	query := "SELECT id, run_id, profile_id, type, timestamp, reason, payload FROM events WHERE run_id = ? ORDER BY timestamp, created_at"
	args := []any{runID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var records []EventRecord
	for rows.Next() {
		var r EventRecord
		var runID, reason, payload sql.NullString
		if err := rows.Scan(&r.ID, &runID, &r.ProfileID, &r.Type, &r.Timestamp, &reason, &payload); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		r.RunID = runID.String
		r.Reason = reason.String
		r.Payload = payload.String
		records = append(records, r)
	}
	return records, rows.Err()
}

// Cleanup removes runs and events older than the specified number of days.
func (d *DB) Cleanup(retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	res, err := d.db.Exec("DELETE FROM events WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleaning up events: %w", err)
	}
	events, _ := res.RowsAffected()

	res, err = d.db.Exec("DELETE FROM runs WHERE started_at < ?", cutoff)
	if err != nil {
		return events, fmt.Errorf("cleaning up runs: %w", err)
	}
	runs, _ := res.RowsAffected()
	return events + runs, nil
}

// Sink adapts the database to the event.Sink interface. Write failures are
// counted rather than propagated; the runtime must not stall on history IO.
type Sink struct {
	db     *DB
	Errors int
}

// NewSink wraps a DB as an event sink.
func NewSink(db *DB) *Sink { return &Sink{db: db} }

// Emit implements event.Sink.
func (s *Sink) Emit(e event.Event) {
	if err := s.db.RecordEvent(e); err != nil {
		s.Errors++
	}
}
