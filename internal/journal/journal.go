// Package journal persists reconciliation run history to SQLite. It exists
// for operators: the status command and the admin endpoint read from here.
// Recording is best effort; a broken journal never fails a run.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	qerrors "github.com/ZMB-UZH/omero-docker-extended/internal/errors"
	"github.com/ZMB-UZH/omero-docker-extended/internal/reconcile"
)

// Journal stores run summaries and their per-group events.
type Journal struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open creates or opens the journal database.
// Use ":memory:" for an in-memory database, or a file path for persistent storage.
func Open(dbPath string) (*Journal, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, qerrors.Wrap(err, qerrors.CategoryJournal, qerrors.SeverityError,
				"create journal directory")
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, qerrors.Wrap(err, qerrors.CategoryJournal, qerrors.SeverityError,
			"open journal database")
	}

	j := &Journal{db: db}
	if err := j.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, qerrors.Wrap(err, qerrors.CategoryJournal, qerrors.SeverityError,
			"initialize journal schema")
	}

	return j, nil
}

func (j *Journal) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		trigger_type TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		desired_total INTEGER NOT NULL,
		stale_total INTEGER NOT NULL,
		applied INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		cleaned_stale INTEGER NOT NULL,
		failed_stale INTEGER NOT NULL,
		outcome TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS run_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		group_name TEXT NOT NULL,
		project_id INTEGER NOT NULL,
		action TEXT NOT NULL,
		message TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_run_events_run_id ON run_events(run_id);
	`
	_, err := j.db.Exec(schema)
	return err
}

// RecordRun writes one finished run and its events in a single transaction.
// It satisfies the engine's sink interface.
func (j *Journal) RecordRun(ctx context.Context, res *reconcile.Result) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin journal transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, trigger_type, started_at, duration_ms, desired_total,
			stale_total, applied, failed, cleaned_stale, failed_stale, outcome)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RunID, res.Trigger, res.StartedAt.Unix(), res.Duration.Milliseconds(),
		res.DesiredTotal, res.StaleTotal, res.Applied, res.Failed,
		res.CleanedStale, res.FailedStale, string(res.Outcome()),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, ev := range res.Events {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO run_events (run_id, group_name, project_id, action, message) VALUES (?, ?, ?, ?, ?)",
			res.RunID, ev.Group, ev.ProjectID, string(ev.Action), ev.Message,
		)
		if err != nil {
			return fmt.Errorf("insert run event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit journal transaction: %w", err)
	}
	return nil
}

// RunRecord is one stored run summary.
type RunRecord struct {
	RunID        string        `json:"run_id"`
	Trigger      string        `json:"trigger"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration_ns"`
	DesiredTotal int           `json:"desired_total"`
	StaleTotal   int           `json:"stale_total"`
	Applied      int           `json:"applied"`
	Failed       int           `json:"failed"`
	CleanedStale int           `json:"cleaned_stale"`
	FailedStale  int           `json:"failed_stale"`
	Outcome      string        `json:"outcome"`
}

// EventRecord is one stored per-group event.
type EventRecord struct {
	RunID     string `json:"run_id"`
	Group     string `json:"group"`
	ProjectID uint32 `json:"project_id"`
	Action    string `json:"action"`
	Message   string `json:"message,omitempty"`
}

// LastRun returns the most recent run, or nil when the journal is empty.
func (j *Journal) LastRun(ctx context.Context) (*RunRecord, error) {
	runs, err := j.Runs(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// Runs returns up to limit runs, newest first.
func (j *Journal) Runs(ctx context.Context, limit int) ([]RunRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT run_id, trigger_type, started_at, duration_ms, desired_total,
			stale_total, applied, failed, cleaned_stale, failed_stale, outcome
		 FROM runs ORDER BY started_at DESC, run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var r RunRecord
		var startedUnix, durationMS int64
		if err := rows.Scan(&r.RunID, &r.Trigger, &startedUnix, &durationMS,
			&r.DesiredTotal, &r.StaleTotal, &r.Applied, &r.Failed,
			&r.CleanedStale, &r.FailedStale, &r.Outcome); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = time.Unix(startedUnix, 0)
		r.Duration = time.Duration(durationMS) * time.Millisecond
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return records, nil
}

// EventsForRun returns a run's per-group events in processing order.
func (j *Journal) EventsForRun(ctx context.Context, runID string) ([]EventRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	rows, err := j.db.QueryContext(ctx,
		"SELECT run_id, group_name, project_id, action, message FROM run_events WHERE run_id = ? ORDER BY id",
		runID)
	if err != nil {
		return nil, fmt.Errorf("query run events: %w", err)
	}
	defer rows.Close()

	var records []EventRecord
	for rows.Next() {
		var e EventRecord
		var projectID int64
		if err := rows.Scan(&e.RunID, &e.Group, &projectID, &e.Action, &e.Message); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		e.ProjectID = uint32(projectID)
		records = append(records, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run events: %w", err)
	}
	return records, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.db.Close()
}
