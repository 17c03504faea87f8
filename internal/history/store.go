// Package history persists per-entry sync outcomes across daemon runs.
//
// One row is written per manifest entry per run, which makes questions
// like "when did this kernel last change" and "how often does upstream
// fail" answerable without log archaeology.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/kernelsync/internal/syncer"
)

// Record is one persisted entry outcome.
type Record struct {
	ID       int64
	RunID    string
	URI      string
	Status   string
	Error    string
	Bytes    int64
	Duration time.Duration
	At       time.Time
}

// Store records sync reports in SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates a history store. Use ":memory:" for an in-memory database,
// or a file path for persistent storage.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		uri TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		bytes INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_run_id ON sync_results(run_id);
	CREATE INDEX IF NOT EXISTS idx_uri ON sync_results(uri);
	CREATE INDEX IF NOT EXISTS idx_at ON sync_results(at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordReport appends every entry result of a report.
func (s *Store) RecordReport(ctx context.Context, report *syncer.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO sync_results (run_id, uri, status, error, bytes, duration_ms, at) VALUES (?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	at := report.Finished.Unix()
	for _, e := range report.Entries {
		errText := ""
		if e.Err != nil {
			errText = e.Err.Error()
		}
		if _, err := stmt.ExecContext(ctx, report.RunID, e.Entry.URI, string(e.Status), errText, e.Bytes, e.Duration.Milliseconds(), at); err != nil {
			return fmt.Errorf("insert result: %w", err)
		}
	}
	return tx.Commit()
}

// ByRun retrieves all records for a specific run.
func (s *Store) ByRun(ctx context.Context, runID string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, run_id, uri, status, error, bytes, duration_ms, at FROM sync_results WHERE run_id = ? ORDER BY id",
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ByURI retrieves the most recent records for a URI, newest first.
func (s *Store) ByURI(ctx context.Context, uri string, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, run_id, uri, status, error, bytes, duration_ms, at FROM sync_results WHERE uri = ? ORDER BY id DESC LIMIT ?",
		uri, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var r Record
		var durationMS, atUnix int64
		var errText sql.NullString
		if err := rows.Scan(&r.ID, &r.RunID, &r.URI, &r.Status, &errText, &r.Bytes, &durationMS, &atUnix); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Error = errText.String
		r.Duration = time.Duration(durationMS) * time.Millisecond
		r.At = time.Unix(atUnix, 0)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
