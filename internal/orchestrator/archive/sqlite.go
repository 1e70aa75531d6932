package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/wesleyorama2/loadctl/internal/orchestrator"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS samples (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id         TEXT    NOT NULL,
	test_id        TEXT    NOT NULL,
	timestamp_ns   INTEGER NOT NULL,
	latency_ms     REAL    NOT NULL,
	success        INTEGER NOT NULL,
	response_bytes INTEGER NOT NULL,
	ttfb_ms        REAL    NOT NULL DEFAULT 0,
	request        TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_samples_run_test ON samples (run_id, test_id);
`

// SQLiteArchive stores samples in a SQLite database file.
type SQLiteArchive struct {
	db *sql.DB
}

// NewSQLiteArchive opens (creating if needed) the database at path.
func NewSQLiteArchive(path string) (*SQLiteArchive, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteArchive{db: db}, nil
}

// Write inserts samples in a single transaction.
func (a *SQLiteArchive) Write(ctx context.Context, runID, testID string, samples []orchestrator.RequestSample) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO samples (run_id, test_id, timestamp_ns, latency_ms, success, response_bytes, ttfb_ms, request)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range samples {
		if _, err := stmt.ExecContext(ctx, runID, testID, s.Timestamp.UnixNano(), s.LatencyMs, s.Success, s.ResponseBytes, s.TimeToFirstByteMs, s.Request); err != nil {
			return fmt.Errorf("failed to insert sample: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit samples: %w", err)
	}
	return nil
}

// Samples returns the samples stored for one test of a run in insertion order.
func (a *SQLiteArchive) Samples(ctx context.Context, runID, testID string) ([]orchestrator.RequestSample, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT timestamp_ns, latency_ms, success, response_bytes, ttfb_ms, request
		FROM samples WHERE run_id = ? AND test_id = ?
		ORDER BY id
	`, runID, testID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []orchestrator.RequestSample
	for rows.Next() {
		var (
			ts int64
			s  orchestrator.RequestSample
		)
		if err := rows.Scan(&ts, &s.LatencyMs, &s.Success, &s.ResponseBytes, &s.TimeToFirstByteMs, &s.Request); err != nil {
			return nil, err
		}
		s.Timestamp = time.Unix(0, ts).UTC()
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// Tests lists the test IDs archived for a run.
func (a *SQLiteArchive) Tests(ctx context.Context, runID string) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT DISTINCT test_id FROM samples WHERE run_id = ? ORDER BY test_id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database connection
func (a *SQLiteArchive) Close() error {
	return a.db.Close()
}
