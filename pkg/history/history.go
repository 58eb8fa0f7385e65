// Package history persists run and test outcome records in SQLite so
// operators can see which failures were infrastructure and which were
// regressions across runs.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/devicelab-dev/mobile-harness/pkg/logger"
)

var log = logger.ForComponent(logger.CompHistory)

// SchemaVersion tracks the current database schema version.
const SchemaVersion = 1

// Store wraps the history database. A nil *Store is valid and records nothing.
// Multiple processes may write through WAL mode and the busy timeout.
type Store struct {
	db *sql.DB
}

// Run is one process lifetime.
type Run struct {
	RunID     string
	StartedAt time.Time
	Env       string
	Cleaned   bool
	Deleted   int
}

// Outcome is one finished test.
type Outcome struct {
	ID             string
	RunID          string
	Group          string
	Test           string
	Worker         string
	Device         string
	Status         string
	Infrastructure bool
	Message        string
	Screenshot     string
	Duration       time.Duration
	FinishedAt     time.Time
}

// Open creates or opens the database at dbPath and applies the schema.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("history: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	// busy_timeout is per connection; one connection keeps it in force.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("history: %s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close checkpoints WAL and closes the database.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

func (s *Store) migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("history: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id     TEXT PRIMARY KEY,
			started_at INTEGER NOT NULL,
			env        TEXT NOT NULL DEFAULT '',
			cleaned    INTEGER NOT NULL DEFAULT 0,
			deleted    INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS outcomes (
			id             TEXT PRIMARY KEY,
			run_id         TEXT NOT NULL,
			group_name     TEXT NOT NULL DEFAULT '',
			test           TEXT NOT NULL,
			worker         TEXT NOT NULL DEFAULT '',
			device         TEXT NOT NULL DEFAULT '',
			status         TEXT NOT NULL,
			infrastructure INTEGER NOT NULL DEFAULT 0,
			message        TEXT NOT NULL DEFAULT '',
			screenshot     TEXT NOT NULL DEFAULT '',
			duration_ms    INTEGER NOT NULL DEFAULT 0,
			finished_at    INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_finished ON outcomes(finished_at)`,
		`INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)`,
	}
	for i, stmt := range stmts {
		var args []interface{}
		if i == len(stmts)-1 {
			args = append(args, fmt.Sprint(SchemaVersion))
		}
		if _, err := tx.Exec(stmt, args...); err != nil {
			return fmt.Errorf("history: migrate: %w", err)
		}
	}
	return tx.Commit()
}

// RecordRun inserts or updates the run row. Cleanup results from a later
// group start never unset an earlier cleaned flag.
func (s *Store) RecordRun(ctx context.Context, r Run) error {
	if s == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, started_at, env, cleaned, deleted)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			cleaned = MAX(runs.cleaned, excluded.cleaned),
			deleted = runs.deleted + excluded.deleted
	`, r.RunID, r.StartedAt.UnixMilli(), r.Env, boolToInt(r.Cleaned), r.Deleted)
	if err != nil {
		return fmt.Errorf("history: record run: %w", err)
	}
	return nil
}

// RecordOutcome inserts a test outcome and returns its id.
func (s *Store) RecordOutcome(ctx context.Context, o Outcome) (string, error) {
	if s == nil {
		return "", nil
	}
	if o.ID == "" {
		o.ID = ulid.Make().String()
	}
	if o.FinishedAt.IsZero() {
		o.FinishedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outcomes (id, run_id, group_name, test, worker, device, status,
			infrastructure, message, screenshot, duration_ms, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.ID, o.RunID, o.Group, o.Test, o.Worker, o.Device, o.Status,
		boolToInt(o.Infrastructure), o.Message, o.Screenshot,
		o.Duration.Milliseconds(), o.FinishedAt.UnixMilli())
	if err != nil {
		return "", fmt.Errorf("history: record outcome: %w", err)
	}
	log.Debug("outcome recorded", "id", o.ID, "test", o.Test, "status", o.Status)
	return o.ID, nil
}

// Recent returns up to limit outcomes, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Outcome, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, group_name, test, worker, device, status,
			infrastructure, message, screenshot, duration_ms, finished_at
		FROM outcomes ORDER BY finished_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query outcomes: %w", err)
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var o Outcome
		var infra int
		var durMs, finished int64
		if err := rows.Scan(&o.ID, &o.RunID, &o.Group, &o.Test, &o.Worker, &o.Device, &o.Status,
			&infra, &o.Message, &o.Screenshot, &durMs, &finished); err != nil {
			return nil, fmt.Errorf("history: scan outcome: %w", err)
		}
		o.Infrastructure = infra != 0
		o.Duration = time.Duration(durMs) * time.Millisecond
		o.FinishedAt = time.UnixMilli(finished)
		out = append(out, o)
	}
	return out, rows.Err()
}

// GetRun loads a run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (Run, bool, error) {
	if s == nil {
		return Run{}, false, nil
	}
	var r Run
	var started int64
	var cleaned int
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, started_at, env, cleaned, deleted FROM runs WHERE run_id = ?`, runID,
	).Scan(&r.RunID, &started, &r.Env, &cleaned, &r.Deleted)
	if err == sql.ErrNoRows {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, fmt.Errorf("history: get run: %w", err)
	}
	r.StartedAt = time.UnixMilli(started)
	r.Cleaned = cleaned != 0
	return r, true, nil
}

// Summary counts outcomes of one run by status.
func (s *Store) Summary(ctx context.Context, runID string) (map[string]int, error) {
	if s == nil {
		return map[string]int{}, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM outcomes WHERE run_id = ? GROUP BY status`, runID)
	if err != nil {
		return nil, fmt.Errorf("history: summary: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("history: scan summary: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
