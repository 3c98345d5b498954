// Package store persists agent runs and the tool cost ledger in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/farid/orbit/pkg/scheduler"
)

// Store wraps a SQLite database. Callers with bespoke queries go through
// Query/Execute/Transaction; the typed helpers cover the hot paths.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (creating if needed) the database at path.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for concurrent readers alongside the writer.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info().Str("path", path).Msg("Store opened")
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agent_runs (
			id TEXT PRIMARY KEY,
			agent TEXT NOT NULL,
			"trigger" TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			error TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_runs_agent ON agent_runs(agent, started_at);
		CREATE INDEX IF NOT EXISTS idx_runs_status ON agent_runs(status);

		CREATE TABLE IF NOT EXISTS cost_ledger (
			day TEXT NOT NULL,
			tool TEXT NOT NULL,
			amount REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (day, tool)
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Query runs a read returning rows.
func (s *Store) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

// Execute runs a statement returning no rows.
func (s *Store) Execute(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

// Transaction runs fn inside a transaction, rolling back on error.
func (s *Store) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error().Err(rbErr).Msg("Rollback failed")
		}
		return err
	}
	return tx.Commit()
}

// RecordRun persists one agent run.
func (s *Store) RecordRun(run scheduler.Run) error {
	_, err := s.db.Exec(
		`INSERT INTO agent_runs (id, agent, "trigger", status, started_at, duration_ms, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Agent, run.Trigger, run.Status,
		run.StartedAt.UnixMilli(), run.Duration.Milliseconds(), run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// RecentRuns returns the latest runs for an agent, newest first. An empty
// agent returns runs across all agents.
func (s *Store) RecentRuns(ctx context.Context, agent string, limit int) ([]scheduler.Run, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, agent, "trigger", status, started_at, duration_ms, error
	          FROM agent_runs`
	args := []interface{}{}
	if agent != "" {
		query += " WHERE agent = ?"
		args = append(args, agent)
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []scheduler.Run{}
	for rows.Next() {
		var run scheduler.Run
		var startedAt, durationMs int64
		var errMsg sql.NullString
		if err := rows.Scan(&run.ID, &run.Agent, &run.Trigger, &run.Status, &startedAt, &durationMs, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.StartedAt = time.UnixMilli(startedAt)
		run.Duration = time.Duration(durationMs) * time.Millisecond
		run.Error = errMsg.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Charge accumulates cost for (day, tool). Days use YYYY-MM-DD so monthly
// totals are a prefix query.
func (s *Store) Charge(day string, tool string, amount float64) error {
	_, err := s.db.Exec(
		`INSERT INTO cost_ledger (day, tool, amount) VALUES (?, ?, ?)
		 ON CONFLICT(day, tool) DO UPDATE SET amount = amount + excluded.amount`,
		day, tool, amount,
	)
	if err != nil {
		return fmt.Errorf("failed to charge cost: %w", err)
	}
	return nil
}

// LoadCosts sums the ledger for the given day and its month, for seeding
// in-memory counters at startup.
func (s *Store) LoadCosts(ctx context.Context, day string) (daily float64, monthly float64, err error) {
	if len(day) < 7 {
		return 0, 0, fmt.Errorf("invalid day key: %s", day)
	}
	month := day[:7]

	row := s.db.QueryRowContext(ctx,
		`SELECT
		   COALESCE(SUM(CASE WHEN day = ? THEN amount ELSE 0 END), 0),
		   COALESCE(SUM(amount), 0)
		 FROM cost_ledger WHERE day LIKE ? || '%'`,
		day, month,
	)
	if err := row.Scan(&daily, &monthly); err != nil {
		return 0, 0, fmt.Errorf("failed to load costs: %w", err)
	}
	return daily, monthly, nil
}
