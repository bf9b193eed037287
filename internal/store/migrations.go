package store

import (
	"context"
	"database/sql"
	"strings"
)

// schema contains the DDL for all tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id           TEXT PRIMARY KEY,
		workload     TEXT NOT NULL,
		mlfqs        INTEGER NOT NULL DEFAULT 0,
		state        TEXT NOT NULL DEFAULT 'RUNNING',
		ticks        INTEGER NOT NULL DEFAULT 0,
		stats        TEXT NOT NULL DEFAULT '{}',
		error        TEXT NOT NULL DEFAULT '',
		created_at   TEXT NOT NULL,
		completed_at TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS events (
		run_id   TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq      INTEGER NOT NULL,
		tick     INTEGER NOT NULL,
		kind     TEXT NOT NULL,
		tid      INTEGER NOT NULL,
		thread   TEXT NOT NULL,
		priority INTEGER NOT NULL,
		detail   TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, seq)
	)`,

	`CREATE TABLE IF NOT EXISTS threads (
		run_id         TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		tid            INTEGER NOT NULL,
		name           TEXT NOT NULL,
		final_priority INTEGER NOT NULL,
		runs           INTEGER NOT NULL DEFAULT 0,
		first_run      INTEGER NOT NULL DEFAULT -1,
		exited         INTEGER NOT NULL DEFAULT -1,
		wait_p50       REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, tid)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_runs_state ON runs(state)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_workload ON runs(workload)`,
	// Compound index for per-thread trace queries
	`CREATE INDEX IF NOT EXISTS idx_events_run_tid ON events(run_id, tid)`,
	`CREATE INDEX IF NOT EXISTS idx_events_run_kind ON events(run_id, kind)`,
}

// alterStatements are column additions that need special handling since
// SQLite doesn't support IF NOT EXISTS for ALTER TABLE ADD COLUMN.
var alterStatements = []struct {
	table    string
	column   string
	alterSQL string
	indexSQL string // Optional index to create after column is added
}{
	{
		table:    "threads",
		column:   "wait_p95",
		alterSQL: "ALTER TABLE threads ADD COLUMN wait_p95 REAL NOT NULL DEFAULT 0",
	},
	{
		table:    "events",
		column:   "tick",
		alterSQL: "ALTER TABLE events ADD COLUMN tick INTEGER NOT NULL DEFAULT 0",
		indexSQL: "CREATE INDEX IF NOT EXISTS idx_events_run_tick ON events(run_id, tick)",
	},
}

// migrate executes all schema DDL statements, alter migrations, and post-migration indexes.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	for _, alter := range alterStatements {
		if err := addColumnIfNotExists(ctx, db, alter.table, alter.column, alter.alterSQL); err != nil {
			return err
		}
		if alter.indexSQL != "" {
			if _, err := db.ExecContext(ctx, alter.indexSQL); err != nil {
				return err
			}
		}
	}
	return nil
}

// addColumnIfNotExists adds a column to a table if it doesn't already exist.
func addColumnIfNotExists(ctx context.Context, db *sql.DB, table, column, alterSQL string) error {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue *string
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if strings.EqualFold(name, column) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	_, err = db.ExecContext(ctx, alterSQL)
	return err
}
