package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/me/kthreads/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	// The pragmas below are per connection, and every connection to
	// ":memory:" is a different database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Run CRUD ---

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	s.logger.Debug("sql", "op", "insert", "table", "runs", "id", run.ID)

	statsJSON, err := json.Marshal(run.Stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	state := run.State
	if state == "" {
		state = model.RunStateRunning
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, workload, mlfqs, state, ticks, stats, error, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Workload, run.MLFQS, string(state), run.Ticks, string(statsJSON), run.Error,
		run.CreatedAt.Format(time.RFC3339Nano), formatTime(run.CompletedAt),
	)
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	s.logger.Debug("sql", "op", "select", "table", "runs", "id", id)

	row := s.db.QueryRowContext(ctx,
		`SELECT id, workload, mlfqs, state, ticks, stats, error, created_at, completed_at
		 FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "runs", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	var whereClauses []string
	var countArgs []any
	if opts.State != "" {
		whereClauses = append(whereClauses, "state = ?")
		countArgs = append(countArgs, opts.State)
	}
	if opts.Workload != "" {
		whereClauses = append(whereClauses, "workload = ?")
		countArgs = append(countArgs, opts.Workload)
	}
	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`+whereSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery := `SELECT id, workload, mlfqs, state, ticks, stats, error, created_at, completed_at
		FROM runs` + whereSQL + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	listArgs := append(countArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *model.Run) error {
	s.logger.Debug("sql", "op", "update", "table", "runs", "id", run.ID, "state", run.State)

	statsJSON, err := json.Marshal(run.Stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, ticks = ?, stats = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(run.State), run.Ticks, string(statsJSON), run.Error, formatTime(run.CompletedAt), run.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(res, "run", run.ID)
}

func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	s.logger.Debug("sql", "op", "delete", "table", "runs", "id", id)

	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res, "run", id)
}

// --- Trace ---

func (s *SQLiteStore) AddEvents(ctx context.Context, runID string, events []model.Event) error {
	s.logger.Debug("sql", "op", "insert", "table", "events", "run_id", runID, "count", len(events))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (run_id, seq, tick, kind, tid, thread, priority, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx, runID, ev.Seq, ev.Tick, string(ev.Kind), ev.TID, ev.Thread, ev.Priority, ev.Detail); err != nil {
			return fmt.Errorf("insert event %d: %w", ev.Seq, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListEvents(ctx context.Context, runID string, filter EventFilter) ([]model.Event, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "events", "run_id", runID, "limit", filter.Limit, "offset", filter.Offset)
	filter.Clamp()

	whereClauses := []string{"run_id = ?"}
	countArgs := []any{runID}
	if filter.Kind != "" {
		whereClauses = append(whereClauses, "kind = ?")
		countArgs = append(countArgs, string(filter.Kind))
	}
	if filter.TID != nil {
		whereClauses = append(whereClauses, "tid = ?")
		countArgs = append(countArgs, *filter.TID)
	}
	if filter.FromTick > 0 {
		whereClauses = append(whereClauses, "tick >= ?")
		countArgs = append(countArgs, filter.FromTick)
	}
	if filter.ToTick > 0 {
		whereClauses = append(whereClauses, "tick <= ?")
		countArgs = append(countArgs, filter.ToTick)
	}
	whereSQL := " WHERE " + strings.Join(whereClauses, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`+whereSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery := `SELECT run_id, seq, tick, kind, tid, thread, priority, detail
		FROM events` + whereSQL + ` ORDER BY seq LIMIT ? OFFSET ?`
	listArgs := append(countArgs, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	events := []model.Event{}
	for rows.Next() {
		var ev model.Event
		var kind string
		if err := rows.Scan(&ev.RunID, &ev.Seq, &ev.Tick, &kind, &ev.TID, &ev.Thread, &ev.Priority, &ev.Detail); err != nil {
			return nil, 0, err
		}
		ev.Kind = model.EventKind(kind)
		events = append(events, ev)
	}
	return events, total, rows.Err()
}

func (s *SQLiteStore) PutThreads(ctx context.Context, runID string, threads []model.ThreadSummary) error {
	s.logger.Debug("sql", "op", "upsert", "table", "threads", "run_id", runID, "count", len(threads))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO threads (run_id, tid, name, final_priority, runs, first_run, exited, wait_p50, wait_p95)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, tid) DO UPDATE SET
		   name = excluded.name, final_priority = excluded.final_priority, runs = excluded.runs,
		   first_run = excluded.first_run, exited = excluded.exited,
		   wait_p50 = excluded.wait_p50, wait_p95 = excluded.wait_p95`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range threads {
		if _, err := stmt.ExecContext(ctx, runID, t.TID, t.Name, t.FinalPriority, t.Runs, t.FirstRun, t.Exited, t.WaitP50, t.WaitP95); err != nil {
			return fmt.Errorf("upsert thread %d: %w", t.TID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListThreads(ctx context.Context, runID string) ([]model.ThreadSummary, error) {
	s.logger.Debug("sql", "op", "list", "table", "threads", "run_id", runID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, tid, name, final_priority, runs, first_run, exited, wait_p50, wait_p95
		 FROM threads WHERE run_id = ? ORDER BY tid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	threads := []model.ThreadSummary{}
	for rows.Next() {
		var t model.ThreadSummary
		if err := rows.Scan(&t.RunID, &t.TID, &t.Name, &t.FinalPriority, &t.Runs, &t.FirstRun, &t.Exited, &t.WaitP50, &t.WaitP95); err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// --- helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*model.Run, error) {
	var run model.Run
	var state, statsJSON, createdAt string
	var completedAt *string

	if err := row.Scan(&run.ID, &run.Workload, &run.MLFQS, &state, &run.Ticks, &statsJSON, &run.Error, &createdAt, &completedAt); err != nil {
		return nil, err
	}
	run.State = model.RunState(state)
	if err := json.Unmarshal([]byte(statsJSON), &run.Stats); err != nil {
		return nil, fmt.Errorf("unmarshal stats: %w", err)
	}
	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if completedAt != nil {
		t, _ := time.Parse(time.RFC3339Nano, *completedAt)
		run.CompletedAt = &t
	}
	return &run, nil
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339Nano)
	return &s
}

func requireRow(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.NewNotFoundError(resource, id)
	}
	return nil
}
