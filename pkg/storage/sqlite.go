package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ogulcanaydogan/cuemeter/pkg/model"
	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite"
)

// SQLite implements the Storage interface using an SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens or creates an SQLite database at the given path.
func NewSQLite(dbPath string) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) LoadTables(ctx context.Context) ([]model.TableConfig, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, schedule FROM table_config ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("load tables: %w", err)
	}
	defer rows.Close()

	var tables []model.TableConfig
	for rows.Next() {
		var (
			t        model.TableConfig
			schedule string
		)
		if err := rows.Scan(&t.ID, &schedule); err != nil {
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		if err := json.Unmarshal([]byte(schedule), &t.Schedule); err != nil {
			return nil, fmt.Errorf("decode schedule for table %s: %w", t.ID, err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return nil, ErrNotFound
	}
	return tables, nil
}

func (s *SQLite) SaveTables(ctx context.Context, tables []model.TableConfig) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tables: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM table_config"); err != nil {
		return fmt.Errorf("clear tables: %w", err)
	}
	for i, t := range tables {
		schedule, err := json.Marshal(t.Schedule)
		if err != nil {
			return fmt.Errorf("encode schedule for table %s: %w", t.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO table_config (id, position, schedule) VALUES (?, ?, ?)",
			t.ID, i, string(schedule),
		); err != nil {
			return fmt.Errorf("insert table %s: %w", t.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tables: %w", err)
	}
	return nil
}

func (s *SQLite) AppendSession(ctx context.Context, record *model.SessionRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, table_id, started_at, ended_at, elapsed_seconds, total_cost, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.TableID,
		record.StartedAt.UTC(), record.EndedAt.UTC(),
		record.ElapsedSeconds, record.TotalCost.String(),
		record.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLite) ListSessions(ctx context.Context, filter model.HistoryFilter) ([]model.SessionRecord, error) {
	query := "SELECT id, table_id, started_at, ended_at, elapsed_seconds, total_cost, created_at FROM sessions"
	where, args := buildWhereClause(filter)
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var records []model.SessionRecord
	for rows.Next() {
		var (
			r    model.SessionRecord
			cost string
		)
		if err := rows.Scan(&r.ID, &r.TableID, &r.StartedAt, &r.EndedAt,
			&r.ElapsedSeconds, &cost, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		if r.TotalCost, err = decimal.NewFromString(cost); err != nil {
			return nil, fmt.Errorf("decode cost of session %s: %w", r.ID, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLite) DeleteSessions(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions"); err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	return nil
}

func (s *SQLite) SaveSnapshot(ctx context.Context, states map[string]model.TimerState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM timer_snapshots"); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	now := time.Now().UTC()
	for id, state := range states {
		data, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("encode state for table %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO timer_snapshots (table_id, state, saved_at) VALUES (?, ?, ?)",
			id, string(data), now,
		); err != nil {
			return fmt.Errorf("insert state for table %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

func (s *SQLite) LoadSnapshot(ctx context.Context) (map[string]model.TimerState, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT table_id, state FROM timer_snapshots")
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	defer rows.Close()

	states := make(map[string]model.TimerState)
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		var state model.TimerState
		if err := json.Unmarshal([]byte(data), &state); err != nil {
			return nil, fmt.Errorf("decode state for table %s: %w", id, err)
		}
		states[id] = state
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return nil, ErrNotFound
	}
	return states, nil
}

func (s *SQLite) ClearSnapshot(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM timer_snapshots"); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// buildWhereClause constructs a SQL WHERE clause from a HistoryFilter.
// Time bounds are inclusive and apply to the session start.
func buildWhereClause(filter model.HistoryFilter) (string, []any) {
	var conditions []string
	var args []any

	if filter.TableID != "" {
		conditions = append(conditions, "table_id = ?")
		args = append(args, filter.TableID)
	}
	if !filter.StartTime.IsZero() {
		conditions = append(conditions, "started_at >= ?")
		args = append(args, filter.StartTime.UTC())
	}
	if !filter.EndTime.IsZero() {
		conditions = append(conditions, "started_at <= ?")
		args = append(args, filter.EndTime.UTC())
	}

	return strings.Join(conditions, " AND "), args
}

// IsNotFound reports whether err means a record was never saved.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
