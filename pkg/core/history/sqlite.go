package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go driver
)

const sqliteSchemaVersion = 1

// SQLiteStore keeps one row per session in a local SQLite file.
type SQLiteStore struct {
	DB *sql.DB
}

// OpenSQLite opens (or creates) the database at path with WAL journaling.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		path, (5 * time.Second).Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}

	s := &SQLiteStore{DB: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migration failed: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	var version int
	if err := s.DB.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	if version >= sqliteSchemaVersion {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		start_time_ms INTEGER NOT NULL,
		end_time_ms INTEGER,
		snapshot_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_start ON sessions(start_time_ms);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", sqliteSchemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error { return s.DB.Close() }

func (s *SQLiteStore) Save(ctx context.Context, snap Snapshot) error {
	buf, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	var end sql.NullInt64
	if snap.EndTime != nil {
		end = sql.NullInt64{Int64: snap.EndTime.UnixMilli(), Valid: true}
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO sessions (session_id, start_time_ms, end_time_ms, snapshot_json)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			start_time_ms = excluded.start_time_ms,
			end_time_ms = excluded.end_time_ms,
			snapshot_json = excluded.snapshot_json`,
		snap.SessionID, snap.StartTime.UnixMilli(), end, string(buf))
	return err
}

func (s *SQLiteStore) List(ctx context.Context) ([]Snapshot, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT snapshot_json FROM sessions ORDER BY start_time_ms DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var snap Snapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
