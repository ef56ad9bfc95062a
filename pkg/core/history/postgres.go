package history

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore keeps snapshots in a JSONB column.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and applies pending migrations.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, sub)
	if err != nil {
		return err
	}
	_, err = provider.Up(ctx)
	return err
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, snap Snapshot) error {
	buf, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO sessions (session_id, start_time, end_time, snapshot, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (session_id) DO UPDATE SET
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			snapshot = EXCLUDED.snapshot,
			updated_at = now()`,
		snap.SessionID, snap.StartTime, snap.EndTime, buf)
	return err
}

func (s *PostgresStore) List(ctx context.Context) ([]Snapshot, error) {
	rows, err := s.pool.Query(ctx, `SELECT snapshot FROM sessions ORDER BY start_time DESC`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Snapshot, error) {
		var raw []byte
		if err := row.Scan(&raw); err != nil {
			return Snapshot{}, err
		}
		var snap Snapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
		}
		return snap, nil
	})
}

func (s *PostgresStore) Delete(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
