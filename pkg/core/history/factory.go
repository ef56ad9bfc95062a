package history

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ClosableStore is a Store that owns a connection or file handle.
type ClosableStore interface {
	Store
	io.Closer
}

// Open creates a store for the configured backend. dsn is a file path for
// sqlite and badger and a connection URL for postgres and redis.
func Open(ctx context.Context, backend, dsn string) (ClosableStore, error) {
	if backend == "" {
		backend = "memory"
	}
	switch backend {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		if dsn == "" {
			return nil, fmt.Errorf("sqlite backend requires a database path")
		}
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory: %w", err)
		}
		return OpenSQLite(dsn)
	case "badger":
		return OpenBadger(dsn)
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("postgres backend requires a DSN")
		}
		return OpenPostgres(ctx, dsn)
	case "redis":
		if dsn == "" {
			return nil, fmt.Errorf("redis backend requires a URL")
		}
		return OpenRedis(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown history backend: %s", backend)
	}
}
