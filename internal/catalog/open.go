package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolOptions tunes the PostgreSQL connection pool. Zero fields keep the
// pgxpool defaults. SQLite ignores them.
type PoolOptions struct {
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// IsPostgresDSN reports whether dsn names a PostgreSQL server rather than a
// SQLite file.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Open connects to the backend named by dsn and makes sure its schema
// exists. PostgreSQL URLs get a pool tuned by opts; anything else is
// treated as a SQLite path.
func Open(ctx context.Context, dsn string, opts ...PoolOptions) (Backend, error) {
	if dsn == "" {
		return nil, fmt.Errorf("catalog: empty database location")
	}
	if !IsPostgresDSN(dsn) {
		return OpenSQLite(strings.TrimPrefix(dsn, "sqlite://"))
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	for _, o := range opts {
		if o.MaxConns > 0 {
			poolConfig.MaxConns = int32(o.MaxConns)
		}
		if o.MinConns > 0 {
			poolConfig.MinConns = int32(o.MinConns)
		}
		if o.MaxConnLifetime > 0 {
			poolConfig.MaxConnLifetime = o.MaxConnLifetime
		}
		if o.MaxConnIdleTime > 0 {
			poolConfig.MaxConnIdleTime = o.MaxConnIdleTime
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}
