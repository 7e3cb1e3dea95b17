package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxConns = 10
	MinConns        = 2
	MaxConnLifetime = 10 * time.Minute
	MaxConnIdleTime = 5 * time.Minute

	applicationName = "inboxsync"
)

// NewPostgresPool opens the pool used for repository queries, capped at
// maxConns connections. Postgres change feed listeners dial their own
// connections from the pool's config and do not count against the cap.
func NewPostgresPool(ctx context.Context, databaseURL string, maxConns int32) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	if maxConns <= 0 {
		maxConns = DefaultMaxConns
	}
	poolConfig.MaxConns = maxConns
	poolConfig.MinConns = min(MinConns, maxConns)
	poolConfig.MaxConnLifetime = MaxConnLifetime
	poolConfig.MaxConnIdleTime = MaxConnIdleTime
	if _, ok := poolConfig.ConnConfig.RuntimeParams["application_name"]; !ok {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = applicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}

	log.Info().
		Int32("max_conns", poolConfig.MaxConns).
		Str("database", poolConfig.ConnConfig.Database).
		Msg("Postgres pool ready")
	return pool, nil
}
