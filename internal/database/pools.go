package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/pricefeed/internal/config"
)

// QuotesSchema creates the quote history table. The primary key makes
// re-inserted quotes a no-op.
const QuotesSchema = `
CREATE TABLE IF NOT EXISTS quotes (
    instrument   TEXT             NOT NULL,
    provider_ts  BIGINT           NOT NULL,
    received_at  BIGINT           NOT NULL,
    bid          DOUBLE PRECISION NOT NULL,
    ask          DOUBLE PRECISION NOT NULL,
    mid          DOUBLE PRECISION NOT NULL,
    tz_offset    INTEGER          NOT NULL DEFAULT 0,
    out_of_order BOOLEAN          NOT NULL DEFAULT FALSE,
    PRIMARY KEY (instrument, provider_ts)
)`

// Connect creates a single connection pool.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	connStr := BuildConnString(cfg)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// EnsureSchema creates the quotes table if it does not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, QuotesSchema); err != nil {
		return fmt.Errorf("create quotes table: %w", err)
	}
	return nil
}
