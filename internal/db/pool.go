// Package db manages the shared Postgres connection pool used by scrape
// history, chat room persistence, and image reingest bookkeeping.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/asepharyana/gatewayd/internal/config"
)

// Pool wraps a pgxpool.Pool so callers depend on this package instead of
// pgx directly, the same way the browser package hides rod behind Pool.
type Pool struct {
	*pgxpool.Pool
}

// Open parses cfg.DatabaseURL, applies the pool-size bound, and verifies
// connectivity with a bounded ping before returning.
func Open(ctx context.Context, cfg *config.Config) (*Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL not configured")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.DatabaseMaxConns)
	poolCfg.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, cfg.DatabaseConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info().
		Int32("max_conns", poolCfg.MaxConns).
		Msg("database connection pool established")

	return &Pool{Pool: pool}, nil
}

// Close releases all pooled connections. Safe to call on a nil receiver
// so shutdown paths don't need a separate nil check when the pool was
// never opened (e.g. DATABASE_URL unset in a dev environment).
func (p *Pool) Close() {
	if p == nil || p.Pool == nil {
		return
	}
	p.Pool.Close()
	log.Info().Msg("database connection pool closed")
}
