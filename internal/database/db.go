// Package database persists the trade archive to PostgreSQL. The archive is
// write-through history; the engine never reads it on the trading path.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewDB creates a new database connection from a postgres:// URL.
func NewDB(ctx context.Context, url string, logger zerolog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log := logger.With().Str("component", "database").Logger()
	log.Info().Msg("Connected to PostgreSQL")

	return &DB{Pool: pool, logger: log}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("Database connection closed")
	}
}

// RunMigrations creates the trade archive schema.
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Msg("Running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS trade_archive (
			id UUID PRIMARY KEY,
			executed_at TIMESTAMPTZ NOT NULL,
			product VARCHAR(32) NOT NULL,
			action VARCHAR(32) NOT NULL,
			size_usd DECIMAL(20, 8) NOT NULL,
			leverage INTEGER NOT NULL,
			entry_price DECIMAL(20, 8),
			exit_price DECIMAL(20, 8),
			realized_pnl DECIMAL(20, 8),
			order_id VARCHAR(64),
			success BOOLEAN NOT NULL,
			error TEXT,
			reasoning TEXT NOT NULL,
			context JSONB,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_archive_product ON trade_archive(product)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_archive_executed_at ON trade_archive(executed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_archive_action ON trade_archive(action)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info().Msg("Database migrations completed")
	return nil
}
