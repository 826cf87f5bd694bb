package storage

import (
	"context"
	"fmt"

	"github.com/KevinKickass/OpenMatrixCore/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresClient struct {
	pool *pgxpool.Pool
}

func NewPostgresClient(ctx context.Context, cfg config.DatabaseConfig) (*PostgresClient, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}

	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConnections)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	// Connection testen
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{pool: pool}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS matrix_devices (
	id                 UUID PRIMARY KEY,
	name               TEXT NOT NULL UNIQUE,
	host               TEXT NOT NULL,
	port               INTEGER NOT NULL DEFAULT 0,
	password           TEXT NOT NULL DEFAULT '',
	num_inputs         INTEGER NOT NULL,
	num_outputs        INTEGER NOT NULL,
	enabled            BOOLEAN NOT NULL DEFAULT TRUE,
	command_timeout_ms INTEGER NOT NULL DEFAULT 0,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS route_events (
	id           BIGSERIAL PRIMARY KEY,
	device_id    UUID NOT NULL,
	device_name  TEXT NOT NULL,
	output       INTEGER NOT NULL,
	signal       TEXT NOT NULL,
	previous     INTEGER NOT NULL,
	input        INTEGER NOT NULL,
	source       TEXT NOT NULL,
	occurred_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS route_events_device_time ON route_events (device_id, occurred_at DESC);
`

// EnsureSchema creates the tables if they do not exist.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (p *PostgresClient) Close() {
	p.pool.Close()
}

func (p *PostgresClient) Pool() *pgxpool.Pool {
	return p.pool
}
