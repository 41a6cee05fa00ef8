// Package db opens the Postgres pool shared by the invoice and tariff stores.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolOptions tunes the pool for the calling binary.
type PoolOptions struct {
	AppName string
	// Workers is the estimation fan-out; the pool keeps two spare
	// connections above it for invoice writes.
	Workers int
	// StatementTimeout bounds server-side statements and idle transactions.
	StatementTimeout time.Duration
}

func (o PoolOptions) withDefaults() PoolOptions {
	if o.AppName == "" {
		o.AppName = "freightcontrol"
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.StatementTimeout <= 0 {
		o.StatementTimeout = 10 * time.Second
	}
	return o
}

// NewPool parses databaseURL and opens a pgx pool sized from opts.
func NewPool(ctx context.Context, databaseURL string, opts PoolOptions) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	opts = opts.withDefaults()

	cfg.MaxConns = int32(opts.Workers + 2)
	cfg.MinConns = 0
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	ms := fmt.Sprintf("%d", opts.StatementTimeout.Milliseconds())
	params := cfg.ConnConfig.RuntimeParams
	params["application_name"] = opts.AppName
	params["search_path"] = "public"
	params["client_encoding"] = "UTF8"
	params["timezone"] = "UTC"
	params["statement_timeout"] = ms
	params["idle_in_transaction_session_timeout"] = ms

	return pgxpool.NewWithConfig(ctx, cfg)
}
