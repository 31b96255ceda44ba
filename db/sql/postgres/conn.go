package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

var (
	ErrMissingDSN        = errors.New("postgres: DSN is required")
	ErrInvalidIdentifier = errors.New("postgres: invalid table or channel name")
)

func buildOptions(opts ...Option) (Options, error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.DSN == "" {
		return cfg, ErrMissingDSN
	}
	if !identifier.MatchString(cfg.Table) || !identifier.MatchString(cfg.Channel) {
		return cfg, fmt.Errorf("%w: %q, %q", ErrInvalidIdentifier, cfg.Table, cfg.Channel)
	}
	return cfg, nil
}

// Open connects to PostgreSQL and applies pool settings.
func Open(ctx context.Context, opts ...Option) (*sql.DB, error) {
	cfg, err := buildOptions(opts...)
	if err != nil {
		return nil, err
	}
	return open(ctx, cfg)
}

func open(ctx context.Context, cfg Options) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns >= 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return db, nil
}
