// Package db opens the Postgres connection and applies the schema.
package db

import (
	"context"
	"database/sql"
	_ "embed"
	"time"

	_ "github.com/lib/pq"

	"github.com/unclebandit/campaign-dispatch/internal/config"
	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/logger"
)

//go:embed schema.sql
var Schema string

// Open connects to Postgres and pings it.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, appErrors.NewConfigError("database.url", "must be set")
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, appErrors.Wrap(err, "open database")
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns / 2)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, appErrors.Wrap(err, "ping database")
	}
	logger.Logger.Info("connected to database")
	return db, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return appErrors.Wrap(err, "apply schema")
	}
	return nil
}
