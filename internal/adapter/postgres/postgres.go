// Package postgres implements the domain repositories using PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"weightsvc/internal/domain"
)

const (
	connectAttempts = 5
	maxConnectDelay = 30 * time.Second
)

// DB wraps a *sql.DB and implements domain repository interfaces.
type DB struct {
	sql *sql.DB
}

var _ domain.Store = (*DB)(nil)

// New wraps an already opened database handle without migrating it.
func New(db *sql.DB) *DB {
	return &DB{sql: db}
}

// Open connects to PostgreSQL, pings with bounded retries, and runs migrations.
func Open(ctx context.Context, connStr string, logger *slog.Logger) (*DB, error) {
	s, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	s.SetMaxOpenConns(10)
	s.SetMaxIdleConns(5)
	s.SetConnMaxLifetime(5 * time.Minute)

	if err := pingWithRetry(ctx, s, logger); err != nil {
		_ = s.Close()
		return nil, err
	}

	d := New(s)
	mctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := d.migrate(mctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return d, nil
}

func pingWithRetry(ctx context.Context, s *sql.DB, logger *slog.Logger) error {
	delay := time.Second
	var err error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = s.PingContext(pctx)
		cancel()
		if err == nil {
			return nil
		}
		if attempt == connectAttempts {
			break
		}
		logger.WarnContext(ctx, "postgres not reachable, retrying", "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, maxConnectDelay)
	}
	return errors.Wrapf(err, "postgres ping after %d attempts", connectAttempts)
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

// Ping checks connectivity for health reporting.
func (d *DB) Ping(ctx context.Context) error {
	return domain.Infrastructure(d.sql.PingContext(ctx), "postgres ping")
}

func (d *DB) migrate(ctx context.Context) error {
	stmts := []string{
		"CREATE TABLE IF NOT EXISTS users (id UUID PRIMARY KEY, tg_id TEXT NOT NULL UNIQUE, name TEXT NOT NULL DEFAULT '', registration_time TIMESTAMPTZ NOT NULL);",
		"CREATE TABLE IF NOT EXISTS measurements (id UUID PRIMARY KEY, weight DOUBLE PRECISION NOT NULL CHECK (weight > 0), date TIMESTAMPTZ NOT NULL, user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE);",
		"CREATE INDEX IF NOT EXISTS idx_measurements_user_id ON measurements(user_id);",
	}

	for _, stmt := range stmts {
		if _, err := d.sql.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// pqCode extracts the SQLSTATE of a lib/pq error.
func pqCode(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}

const (
	uniqueViolation     pq.ErrorCode = "23505"
	foreignKeyViolation pq.ErrorCode = "23503"
)
