// Package sqlite implements the domain repositories on an embedded SQLite
// database. It suits single-node deployments and local development.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"weightsvc/internal/domain"
)

// DB wraps a *sql.DB and implements domain repository interfaces.
type DB struct {
	sql *sql.DB
}

var _ domain.Store = (*DB)(nil)

// Open opens (or creates) the database at path and runs migrations. Use
// ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*DB, error) {
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	s, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; a single connection also keeps ":memory:" alive.
	s.SetMaxOpenConns(1)

	d := &DB{sql: s}
	if err := d.migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.sql.Close()
}

// Ping checks that the database is usable.
func (d *DB) Ping(ctx context.Context) error {
	return domain.Infrastructure(d.sql.PingContext(ctx), "sqlite ping")
}

func (d *DB) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			tg_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			registration_time TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS measurements (
			id TEXT PRIMARY KEY,
			weight REAL NOT NULL CHECK (weight > 0),
			date TEXT NOT NULL,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_measurements_user_id ON measurements(user_id);`,
	}
	for _, stmt := range stmts {
		if _, err := d.sql.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Fixed width keeps lexical order equal to chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type constraint int

const (
	noConstraint constraint = iota
	uniqueConstraint
	foreignKeyConstraint
)

// violated maps a driver error to the constraint it broke, if any.
func violated(err error) constraint {
	var e *sqlite.Error
	if !errors.As(err, &e) {
		return noConstraint
	}
	switch e.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return uniqueConstraint
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return foreignKeyConstraint
	}
	if e.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		msg := e.Error()
		switch {
		case strings.Contains(msg, "FOREIGN KEY"):
			return foreignKeyConstraint
		case strings.Contains(msg, "UNIQUE"):
			return uniqueConstraint
		}
	}
	return noConstraint
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	return t.UTC(), err
}

// AddUser inserts a user. A duplicate TgID yields domain.ErrConflict.
func (d *DB) AddUser(ctx context.Context, u *domain.User) error {
	_, err := d.sql.ExecContext(ctx,
		"INSERT INTO users (id, tg_id, name, registration_time) VALUES (?, ?, ?, ?)",
		u.ID.String(), u.TgID, u.Name, formatTime(u.RegisteredAt),
	)
	if violated(err) == uniqueConstraint {
		return errors.Wrapf(domain.ErrConflict, "user %s", u.TgID)
	}
	return domain.Infrastructure(err, "insert user")
}

// GetUserByTgID retrieves a user by correlation key.
func (d *DB) GetUserByTgID(ctx context.Context, tgID string) (*domain.User, error) {
	return d.scanUser(d.sql.QueryRowContext(ctx,
		"SELECT id, tg_id, name, registration_time FROM users WHERE tg_id = ?", tgID))
}

// GetUserByID retrieves a user by internal id.
func (d *DB) GetUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return d.scanUser(d.sql.QueryRowContext(ctx,
		"SELECT id, tg_id, name, registration_time FROM users WHERE id = ?", id.String()))
}

func (d *DB) scanUser(row *sql.Row) (*domain.User, error) {
	var (
		u   domain.User
		reg string
	)
	err := row.Scan(&u.ID, &u.TgID, &u.Name, &reg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, domain.Infrastructure(err, "select user")
	}
	if u.RegisteredAt, err = parseTime(reg); err != nil {
		return nil, domain.Infrastructure(err, "parse registration_time")
	}
	return &u, nil
}

// AddMeasurement inserts a measurement; the owner must exist.
func (d *DB) AddMeasurement(ctx context.Context, m *domain.Measurement) error {
	_, err := d.sql.ExecContext(ctx,
		"INSERT INTO measurements (id, weight, date, user_id) VALUES (?, ?, ?, ?)",
		m.ID.String(), m.Weight, formatTime(m.Date), m.UserID.String(),
	)
	switch violated(err) {
	case foreignKeyConstraint:
		return errors.Wrapf(domain.ErrUserNotFound, "owner %s", m.UserID)
	case uniqueConstraint:
		return errors.Wrapf(domain.ErrConflict, "measurement %s", m.ID)
	}
	return domain.Infrastructure(err, "insert measurement")
}

// GetMeasurement retrieves a measurement by id.
func (d *DB) GetMeasurement(ctx context.Context, id uuid.UUID) (*domain.Measurement, error) {
	row := d.sql.QueryRowContext(ctx,
		"SELECT id, weight, date, user_id FROM measurements WHERE id = ?", id.String())
	m, err := scanMeasurement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMeasurementNotFound
	}
	if err != nil {
		return nil, domain.Infrastructure(err, "select measurement")
	}
	return m, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMeasurement(row scanner) (*domain.Measurement, error) {
	var (
		m    domain.Measurement
		date string
	)
	if err := row.Scan(&m.ID, &m.Weight, &date, &m.UserID); err != nil {
		return nil, err
	}
	t, err := parseTime(date)
	if err != nil {
		return nil, err
	}
	m.Date = t
	return &m, nil
}

// ListMeasurementsByTgID returns all measurements of the user, oldest first.
func (d *DB) ListMeasurementsByTgID(ctx context.Context, tgID string) ([]domain.Measurement, error) {
	var userID string
	err := d.sql.QueryRowContext(ctx, "SELECT id FROM users WHERE tg_id = ?", tgID).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, domain.Infrastructure(err, "select user id")
	}

	rows, err := d.sql.QueryContext(ctx,
		"SELECT id, weight, date, user_id FROM measurements WHERE user_id = ? ORDER BY date ASC", userID)
	if err != nil {
		return nil, domain.Infrastructure(err, "select measurements")
	}
	defer rows.Close() //nolint:errcheck

	out := make([]domain.Measurement, 0)
	for rows.Next() {
		m, err := scanMeasurement(rows)
		if err != nil {
			return nil, domain.Infrastructure(err, "scan measurement")
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Infrastructure(err, "iterate measurements")
	}
	return out, nil
}

// DeleteMeasurement removes a measurement by id.
func (d *DB) DeleteMeasurement(ctx context.Context, id uuid.UUID) error {
	res, err := d.sql.ExecContext(ctx, "DELETE FROM measurements WHERE id = ?", id.String())
	if err != nil {
		return domain.Infrastructure(err, "delete measurement")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Infrastructure(err, "delete measurement")
	}
	if n == 0 {
		return domain.ErrMeasurementNotFound
	}
	return nil
}
