package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"weightsvc/internal/domain"
)

const (
	insertUserQuery   = "INSERT INTO users (id, tg_id, name, registration_time) VALUES ($1, $2, $3, $4)"
	userByTgIDQuery   = "SELECT id, tg_id, name, registration_time FROM users WHERE tg_id = $1"
	userByIDQuery     = "SELECT id, tg_id, name, registration_time FROM users WHERE id = $1"
	userIDByTgIDQuery = "SELECT id FROM users WHERE tg_id = $1"
)

// AddUser inserts a user. A duplicate TgID yields domain.ErrConflict.
func (d *DB) AddUser(ctx context.Context, u *domain.User) error {
	_, err := d.sql.ExecContext(ctx, insertUserQuery, u.ID, u.TgID, u.Name, u.RegisteredAt.UTC())
	if pqCode(err) == uniqueViolation {
		return errors.Wrapf(domain.ErrConflict, "user %s", u.TgID)
	}
	return domain.Infrastructure(err, "insert user")
}

// GetUserByTgID retrieves a user by correlation key.
func (d *DB) GetUserByTgID(ctx context.Context, tgID string) (*domain.User, error) {
	return d.scanUser(d.sql.QueryRowContext(ctx, userByTgIDQuery, tgID), "select user by tg_id")
}

// GetUserByID retrieves a user by internal id.
func (d *DB) GetUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return d.scanUser(d.sql.QueryRowContext(ctx, userByIDQuery, id), "select user by id")
}

func (d *DB) scanUser(row *sql.Row, op string) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.TgID, &u.Name, &u.RegisteredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, domain.Infrastructure(err, op)
	}
	u.RegisteredAt = u.RegisteredAt.UTC()
	return &u, nil
}
