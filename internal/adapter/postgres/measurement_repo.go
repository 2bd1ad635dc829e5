package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"weightsvc/internal/domain"
)

const (
	insertMeasurementQuery  = "INSERT INTO measurements (id, weight, date, user_id) VALUES ($1, $2, $3, $4)"
	measurementByIDQuery    = "SELECT id, weight, date, user_id FROM measurements WHERE id = $1"
	measurementsByUserQuery = "SELECT id, weight, date, user_id FROM measurements WHERE user_id = $1 ORDER BY date ASC"
	deleteMeasurementQuery  = "DELETE FROM measurements WHERE id = $1"
)

// AddMeasurement inserts a measurement. A missing owner yields
// domain.ErrUserNotFound via the foreign key.
func (d *DB) AddMeasurement(ctx context.Context, m *domain.Measurement) error {
	_, err := d.sql.ExecContext(ctx, insertMeasurementQuery, m.ID, m.Weight, m.Date.UTC(), m.UserID)
	switch pqCode(err) {
	case foreignKeyViolation:
		return errors.Wrapf(domain.ErrUserNotFound, "owner %s", m.UserID)
	case uniqueViolation:
		return errors.Wrapf(domain.ErrConflict, "measurement %s", m.ID)
	}
	return domain.Infrastructure(err, "insert measurement")
}

// GetMeasurement retrieves a measurement by id.
func (d *DB) GetMeasurement(ctx context.Context, id uuid.UUID) (*domain.Measurement, error) {
	var m domain.Measurement
	err := d.sql.QueryRowContext(ctx, measurementByIDQuery, id).Scan(&m.ID, &m.Weight, &m.Date, &m.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMeasurementNotFound
	}
	if err != nil {
		return nil, domain.Infrastructure(err, "select measurement")
	}
	m.Date = m.Date.UTC()
	return &m, nil
}

// ListMeasurementsByTgID returns all measurements of the user, oldest first.
func (d *DB) ListMeasurementsByTgID(ctx context.Context, tgID string) ([]domain.Measurement, error) {
	var userID uuid.UUID
	err := d.sql.QueryRowContext(ctx, userIDByTgIDQuery, tgID).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, domain.Infrastructure(err, "select user id")
	}

	rows, err := d.sql.QueryContext(ctx, measurementsByUserQuery, userID)
	if err != nil {
		return nil, domain.Infrastructure(err, "select measurements")
	}
	defer rows.Close() //nolint:errcheck

	out := make([]domain.Measurement, 0)
	for rows.Next() {
		var m domain.Measurement
		if err := rows.Scan(&m.ID, &m.Weight, &m.Date, &m.UserID); err != nil {
			return nil, domain.Infrastructure(err, "scan measurement")
		}
		m.Date = m.Date.UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Infrastructure(err, "iterate measurements")
	}
	return out, nil
}

// DeleteMeasurement removes a measurement by id.
func (d *DB) DeleteMeasurement(ctx context.Context, id uuid.UUID) error {
	res, err := d.sql.ExecContext(ctx, deleteMeasurementQuery, id)
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
