// Package memory implements an in-memory repository for development and testing.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"weightsvc/internal/domain"
)

// DB implements an in-memory database storage.
type DB struct {
	mu           sync.Mutex
	users        map[uuid.UUID]domain.User
	usersByTgID  map[string]uuid.UUID
	measurements map[uuid.UUID]domain.Measurement
}

// New creates a new in-memory database.
func New() *DB {
	return &DB{
		users:        make(map[uuid.UUID]domain.User),
		usersByTgID:  make(map[string]uuid.UUID),
		measurements: make(map[uuid.UUID]domain.Measurement),
	}
}

// Ensure interfaces are met.
var _ domain.Store = (*DB)(nil)

// Ping always succeeds.
func (db *DB) Ping(ctx context.Context) error {
	return ctx.Err()
}

// --- UserRepository ---

// AddUser stores a user; the TgID must be unique.
func (db *DB) AddUser(ctx context.Context, u *domain.User) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.usersByTgID[u.TgID]; ok {
		return domain.ErrConflict
	}
	if _, ok := db.users[u.ID]; ok {
		return domain.ErrConflict
	}
	db.users[u.ID] = *u
	db.usersByTgID[u.TgID] = u.ID
	return nil
}

// GetUserByTgID retrieves a user by correlation key.
func (db *DB) GetUserByTgID(ctx context.Context, tgID string) (*domain.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	id, ok := db.usersByTgID[tgID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	u := db.users[id]
	return &u, nil
}

// GetUserByID retrieves a user by internal id.
func (db *DB) GetUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	u, ok := db.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}

// --- MeasurementRepository ---

// AddMeasurement stores a measurement whose owner must already exist.
func (db *DB) AddMeasurement(ctx context.Context, m *domain.Measurement) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.users[m.UserID]; !ok {
		return domain.ErrUserNotFound
	}
	if _, ok := db.measurements[m.ID]; ok {
		return domain.ErrConflict
	}
	stored := *m
	stored.Date = stored.Date.UTC()
	db.measurements[m.ID] = stored
	return nil
}

// GetMeasurement retrieves a measurement by id.
func (db *DB) GetMeasurement(ctx context.Context, id uuid.UUID) (*domain.Measurement, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	m, ok := db.measurements[id]
	if !ok {
		return nil, domain.ErrMeasurementNotFound
	}
	return &m, nil
}

// ListMeasurementsByTgID lists a user's measurements, oldest first.
func (db *DB) ListMeasurementsByTgID(ctx context.Context, tgID string) ([]domain.Measurement, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	userID, ok := db.usersByTgID[tgID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}

	result := make([]domain.Measurement, 0)
	for _, m := range db.measurements {
		if m.UserID == userID {
			result = append(result, m)
		}
	}

	// sort asc
	sort.Slice(result, func(i, j int) bool {
		return result[i].Date.Before(result[j].Date)
	})
	return result, nil
}

// DeleteMeasurement removes a measurement by id.
func (db *DB) DeleteMeasurement(ctx context.Context, id uuid.UUID) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.measurements[id]; !ok {
		return domain.ErrMeasurementNotFound
	}
	delete(db.measurements, id)
	return nil
}

// MeasurementCount returns the total number of stored measurements.
func (db *DB) MeasurementCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.measurements)
}
