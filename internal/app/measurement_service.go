package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"weightsvc/internal/domain"
)

// MeasurementService is the single entry point for measurement writes,
// reads and deletes. Reads are cache-aside; writes go to the store and then
// invalidate the affected cache entries. Nothing spans the store write and
// the invalidation, so a concurrent read may repopulate a stale list for at
// most UserMeasurementsTTL.
type MeasurementService struct {
	users        domain.UserRepository
	measurements domain.MeasurementRepository
	cache        domain.Cache
	logger       *slog.Logger

	now   func() time.Time
	newID func() uuid.UUID
}

// NewMeasurementService creates a MeasurementService backed by the given
// repositories and cache.
func NewMeasurementService(users domain.UserRepository, measurements domain.MeasurementRepository, cache domain.Cache, logger *slog.Logger) *MeasurementService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MeasurementService{
		users:        users,
		measurements: measurements,
		cache:        cache,
		logger:       logger.With("component", "measurements"),
		now:          time.Now,
		newID:        uuid.New,
	}
}

// WithClock replaces the time source used for server timestamps.
func (s *MeasurementService) WithClock(now func() time.Time) *MeasurementService {
	s.now = now
	return s
}

// WithIDGenerator replaces the measurement id generator.
func (s *MeasurementService) WithIDGenerator(newID func() uuid.UUID) *MeasurementService {
	s.newID = newID
	return s
}

// AddForUser stores a new measurement for the user identified by tgID. Only
// the weight of m is used; id, date and owner are assigned here.
func (s *MeasurementService) AddForUser(ctx context.Context, m domain.Measurement, tgID string) (*domain.Measurement, error) {
	if domain.NormalizeTgID(tgID) == "" {
		return nil, errors.Wrap(domain.ErrValidation, "tgId is required")
	}
	if err := domain.ValidateWeight(m.Weight); err != nil {
		return nil, err
	}
	return s.add(ctx, tgID, m.Weight)
}

// AddByCorrelationKey stores the measurement carried by an inbound event.
// The client timestamp is ignored. Delivering the same envelope twice
// stores two measurements.
func (s *MeasurementService) AddByCorrelationKey(ctx context.Context, env domain.Envelope) (*domain.Measurement, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return s.add(ctx, env.TgID, env.Weight)
}

func (s *MeasurementService) add(ctx context.Context, tgID string, weight float64) (*domain.Measurement, error) {
	log := s.logger.With("tg_id", tgID)

	user, err := s.users.GetUserByTgID(ctx, tgID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.WarnContext(ctx, "add measurement: user not found")
		} else {
			log.ErrorContext(ctx, "add measurement: resolve user failed", "error", err)
		}
		return nil, errors.Wrapf(err, "resolve user %s", tgID)
	}

	m := &domain.Measurement{
		ID:     s.newID(),
		Weight: weight,
		Date:   s.now().UTC(),
		UserID: user.ID,
	}
	if err := s.measurements.AddMeasurement(ctx, m); err != nil {
		log.ErrorContext(ctx, "add measurement: store failed", "error", err)
		return nil, errors.Wrap(err, "add measurement")
	}

	s.cache.Remove(ctx, domain.UserMeasurementsKey(tgID))
	s.cache.Remove(ctx, domain.MeasurementKey(m.ID))
	log.InfoContext(ctx, "measurement added", "measurement_id", m.ID, "weight", weight)
	return m, nil
}

// GetByUser returns every measurement of the user, oldest first. An empty
// result is cached too so users without data do not hit the store.
func (s *MeasurementService) GetByUser(ctx context.Context, tgID string) ([]domain.Measurement, error) {
	key := domain.UserMeasurementsKey(tgID)

	var cached []domain.Measurement
	if s.cache.Load(ctx, key, &cached) {
		return cached, nil
	}

	list, err := s.measurements.ListMeasurementsByTgID(ctx, tgID)
	if err != nil {
		s.logger.WarnContext(ctx, "list measurements failed", "tg_id", tgID, "error", err)
		return nil, errors.Wrapf(err, "list measurements for %s", tgID)
	}
	if list == nil {
		list = []domain.Measurement{}
	}
	s.cache.Store(ctx, key, list, domain.UserMeasurementsTTL)
	return list, nil
}

// GetByID returns a single measurement. Unknown ids are not cached.
func (s *MeasurementService) GetByID(ctx context.Context, id uuid.UUID) (*domain.Measurement, error) {
	key := domain.MeasurementKey(id)

	var cached domain.Measurement
	if s.cache.Load(ctx, key, &cached) {
		return &cached, nil
	}

	m, err := s.measurements.GetMeasurement(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "get measurement failed", "measurement_id", id, "error", err)
		}
		return nil, errors.Wrapf(err, "get measurement %s", id)
	}
	s.cache.Store(ctx, key, m, domain.MeasurementTTL)
	return m, nil
}

// DeleteByID removes a measurement and invalidates both the record and its
// owner's list. If the owner cannot be resolved the list entry is left to
// expire on its own.
func (s *MeasurementService) DeleteByID(ctx context.Context, id uuid.UUID) error {
	log := s.logger.With("measurement_id", id)

	m, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	var ownerTgID string
	owner, err := s.users.GetUserByID(ctx, m.UserID)
	if err == nil {
		ownerTgID = owner.TgID
	} else {
		log.WarnContext(ctx, "delete measurement: owner lookup failed", "user_id", m.UserID, "error", err)
	}

	if err := s.measurements.DeleteMeasurement(ctx, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// The record came from a stale cache entry.
			s.cache.Remove(ctx, domain.MeasurementKey(id))
		}
		log.WarnContext(ctx, "delete measurement failed", "error", err)
		return errors.Wrapf(err, "delete measurement %s", id)
	}

	s.cache.Remove(ctx, domain.MeasurementKey(id))
	if ownerTgID == "" {
		log.WarnContext(ctx, "owner unknown, user measurements cache not invalidated", "user_id", m.UserID)
		return nil
	}
	s.cache.Remove(ctx, domain.UserMeasurementsKey(ownerTgID))
	log.InfoContext(ctx, "measurement deleted", "tg_id", ownerTgID)
	return nil
}
