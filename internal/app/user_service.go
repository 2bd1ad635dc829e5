package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"weightsvc/internal/domain"
)

// UserService handles user registration and lookup by correlation key.
type UserService struct {
	users  domain.UserRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewUserService creates a UserService backed by the given repository.
func NewUserService(users domain.UserRepository, logger *slog.Logger) *UserService {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserService{users: users, logger: logger.With("component", "users"), now: time.Now}
}

// Register creates a user for tgID. An existing tgID yields domain.ErrConflict.
func (s *UserService) Register(ctx context.Context, tgID, name string) (*domain.User, error) {
	if domain.NormalizeTgID(tgID) == "" {
		return nil, errors.Wrap(domain.ErrValidation, "tgId is required")
	}
	u := &domain.User{
		ID:           uuid.New(),
		TgID:         tgID,
		Name:         name,
		RegisteredAt: s.now().UTC(),
	}
	if err := s.users.AddUser(ctx, u); err != nil {
		s.logger.WarnContext(ctx, "register user failed", "tg_id", tgID, "error", err)
		return nil, errors.Wrapf(err, "register user %s", tgID)
	}
	s.logger.InfoContext(ctx, "user registered", "tg_id", tgID, "user_id", u.ID)
	return u, nil
}

// Get returns the user for tgID.
func (s *UserService) Get(ctx context.Context, tgID string) (*domain.User, error) {
	u, err := s.users.GetUserByTgID(ctx, tgID)
	if err != nil {
		return nil, errors.Wrapf(err, "get user %s", tgID)
	}
	return u, nil
}
