// Package domain contains the core business entities and interfaces.
package domain

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// User is a person tracked by the service. TgID is the external correlation
// key supplied by the chat bot and is unique across users.
type User struct {
	ID           uuid.UUID `json:"id"`
	TgID         string    `json:"tgId"`
	Name         string    `json:"name"`
	RegisteredAt time.Time `json:"registrationTime"`
}

// UserRepository defines the port for user persistence operations.
type UserRepository interface {
	// AddUser fails with ErrConflict when a user with the same TgID exists.
	AddUser(ctx context.Context, u *User) error
	GetUserByTgID(ctx context.Context, tgID string) (*User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
}

// NormalizeTgID trims surrounding whitespace from a correlation key.
func NormalizeTgID(tgID string) string {
	return strings.TrimSpace(tgID)
}
