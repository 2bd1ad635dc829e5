package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Cache TTLs for the two key families.
const (
	UserMeasurementsTTL = 5 * time.Minute
	MeasurementTTL      = 10 * time.Minute
)

// Cache is the port for the read-path cache. Implementations are fail-open:
// errors are never returned, a failed Load is a miss and a failed Store or
// Remove is a no-op.
type Cache interface {
	Load(ctx context.Context, key string, dst any) bool
	Store(ctx context.Context, key string, value any, ttl time.Duration)
	Remove(ctx context.Context, key string)
}

// UserMeasurementsKey is the cache key for all measurements of a user.
func UserMeasurementsKey(tgID string) string {
	return "measurements_user_" + tgID
}

// MeasurementKey is the cache key for a single measurement.
func MeasurementKey(id uuid.UUID) string {
	return "measurement_" + id.String()
}
