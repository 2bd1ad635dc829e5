package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Measurement is a single weight reading owned by exactly one user. It is
// immutable once stored; the only mutation is deletion.
type Measurement struct {
	ID     uuid.UUID `json:"id"`
	Weight float64   `json:"weight"`
	Date   time.Time `json:"date"`
	UserID uuid.UUID `json:"userId"`
}

// Envelope is the wire form of an inbound measurement event. Field matching
// on decode is case-insensitive. MessageTimestamp is informational only; the
// server clock always decides the stored date.
type Envelope struct {
	Weight           float64    `json:"weight"`
	TgID             string     `json:"tgId"`
	MessageTimestamp *Timestamp `json:"messageTimestamp,omitempty"`
}

// Timestamp is an instant decoded leniently: RFC 3339 with or without an
// offset, or a bare date. Values without an offset are read as UTC. A value
// that does not parse decodes to the zero time instead of failing the
// enclosing document.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	t.Time = time.Time{}
	return nil
}

// Validate reports whether the envelope is semantically usable.
func (e Envelope) Validate() error {
	if NormalizeTgID(e.TgID) == "" {
		return errors.Wrap(ErrValidation, "tgId is required")
	}
	return ValidateWeight(e.Weight)
}

// ValidateWeight rejects non-positive weights.
func ValidateWeight(w float64) error {
	if !(w > 0) {
		return errors.Wrap(ErrValidation, "weight must be > 0")
	}
	return nil
}

// MeasurementRepository is the port for measurement persistence.
type MeasurementRepository interface {
	AddMeasurement(ctx context.Context, m *Measurement) error
	GetMeasurement(ctx context.Context, id uuid.UUID) (*Measurement, error)
	// ListMeasurementsByTgID fails with ErrUserNotFound when no user owns tgID
	// and returns an empty, non-nil slice for a user without measurements.
	ListMeasurementsByTgID(ctx context.Context, tgID string) ([]Measurement, error)
	DeleteMeasurement(ctx context.Context, id uuid.UUID) error
}

// Store is the full persistence gateway consumed by the application layer.
type Store interface {
	UserRepository
	MeasurementRepository
	Ping(ctx context.Context) error
}
