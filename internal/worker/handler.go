// Package worker turns raw queue payloads into measurement ingestion calls
// and reports what the transport should do with each message.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"weightsvc/internal/domain"
)

// Disposition tells the transport how to settle a message.
type Disposition int

const (
	// Accept acknowledges the message.
	Accept Disposition = iota
	// RejectPermanent drops the message; redelivery cannot succeed.
	RejectPermanent
	// RejectRetryable asks for another attempt later.
	RejectRetryable
)

func (d Disposition) String() string {
	switch d {
	case Accept:
		return "accept"
	case RejectPermanent:
		return "reject_permanent"
	case RejectRetryable:
		return "reject_retryable"
	default:
		return fmt.Sprintf("disposition(%d)", int(d))
	}
}

// Ingestor stores one inbound measurement.
type Ingestor interface {
	AddByCorrelationKey(ctx context.Context, env domain.Envelope) (*domain.Measurement, error)
}

// Metrics receives one call per handled message.
type Metrics interface {
	MessageHandled(ctx context.Context, outcome string, d time.Duration)
}

// DefaultTimeout bounds the handling of a single message.
const DefaultTimeout = 30 * time.Second

// Handler decodes, validates and ingests queue payloads.
type Handler struct {
	newIngestor func() Ingestor
	logger      *slog.Logger
	timeout     time.Duration
	metrics     Metrics
}

// NewHandler returns a Handler that asks newIngestor for a fresh Ingestor for
// every message. A zero timeout disables the per-message deadline and a nil
// metrics discards outcomes.
func NewHandler(newIngestor func() Ingestor, logger *slog.Logger, timeout time.Duration, metrics Metrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		newIngestor: newIngestor,
		logger:      logger.With("component", "worker"),
		timeout:     timeout,
		metrics:     metrics,
	}
}

// Handle processes one payload. It never panics and never returns an error;
// every failure is folded into the Disposition.
func (h *Handler) Handle(ctx context.Context, body []byte) (d Disposition) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			h.logger.ErrorContext(ctx, "panic while handling message", "panic", r)
			d = RejectRetryable
		}
		if h.metrics != nil {
			h.metrics.MessageHandled(ctx, d.String(), time.Since(start))
		}
	}()

	var env domain.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		h.logger.WarnContext(ctx, "undecodable message dropped", "error", err, "bytes", len(body))
		return RejectPermanent
	}
	if err := env.Validate(); err != nil {
		h.logger.WarnContext(ctx, "invalid message dropped", "error", err, "tg_id", env.TgID)
		return RejectPermanent
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	m, err := h.newIngestor().AddByCorrelationKey(ctx, env)
	if err != nil {
		if domain.IsPermanent(err) {
			h.logger.WarnContext(ctx, "message rejected", "tg_id", env.TgID, "error", err)
			return RejectPermanent
		}
		h.logger.ErrorContext(ctx, "message failed, will retry", "tg_id", env.TgID, "error", err)
		return RejectRetryable
	}

	h.logger.InfoContext(ctx, "measurement ingested",
		"tg_id", env.TgID, "measurement_id", m.ID, "weight", m.Weight, "took", time.Since(start))
	return Accept
}
