// Package metrics records request and message counters through OpenTelemetry
// and periodically logs a request or message rate.
package metrics

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "weightsvc"

// DefaultInterval is how often Run logs a window count.
const DefaultInterval = time.Minute

// Sink owns the service's instruments. It is safe for concurrent use.
type Sink struct {
	logger *slog.Logger

	requests metric.Int64Counter
	messages metric.Int64Counter
	duration metric.Float64Histogram

	requestWindow atomic.Int64
	messageWindow atomic.Int64
}

// Window selects which counter Run reports.
type Window int

const (
	// Requests reports HTTP requests per interval.
	Requests Window = iota
	// Messages reports queue messages per interval.
	Messages
)

// New registers the instruments on meter. A nil meter records nothing but
// still feeds the interval log.
func New(meter metric.Meter, logger *slog.Logger) (*Sink, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(meterName)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sink{logger: logger.With("component", "metrics")}

	var err error
	s.requests, err = meter.Int64Counter("weightsvc.http.requests",
		metric.WithDescription("HTTP requests served"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create request counter")
	}

	s.messages, err = meter.Int64Counter("weightsvc.queue.messages",
		metric.WithDescription("Queue messages handled, by outcome"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create message counter")
	}

	s.duration, err = meter.Float64Histogram("weightsvc.queue.handle.duration",
		metric.WithDescription("Time spent handling one queue message"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create duration histogram")
	}
	return s, nil
}

// Nop returns a Sink backed by a no-op meter and a discarding logger.
func Nop() *Sink {
	s, _ := New(nil, slog.New(slog.DiscardHandler))
	return s
}

// RequestServed counts one HTTP request.
func (s *Sink) RequestServed(ctx context.Context, method string, status int) {
	s.requestWindow.Add(1)
	s.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.status_code", strconv.Itoa(status)),
	))
}

// MessageHandled counts one queue message with its outcome.
func (s *Sink) MessageHandled(ctx context.Context, outcome string, d time.Duration) {
	s.messageWindow.Add(1)
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	s.messages.Add(ctx, 1, attrs)
	s.duration.Record(ctx, d.Seconds(), attrs)
}

// Run logs the count of the selected window once per interval until ctx is
// done.
func (s *Sink) Run(ctx context.Context, interval time.Duration, w Window) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	counter, msg, key := &s.requestWindow, "request rate", "requests"
	if w == Messages {
		counter, msg, key = &s.messageWindow, "message rate", "messages"
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.logger.InfoContext(ctx, msg, key, counter.Swap(0), "interval", interval)
		}
	}
}
