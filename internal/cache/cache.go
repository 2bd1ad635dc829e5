// Package cache implements the fail-open read-path cache. A Cache decorates a
// Backend and turns every backend error into a miss or a no-op, so a cache
// outage degrades the service to read-through instead of failing requests.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"weightsvc/internal/domain"
)

// ErrMiss is returned by a Backend when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Backend is a byte-oriented key-value store with per-entry expiry.
// Implementations report failures; the Cache decides what to do with them.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Cache is a JSON-encoding, fail-open wrapper around a Backend.
type Cache struct {
	backend Backend
	logger  *slog.Logger
}

var _ domain.Cache = (*Cache)(nil)

// New wraps backend. A nil logger falls back to slog.Default.
func New(backend Backend, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{backend: backend, logger: logger.With("component", "cache")}
}

// Load decodes the cached value for key into dst and reports whether it was
// found. Any backend or decode failure is logged and reported as a miss.
func (c *Cache) Load(ctx context.Context, key string, dst any) bool {
	data, err := c.backend.Get(ctx, key)
	if errors.Is(err, ErrMiss) {
		c.logger.DebugContext(ctx, "cache miss", "key", key)
		return false
	}
	if err != nil {
		c.logger.WarnContext(ctx, "cache get failed", "key", key, "error", err)
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		c.logger.WarnContext(ctx, "cache decode failed", "key", key, "error", err)
		return false
	}
	c.logger.DebugContext(ctx, "cache hit", "key", key)
	return true
}

// Store encodes value and writes it with the given ttl. Failures are logged.
func (c *Cache) Store(ctx context.Context, key string, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.WarnContext(ctx, "cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, data, ttl); err != nil {
		c.logger.WarnContext(ctx, "cache set failed", "key", key, "error", err)
		return
	}
	c.logger.DebugContext(ctx, "cache set", "key", key, "ttl", ttl)
}

// Remove deletes key. Failures are logged.
func (c *Cache) Remove(ctx context.Context, key string) {
	if err := c.backend.Delete(ctx, key); err != nil {
		c.logger.WarnContext(ctx, "cache remove failed", "key", key, "error", err)
		return
	}
	c.logger.DebugContext(ctx, "cache remove", "key", key)
}

// Nop is a Cache that never holds anything.
type Nop struct{}

var _ domain.Cache = Nop{}

// Load always misses.
func (Nop) Load(context.Context, string, any) bool { return false }

// Store discards the value.
func (Nop) Store(context.Context, string, any, time.Duration) {}

// Remove does nothing.
func (Nop) Remove(context.Context, string) {}
