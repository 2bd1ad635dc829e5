// Package redis implements the cache Backend on top of Redis.
package redis

import (
	"context"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"weightsvc/internal/cache"
)

// Config holds the Redis connection settings.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Backend stores cache entries as plain Redis strings with a TTL.
type Backend struct {
	client *goredis.Client
	prefix string
}

var _ cache.Backend = (*Backend)(nil)

// New creates a client without contacting the server. Use Ping to verify
// connectivity; the cache is fail-open so an unreachable Redis is not fatal.
func New(cfg Config) *Backend {
	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolTimeout:  2 * time.Second,
		MaxRetries:   1,
	})
	return &Backend{client: client, prefix: cfg.KeyPrefix}
}

// Ping checks that the server answers.
func (b *Backend) Ping(ctx context.Context) error {
	return errors.Wrap(b.client.Ping(ctx).Err(), "redis ping")
}

// Get returns cache.ErrMiss when the key is absent or expired.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := b.client.Get(ctx, b.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, cache.ErrMiss
	}
	if err != nil {
		return nil, errors.Wrapf(err, "redis get %s", key)
	}
	return v, nil
}

// Set writes value with the given expiry; a non-positive ttl keeps the key
// until it is deleted.
func (b *Backend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return errors.Wrapf(b.client.Set(ctx, b.prefix+key, value, ttl).Err(), "redis set %s", key)
}

// Delete removes key. Deleting an absent key is not an error.
func (b *Backend) Delete(ctx context.Context, key string) error {
	return errors.Wrapf(b.client.Del(ctx, b.prefix+key).Err(), "redis del %s", key)
}

// Close releases the connection pool.
func (b *Backend) Close() error {
	return b.client.Close()
}
