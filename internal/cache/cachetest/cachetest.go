// Package cachetest holds the conformance suite every cache Backend must pass
// when wrapped in a cache.Cache.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weightsvc/internal/cache"
	"weightsvc/internal/domain"
)

// Harness is a fresh backend plus the hooks the suite needs to drive it.
type Harness struct {
	Backend cache.Backend
	// Advance moves the backend's notion of time forward.
	Advance func(d time.Duration)
	// Break makes every subsequent backend call fail. Nil when the backend
	// has no failure mode to simulate.
	Break func()
}

// Run executes the suite. newHarness must return an isolated backend on
// every call.
func Run(t *testing.T, newHarness func(t *testing.T) Harness) {
	t.Helper()
	ctx := context.Background()

	sample := []domain.Measurement{
		{ID: uuid.New(), Weight: 82.5, Date: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), UserID: uuid.New()},
		{ID: uuid.New(), Weight: 81.9, Date: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), UserID: uuid.New()},
	}

	t.Run("miss on absent key", func(t *testing.T) {
		c := cache.New(newHarness(t).Backend, nil)
		var got []domain.Measurement
		assert.False(t, c.Load(ctx, "absent", &got))
		assert.Nil(t, got)
	})

	t.Run("round trip", func(t *testing.T) {
		c := cache.New(newHarness(t).Backend, nil)
		c.Store(ctx, "list", sample, time.Minute)

		var got []domain.Measurement
		require.True(t, c.Load(ctx, "list", &got))
		require.Len(t, got, len(sample))
		for i := range sample {
			assert.Equal(t, sample[i].ID, got[i].ID)
			assert.Equal(t, sample[i].Weight, got[i].Weight)
			assert.True(t, sample[i].Date.Equal(got[i].Date))
		}
	})

	t.Run("empty list is a hit", func(t *testing.T) {
		c := cache.New(newHarness(t).Backend, nil)
		c.Store(ctx, "empty", []domain.Measurement{}, time.Minute)

		var got []domain.Measurement
		require.True(t, c.Load(ctx, "empty", &got))
		assert.Empty(t, got)
	})

	t.Run("overwrite", func(t *testing.T) {
		c := cache.New(newHarness(t).Backend, nil)
		c.Store(ctx, "k", sample[0], time.Minute)
		c.Store(ctx, "k", sample[1], time.Minute)

		var got domain.Measurement
		require.True(t, c.Load(ctx, "k", &got))
		assert.Equal(t, sample[1].ID, got.ID)
	})

	t.Run("entry expires after ttl", func(t *testing.T) {
		h := newHarness(t)
		c := cache.New(h.Backend, nil)
		c.Store(ctx, "short", sample[0], time.Minute)
		h.Advance(30 * time.Second)

		var got domain.Measurement
		require.True(t, c.Load(ctx, "short", &got))

		h.Advance(31 * time.Second)
		assert.False(t, c.Load(ctx, "short", &got))
	})

	t.Run("remove", func(t *testing.T) {
		c := cache.New(newHarness(t).Backend, nil)
		c.Store(ctx, "gone", sample[0], time.Minute)
		c.Remove(ctx, "gone")
		c.Remove(ctx, "never-there")

		var got domain.Measurement
		assert.False(t, c.Load(ctx, "gone", &got))
	})

	t.Run("backend failure degrades to miss", func(t *testing.T) {
		h := newHarness(t)
		if h.Break == nil {
			t.Skip("backend has no failure mode")
		}
		c := cache.New(h.Backend, nil)
		c.Store(ctx, "k", sample[0], time.Minute)
		h.Break()

		var got domain.Measurement
		assert.NotPanics(t, func() {
			assert.False(t, c.Load(ctx, "k", &got))
			c.Store(ctx, "k", sample[1], time.Minute)
			c.Remove(ctx, "k")
		})
	})
}
