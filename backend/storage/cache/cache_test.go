package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func caches(t *testing.T) map[string]CacheInterface {
	out := map[string]CacheInterface{"memory": NewMemoryCache()}
	if url := os.Getenv("REDIS_URL"); url != "" {
		c, err := NewCache("redis", url)
		require.NoError(t, err)
		t.Cleanup(func() { _ = c.Disconnect() })
		out["redis"] = c
	}
	return out
}

func TestSetGet(t *testing.T) {
	ctx := context.Background()
	for name, c := range caches(t) {
		t.Run(name, func(t *testing.T) {
			key := "test_setget_" + name
			_, err := c.Get(ctx, key)
			assert.ErrorIs(t, err, ErrKeyNotFound)

			require.NoError(t, c.Set(ctx, key, true, time.Minute))
			v, err := c.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, true, v)
			require.NoError(t, c.Delete(ctx, key))
		})
	}
}

func TestSetNX(t *testing.T) {
	ctx := context.Background()
	for name, c := range caches(t) {
		t.Run(name, func(t *testing.T) {
			key := "test_setnx_" + name
			_ = c.Delete(ctx, key)

			ok, err := c.SetNX(ctx, key, "a", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = c.SetNX(ctx, key, "b", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, c.Delete(ctx, key))
			ok, err = c.SetNX(ctx, key, "c", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)
			require.NoError(t, c.Delete(ctx, key))
		})
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	now := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	ok, err := c.SetNX(ctx, "lock", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, err = c.Get(ctx, "lock")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	ok, err = c.SetNX(ctx, "lock", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewCacheRejectsUnknownBackend(t *testing.T) {
	_, err := NewCache("memcached", "")
	assert.Error(t, err)
}
