package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"pype/pkg/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheSetGet(t *testing.T) {
	c := cache.NewCache(time.Minute)
	defer c.Stop()

	c.Set("key", 42)

	value, found := c.Get("key")
	require.True(t, found)
	assert.Equal(t, 42, value)

	_, found = c.Get("missing")
	assert.False(t, found)
}

func TestCacheExpiration(t *testing.T) {
	c := cache.NewCache(time.Minute)
	defer c.Stop()

	c.SetWithTTL("key", "value", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	_, found := c.Get("key")
	assert.False(t, found)
}

func TestCacheDelete(t *testing.T) {
	c := cache.NewCache(time.Minute)
	defer c.Stop()

	c.Set("key", "value")
	c.Delete("key")

	_, found := c.Get("key")
	assert.False(t, found)
}

func TestCacheInvalidatePrefix(t *testing.T) {
	c := cache.NewCache(time.Minute)
	defer c.Stop()

	c.Set("stats:ses-1:alice", 1)
	c.Set("stats:ses-1:bob", 2)
	c.Set("stats:ses-2:alice", 3)

	c.Invalidate("stats:ses-1:")

	_, found := c.Get("stats:ses-1:alice")
	assert.False(t, found)
	_, found = c.Get("stats:ses-2:alice")
	assert.True(t, found)
	assert.Equal(t, 1, c.Size())
}

func TestCacheGetOrSet(t *testing.T) {
	c := cache.NewCache(time.Minute)
	defer c.Stop()

	calls := 0
	fetch := func(ctx context.Context) (interface{}, error) {
		calls++
		return "fresh", nil
	}

	value, err := c.GetOrSet(context.Background(), "key", fetch, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "fresh", value)

	// Second read is served from cache.
	value, err = c.GetOrSet(context.Background(), "key", fetch, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "fresh", value)
	assert.Equal(t, 1, calls)
}

func TestCacheGetOrSetFallbackError(t *testing.T) {
	c := cache.NewCache(time.Minute)
	defer c.Stop()

	sentinel := errors.New("fetch failed")
	_, err := c.GetOrSet(context.Background(), "key", func(ctx context.Context) (interface{}, error) {
		return nil, sentinel
	}, time.Minute)
	assert.ErrorIs(t, err, sentinel)

	// Failures are not cached.
	assert.Equal(t, 0, c.Size())
}
