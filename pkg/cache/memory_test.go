package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

func TestMemoryCacheRoundTripsTypedValues(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "k", payload{ID: "a", Score: 0.5}, time.Minute))
	var got payload
	require.NoError(t, mc.Get(ctx, "k", &got))
	assert.Equal(t, payload{ID: "a", Score: 0.5}, got)

	ok, err := mc.Exists(ctx, "missing", "k")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, mc.Delete(ctx, "k"))
	assert.True(t, errors.Is(mc.Get(ctx, "k", &got), ErrCacheMiss))
}

func TestMemoryCacheExpiry(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "k", "v", 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)
	var s string
	assert.ErrorIs(t, mc.Get(ctx, "k", &s), ErrCacheMiss)

	extended, err := mc.Expire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, extended)
}

func TestMemoryCacheEvictsWhenFull(t *testing.T) {
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "a", 1, 0))
	time.Sleep(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "b", 2, 0))
	time.Sleep(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "c", 3, 0))

	ok, _ := mc.Exists(ctx, "a")
	assert.False(t, ok)
	var n int
	require.NoError(t, mc.Get(ctx, "c", &n))
	assert.Equal(t, 3, n)
}

func TestMemoryLock(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	ok, err := mc.TryLock(ctx, "catalog", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = mc.TryLock(ctx, "catalog", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// locks live apart from data
	require.NoError(t, mc.Set(ctx, "catalog", "data", 0))
	require.NoError(t, mc.Unlock(ctx, "catalog"))
	ok, err = mc.TryLock(ctx, "catalog", 5*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(10 * time.Millisecond)
	ok, err = mc.TryLock(ctx, "catalog", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
