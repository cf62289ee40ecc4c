package authz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryCacheRoundTrip(t *testing.T) {
	clock := &fixedClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	cache := NewMemoryCache()
	cache.now = clock.Now
	ctx := context.Background()

	got, err := cache.Get(ctx, 7)
	require.NoError(t, err)
	require.Nil(t, got)

	res := Resolution{UserID: 7, Permissions: []string{"signals:view"}, ResolvedAt: clock.Now()}
	require.NoError(t, cache.Set(ctx, 7, res, time.Minute))

	got, err = cache.Get(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, res, *got)
}

func TestMemoryCacheExpiry(t *testing.T) {
	clock := &fixedClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	cache := NewMemoryCache()
	cache.now = clock.Now
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, 7, Resolution{UserID: 7}, time.Minute))

	clock.Advance(59 * time.Second)
	got, err := cache.Get(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, got)

	clock.Advance(2 * time.Second)
	got, err = cache.Get(ctx, 7)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestMemoryCacheDeleteAndFlush(t *testing.T) {
	clock := &fixedClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	cache := NewMemoryCache()
	cache.now = clock.Now
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, 7, Resolution{UserID: 7}, time.Hour))
	require.NoError(t, cache.Set(ctx, 8, Resolution{UserID: 8}, time.Hour))

	require.NoError(t, cache.Delete(ctx, 7))
	got, err := cache.Get(ctx, 7)
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, cache.Flush(ctx))
	got, err = cache.Get(ctx, 8)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestMemoryCacheSweepDropsExpiredEntries(t *testing.T) {
	clock := &fixedClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	cache := NewMemoryCache()
	cache.now = clock.Now
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, 7, Resolution{UserID: 7}, time.Minute))
	require.NoError(t, cache.Set(ctx, 8, Resolution{UserID: 8}, time.Hour))

	clock.Advance(5 * time.Minute)
	cache.Sweep()

	cache.mu.Lock()
	defer cache.mu.Unlock()
	require.NotContains(t, cache.entries, int64(7))
	require.Contains(t, cache.entries, int64(8))
}

func TestMemoryCacheIgnoresNonPositiveTTL(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, 7, Resolution{UserID: 7}, 0))
	got, err := cache.Get(ctx, 7)
	require.NoError(t, err)
	require.Nil(t, got)
}
