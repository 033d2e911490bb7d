package permissions

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*ResolveCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewResolveCache(client, time.Minute), mr
}

func TestResolveCacheRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	_, ok := cache.Get(ctx, 1)
	assert.False(t, ok)

	perms := []EffectivePermission{
		{MenuID: 10, MenuCode: "reports", Granted: true, Source: SourceRole},
		{MenuID: 11, MenuCode: "admin", Granted: false, Source: SourceOverride},
	}
	cache.Set(ctx, 1, perms)

	got, ok := cache.Get(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, perms, got)
}

func TestResolveCacheInvalidate(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	cache.Set(ctx, 1, []EffectivePermission{{MenuCode: "reports", Granted: true}})
	require.NoError(t, cache.Invalidate(ctx, 1))

	_, ok := cache.Get(ctx, 1)
	assert.False(t, ok)
}

func TestResolveCacheFlushOnlyDropsOwnKeys(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	cache.Set(ctx, 1, []EffectivePermission{{MenuCode: "reports", Granted: true}})
	cache.Set(ctx, 2, []EffectivePermission{{MenuCode: "admin", Granted: true}})
	require.NoError(t, mr.Set("unrelated", "value"))

	require.NoError(t, cache.Flush(ctx))

	_, ok := cache.Get(ctx, 1)
	assert.False(t, ok)
	_, ok = cache.Get(ctx, 2)
	assert.False(t, ok)
	assert.True(t, mr.Exists("unrelated"))
}

func TestResolveCacheEntriesExpire(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	cache.Set(ctx, 1, []EffectivePermission{{MenuCode: "reports", Granted: true}})
	mr.FastForward(2 * time.Minute)

	_, ok := cache.Get(ctx, 1)
	assert.False(t, ok)
}

func TestResolveCacheNilSafe(t *testing.T) {
	var cache *ResolveCache
	ctx := context.Background()

	_, ok := cache.Get(ctx, 1)
	assert.False(t, ok)
	cache.Set(ctx, 1, nil)
	assert.NoError(t, cache.Invalidate(ctx, 1))
	assert.NoError(t, cache.Flush(ctx))
}
