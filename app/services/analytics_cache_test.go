package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return mr, rc
}

type cachedStats struct {
	Sent    int64 `json:"sent"`
	Clicked int64 `json:"clicked"`
}

func TestRedisAnalyticsCache(t *testing.T) {
	mr, rc := newTestRedis(t)
	cache := NewRedisAnalyticsCache(rc, "phish", time.Minute, nil)
	ctx := context.Background()

	var got cachedStats
	hit, err := cache.Get(ctx, UserAnalyticsKey(1), &got)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, cache.Set(ctx, UserAnalyticsKey(1), cachedStats{Sent: 3, Clicked: 1}))
	assert.True(t, mr.Exists("phish:analytics:user:1"))
	assert.Equal(t, time.Minute, mr.TTL("phish:analytics:user:1"))

	hit, err = cache.Get(ctx, UserAnalyticsKey(1), &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, cachedStats{Sent: 3, Clicked: 1}, got)

	require.NoError(t, cache.Set(ctx, CampaignAnalyticsKey(9), cachedStats{Sent: 1}))
	require.NoError(t, cache.Invalidate(ctx, UserAnalyticsKey(1), CampaignAnalyticsKey(9)))
	assert.False(t, mr.Exists("phish:analytics:user:1"))
	assert.False(t, mr.Exists("phish:analytics:campaign:9"))

	require.NoError(t, mr.Set("phish:analytics:user:2", "{broken"))
	hit, err = cache.Get(ctx, UserAnalyticsKey(2), &got)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.False(t, mr.Exists("phish:analytics:user:2"))
}

func TestRedisSweepLock(t *testing.T) {
	mr, rc := newTestRedis(t)
	lock := NewRedisSweepLock(rc, "phish")
	ctx := context.Background()

	release, err := lock.TryAcquire(ctx, "dispatch", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, release)

	second, err := lock.TryAcquire(ctx, "dispatch", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, second)

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists("phish:lock:dispatch"))

	again, err := lock.TryAcquire(ctx, "dispatch", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, again)

	// an expired holder must not delete a lock someone else took over
	mr.FastForward(2 * time.Minute)
	takeover, err := lock.TryAcquire(ctx, "dispatch", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, takeover)
	require.NoError(t, again(ctx))
	assert.True(t, mr.Exists("phish:lock:dispatch"))
}

func TestLocalSweepLock(t *testing.T) {
	lock := NewLocalSweepLock()
	ctx := context.Background()

	release, err := lock.TryAcquire(ctx, "dispatch", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, release)

	busy, err := lock.TryAcquire(ctx, "dispatch", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, busy)

	require.NoError(t, release(ctx))
	release, err = lock.TryAcquire(ctx, "dispatch", time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, release)
}
