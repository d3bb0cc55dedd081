package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestCooldown_Acquire(t *testing.T) {
	mr, rdb := newRedis(t)
	c := NewCooldown(rdb)
	ctx := context.Background()

	ok, err := c.Acquire(ctx, "post:u1", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Acquire(ctx, "post:u1", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire inside the window must be denied")

	ok, err = c.Acquire(ctx, "post:u2", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "keys are independent")

	mr.FastForward(31 * time.Second)
	ok, err = c.Acquire(ctx, "post:u1", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "cooldown expires")
}

func TestQuota_ReserveRelease(t *testing.T) {
	mr, rdb := newRedis(t)
	q := NewQuota(rdb)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := q.Reserve(ctx, "smtp:a", 3, time.Hour)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := q.Reserve(ctx, "smtp:a", 3, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	used, err := q.Used(ctx, "smtp:a")
	require.NoError(t, err)
	assert.Equal(t, int64(3), used, "a denied reservation leaves the counter unchanged")

	require.NoError(t, q.Release(ctx, "smtp:a"))
	ok, err = q.Reserve(ctx, "smtp:a", 3, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.True(t, mr.TTL("smtp:a") > 0)
}

func TestQuota_ReleaseNeverGoesNegative(t *testing.T) {
	_, rdb := newRedis(t)
	q := NewQuota(rdb)
	ctx := context.Background()

	require.NoError(t, q.Release(ctx, "smtp:b"))
	used, err := q.Used(ctx, "smtp:b")
	require.NoError(t, err)
	assert.Equal(t, int64(0), used)
}
