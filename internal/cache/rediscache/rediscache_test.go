package rediscache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_GetSet(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()

	_, ok, err := c.Get(ctx, "pool:1:counts")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, "pool:1:counts", []byte(`{"unused":5}`), time.Minute))

	b, ok, err := c.Get(ctx, "pool:1:counts")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte(`{"unused":5}`), b)

	// TTL истёк — ключ пропадает, это miss, а не ошибка.
	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, "pool:1:counts")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRateLimiter_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(mr.Addr())
	t.Cleanup(func() { _ = rl.Close() })

	ctx := context.Background()
	ok, n, err := rl.Allow(ctx, "rl:gateway:1", 2, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), n)

	ok, n, _ = rl.Allow(ctx, "rl:gateway:1", 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(2), n)

	ok, n, _ = rl.Allow(ctx, "rl:gateway:1", 2, time.Minute)
	require.False(t, ok)
	require.Equal(t, int64(3), n)

	// Новое окно начинает счёт заново.
	mr.FastForward(2 * time.Minute)
	ok, n, _ = rl.Allow(ctx, "rl:gateway:1", 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(1), n)
}
