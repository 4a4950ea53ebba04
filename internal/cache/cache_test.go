// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestMemoryCache_SetGetExpire(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	c := NewMemoryCache(0)
	c.now = clk.Now
	defer c.Close()

	c.Set(ctx, "url:1", "http://cdn/1.mp3", time.Minute)
	v, ok := c.Get(ctx, "url:1")
	require.True(t, ok)
	assert.Equal(t, "http://cdn/1.mp3", v)

	clk.Advance(time.Minute + time.Second)
	_, ok = c.Get(ctx, "url:1")
	assert.False(t, ok)

	assert.Equal(t, 1, c.deleteExpired())
	st := c.Stats()
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
	assert.Equal(t, int64(1), st.Sets)
	assert.Equal(t, int64(1), st.Evictions)
	assert.Zero(t, st.CurrentSize)
}

func TestMemoryCache_Delete(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(0)
	defer c.Close()

	c.Set(ctx, "k", "v", time.Hour)
	c.Delete(ctx, "k")
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryCache_JanitorStopsOnClose(t *testing.T) {
	c := NewMemoryCache(5 * time.Millisecond)
	c.Set(context.Background(), "k", "v", time.Nanosecond)
	require.Eventually(t, func() bool { return c.Stats().CurrentSize == 0 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

func TestMemoryCache_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Millisecond)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c.Set(ctx, "k", "v", time.Millisecond)
				c.Get(ctx, "k")
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1600), c.Stats().Sets)
}

func TestNoOp(t *testing.T) {
	var c Cache = NoOp{}
	c.Set(context.Background(), "k", "v", time.Hour)
	_, ok := c.Get(context.Background(), "k")
	assert.False(t, ok)
	assert.NoError(t, c.Close())
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewRedisCache(context.Background(), RedisConfig{Addr: mr.Addr(), Prefix: "playd:"}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func TestRedisCache_SetGetTTL(t *testing.T) {
	ctx := context.Background()
	mr, c := setupRedis(t)

	c.Set(ctx, "name:42", "海阔天空", time.Minute)
	v, ok := c.Get(ctx, "name:42")
	require.True(t, ok)
	assert.Equal(t, "海阔天空", v)

	assert.True(t, mr.Exists("playd:name:42"), "keys are prefixed")
	assert.Equal(t, time.Minute, mr.TTL("playd:name:42"))

	mr.FastForward(2 * time.Minute)
	_, ok = c.Get(ctx, "name:42")
	assert.False(t, ok)

	st := c.Stats()
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
	assert.Equal(t, int64(1), st.Sets)
}

func TestRedisCache_DeleteAndSize(t *testing.T) {
	ctx := context.Background()
	mr, c := setupRedis(t)
	require.NoError(t, mr.Set("other:key", "x"))

	c.Set(ctx, "a", "1", time.Hour)
	c.Set(ctx, "b", "2", time.Hour)
	assert.Equal(t, 2, c.Stats().CurrentSize)

	c.Delete(ctx, "a")
	assert.Equal(t, 1, c.Stats().CurrentSize)
	require.NoError(t, c.HealthCheck(ctx))
}

func TestRedisCache_OutageIsMiss(t *testing.T) {
	ctx := context.Background()
	mr, c := setupRedis(t)
	mr.Close()

	c.Set(ctx, "k", "v", time.Hour)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Error(t, c.HealthCheck(ctx))
	assert.Zero(t, c.Stats().Sets)
}

func TestNewRedisCache_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisCache(context.Background(), RedisConfig{Addr: addr}, zerolog.Nop())
	assert.Error(t, err)
}
