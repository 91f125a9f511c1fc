package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/agentuity/go-guard/logger"
	"github.com/agentuity/go-guard/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newRedisLimiter(t *testing.T, opts ...Option) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewLimiter(store.NewRedis(client, store.WithQueryTimeout(200*time.Millisecond)), opts...), mr
}

func TestAllowScenario(t *testing.T) {
	ctx := context.Background()
	rl, _ := newRedisLimiter(t)
	req := Request{Bucket: "search", Key: "ip1", Limit: 2, Window: 60 * time.Second}

	var allowed []bool
	var remaining []int64
	for i := 0; i < 3; i++ {
		res := rl.Allow(ctx, req)
		allowed = append(allowed, res.Allowed)
		remaining = append(remaining, res.Remaining)
	}
	assert.Equal(t, []bool{true, true, false}, allowed)
	assert.Equal(t, []int64{1, 0, 0}, remaining)
}

func TestAllowMonotonic(t *testing.T) {
	ctx := context.Background()
	rl, mr := newRedisLimiter(t)
	req := Request{Bucket: "posts", Key: "ip1", Limit: 10, Window: 30 * time.Second}
	for i := int64(1); i <= 10; i++ {
		res := rl.Allow(ctx, req)
		assert.True(t, res.Allowed)
		assert.Equal(t, i, res.Count)
		assert.Equal(t, int64(10), res.Limit)
		assert.Equal(t, int64(30), res.ResetSeconds())
	}
	res := rl.Allow(ctx, req)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(11), res.Count)
	assert.True(t, mr.Exists("rl:posts:ip1"))
}

func TestAllowResetsAfterWindow(t *testing.T) {
	ctx := context.Background()
	rl, mr := newRedisLimiter(t)
	req := Request{Bucket: "search", Key: "ip1", Limit: 1, Window: 10 * time.Second}
	assert.True(t, rl.Allow(ctx, req).Allowed)
	assert.False(t, rl.Allow(ctx, req).Allowed)

	mr.FastForward(11 * time.Second)
	res := rl.Allow(ctx, req)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(1), res.Count)
}

func TestAllowResetsWithMemoryStore(t *testing.T) {
	ctx := context.Background()
	c := &clock{now: time.Unix(1700000000, 0)}
	m := store.NewInMemory(ctx, store.WithClock(c.Now))
	defer m.Close()
	rl := NewLimiter(m)
	req := Request{Bucket: "search", Key: "ip1", Limit: 2, Window: time.Minute}

	rl.Allow(ctx, req)
	c.Advance(20 * time.Second)
	res := rl.Allow(ctx, req)
	assert.Equal(t, int64(2), res.Count)
	assert.Equal(t, 40*time.Second, res.Reset)

	c.Advance(41 * time.Second)
	res = rl.Allow(ctx, req)
	assert.Equal(t, int64(1), res.Count)
	assert.Equal(t, time.Minute, res.Reset)
}

func TestAllowKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	rl, _ := newRedisLimiter(t)
	a := Request{Bucket: "search", Key: "ip1", Limit: 1, Window: time.Minute}
	b := Request{Bucket: "search", Key: "ip2", Limit: 1, Window: time.Minute}
	c := Request{Bucket: "posts", Key: "ip1", Limit: 1, Window: time.Minute}
	assert.True(t, rl.Allow(ctx, a).Allowed)
	assert.True(t, rl.Allow(ctx, b).Allowed)
	assert.True(t, rl.Allow(ctx, c).Allowed)
	assert.False(t, rl.Allow(ctx, a).Allowed)
}

func TestAllowZeroLimitDenies(t *testing.T) {
	ctx := context.Background()
	rl, _ := newRedisLimiter(t)
	res := rl.Allow(ctx, Request{Bucket: "blocked", Key: "ip1", Limit: 0, Window: time.Minute})
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(1), res.Count)
	assert.Zero(t, res.Remaining)
}

func TestAllowDefaultsNonPositiveWindow(t *testing.T) {
	ctx := context.Background()
	rl, mr := newRedisLimiter(t)
	req := Request{Bucket: "cli", Key: "k", Limit: 2}
	assert.True(t, rl.Allow(ctx, req).Allowed)
	assert.True(t, rl.Allow(ctx, req).Allowed)
	res := rl.Allow(ctx, req)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(3), res.Count)
	assert.Equal(t, DefaultWindow, res.Reset)
	assert.Equal(t, DefaultWindow, mr.TTL("rl:cli:k"))

	req.Window = -time.Second
	assert.False(t, rl.Allow(ctx, req).Allowed)
}

func TestAllowRestoresMissingExpiry(t *testing.T) {
	ctx := context.Background()
	rl, mr := newRedisLimiter(t)
	require.NoError(t, mr.Set("rl:search:ip1", "4"))

	res := rl.Allow(ctx, Request{Bucket: "search", Key: "ip1", Limit: 10, Window: time.Minute})
	assert.Equal(t, int64(5), res.Count)
	assert.Equal(t, time.Minute, res.Reset)
	assert.Equal(t, time.Minute, mr.TTL("rl:search:ip1"))
}

func TestAllowFailsOpen(t *testing.T) {
	ctx := context.Background()
	log := logger.NewTestLogger()
	rl, mr := newRedisLimiter(t, WithLogger(log))
	mr.Close()

	req := Request{Bucket: "search", Key: "ip1", Limit: 2, Window: time.Minute}
	for i := 0; i < 5; i++ {
		res := rl.Allow(ctx, req)
		assert.True(t, res.Allowed)
		assert.Zero(t, res.Count)
		assert.Equal(t, int64(2), res.Remaining)
		assert.Equal(t, int64(60), res.ResetSeconds())
	}
	assert.Equal(t, 5, log.Count("WARNING"))
}

func TestAllowNoopStore(t *testing.T) {
	log := logger.NewTestLogger()
	rl := NewLimiter(store.NewNoop(), WithLogger(log))
	assert.False(t, rl.Enabled())
	res := rl.Allow(context.Background(), Request{Bucket: "search", Key: "ip1", Limit: 3, Window: time.Minute})
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(3), res.Remaining)
	assert.Empty(t, log.Logs())
}

func TestAllowAll(t *testing.T) {
	ctx := context.Background()
	rl, _ := newRedisLimiter(t)
	client := Request{Bucket: "search", Key: "ip1", Limit: 5, Window: time.Minute}
	global := Request{Bucket: "search", Key: "global", Limit: 2, Window: 2 * time.Minute}

	res := rl.AllowAll(ctx, client, global)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(1), res.Remaining, "fewest remaining wins")
	assert.Equal(t, int64(2), res.Limit)

	rl.AllowAll(ctx, client, global)
	res = rl.AllowAll(ctx, client, global)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(3), res.Count)
	assert.Equal(t, int64(120), res.ResetSeconds())

	// both buckets were counted even though the global one denied
	other := Request{Bucket: "search", Key: "ip2", Limit: 5, Window: time.Minute}
	res = rl.AllowAll(ctx, other, global)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(4), res.Count)
	assert.Equal(t, int64(2), rl.Allow(ctx, other).Count)
}

func TestAllowAllPrefersLongestReset(t *testing.T) {
	ctx := context.Background()
	rl, _ := newRedisLimiter(t)
	short := Request{Bucket: "a", Key: "k", Limit: 0, Window: time.Second * 10}
	long := Request{Bucket: "b", Key: "k", Limit: 0, Window: time.Hour}
	res := rl.AllowAll(ctx, short, long)
	assert.False(t, res.Allowed)
	assert.Equal(t, time.Hour, res.Reset)
}

func TestAllowAllEmpty(t *testing.T) {
	rl, _ := newRedisLimiter(t)
	assert.True(t, rl.AllowAll(context.Background()).Allowed)
}

func TestAllowConcurrent(t *testing.T) {
	ctx := context.Background()
	m := store.NewInMemory(ctx)
	defer m.Close()
	rl := NewLimiter(m)
	req := Request{Bucket: "search", Key: "ip1", Limit: 50, Window: time.Minute}

	var mu sync.Mutex
	allowed := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow(ctx, req).Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, allowed)
}

func TestResetSeconds(t *testing.T) {
	assert.Equal(t, int64(0), Result{}.ResetSeconds())
	assert.Equal(t, int64(1), Result{Reset: 10 * time.Millisecond}.ResetSeconds())
	assert.Equal(t, int64(2), Result{Reset: 1500 * time.Millisecond}.ResetSeconds())
	assert.Equal(t, int64(60), Result{Reset: time.Minute}.ResetSeconds())
}
