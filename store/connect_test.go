package store

import (
	"context"
	"testing"
	"time"

	"github.com/agentuity/go-guard/logger"
	"github.com/agentuity/go-guard/resilience"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectWithoutURL(t *testing.T) {
	log := logger.NewTestLogger()
	s := Connect(context.Background(), "", WithLogger(log))
	assert.False(t, s.Enabled())
	assert.Equal(t, 1, log.Count("INFO"))
}

func TestConnectInvalidURL(t *testing.T) {
	log := logger.NewTestLogger()
	s := Connect(context.Background(), "not a url://", WithLogger(log))
	assert.False(t, s.Enabled())
	assert.Equal(t, 1, log.Count("WARNING"))
}

func TestConnectMemory(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	log := logger.NewTestLogger()
	s := Connect(ctx, MemoryScheme, WithLogger(log))
	require.True(t, s.Enabled())
	assert.IsType(t, &Memory{}, s)
	assert.Equal(t, 1, log.Count("INFO"))

	n, err := s.Incr(ctx, "rl:b:k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestConnectUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	s := Connect(context.Background(), "redis://"+addr, WithDialTimeout(300*time.Millisecond))
	assert.False(t, s.Enabled())
}

func TestConnectReachable(t *testing.T) {
	mr := miniredis.RunT(t)
	s := Connect(context.Background(), "redis://"+mr.Addr())
	require.True(t, s.Enabled())
	require.NoError(t, s.Set(context.Background(), "k", "v", 0))
	assert.True(t, mr.Exists("k"))
}

func TestRedisBreakerFailsFast(t *testing.T) {
	mr, client := newTestRedis(t)
	s := NewRedis(client,
		WithQueryTimeout(200*time.Millisecond),
		WithBreaker(resilience.CircuitBreakerConfig{MaxFailures: 2, Cooldown: time.Hour}),
	)
	mr.Close()
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, _, err := s.Get(ctx, "k")
		require.Error(t, err)
	}
	_, _, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)

	stats := s.(BreakerReporter).BreakerStats()
	assert.Equal(t, resilience.StateOpen, stats.State)
	assert.Equal(t, 2, stats.Failures)
}
