package circuitbreaker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRedisHookPassesCommands(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	hook := NewRedisHook("test-redis", "tests", zaptest.NewLogger(t))
	client.AddHook(hook)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "k", "v", time.Minute).Err())
	val, err := client.Get(ctx, "k").Result()
	require.NoError(t, err)
	assert.Equal(t, "v", val)

	// A missing key is not a dependency failure.
	_, err = client.Get(ctx, "missing").Result()
	assert.ErrorIs(t, err, redis.Nil)
	assert.Zero(t, hook.Breaker().Counts().TotalFailures)

	pipe := client.Pipeline()
	pipe.Incr(ctx, "n")
	pipe.Incr(ctx, "n")
	_, err = pipe.Exec(ctx)
	require.NoError(t, err)
	n, err := s.Get("n")
	require.NoError(t, err)
	assert.Equal(t, "2", n)
}

func TestRedisHookOpensOnOutage(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr(), MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	defer client.Close()

	hook := NewRedisHook("test-redis-outage", "tests", zaptest.NewLogger(t))
	client.AddHook(hook)
	ctx := context.Background()

	s.Close()
	threshold := int(SettingsFor(KindRedis).FailureThreshold)
	for i := 0; i < threshold; i++ {
		assert.Error(t, client.Ping(ctx).Err())
	}
	assert.Equal(t, StateOpen, hook.Breaker().State())
	assert.ErrorIs(t, client.Ping(ctx).Err(), ErrCircuitBreakerOpen)
}
