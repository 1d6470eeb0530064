package circuitbreaker

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisHook is a go-redis hook that routes commands through a breaker.
// redis.Nil replies count as successes.
type RedisHook struct {
	cb      *CircuitBreaker
	name    string
	service string
}

// NewRedisHook returns a hook to install with client.AddHook.
func NewRedisHook(name, service string, logger *zap.Logger) *RedisHook {
	cb := NewCircuitBreaker(name, SettingsFor(KindRedis).ToConfig(), logger)
	GlobalMetricsCollector.RegisterCircuitBreaker(name, service, cb)
	return &RedisHook{cb: cb, name: name, service: service}
}

// Breaker exposes the underlying breaker.
func (h *RedisHook) Breaker() *CircuitBreaker { return h.cb }

func (h *RedisHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *RedisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		var cmdErr error
		err := h.cb.Execute(ctx, func() error {
			cmdErr = next(ctx, cmd)
			return breakerError(cmdErr)
		})
		GlobalMetricsCollector.RecordRequest(h.name, h.service, h.cb.State(), err == nil)
		if cmdErr == nil && err != nil {
			// Rejected before the command ran.
			cmd.SetErr(err)
			return err
		}
		return cmdErr
	}
}

func (h *RedisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		var cmdErr error
		err := h.cb.Execute(ctx, func() error {
			cmdErr = next(ctx, cmds)
			return breakerError(cmdErr)
		})
		GlobalMetricsCollector.RecordRequest(h.name, h.service, h.cb.State(), err == nil)
		if cmdErr == nil && err != nil {
			for _, cmd := range cmds {
				cmd.SetErr(err)
			}
			return err
		}
		return cmdErr
	}
}

func breakerError(err error) error {
	// A caller abandoning a blocking read is not an outage.
	if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
