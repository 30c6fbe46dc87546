package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kalambet/msgforge/internal/telemetry"
)

// RedisWindow is a Limiter shared by every process using the same Redis key.
// Acquisitions are members of a sorted set scored by their unix millisecond.
type RedisWindow struct {
	client      *redis.Client
	key         string
	maxRequests int
	window      time.Duration
	waiting     atomic.Int64
	now         func() time.Time
	logger      *slog.Logger
}

// NewRedisWindow returns a limiter admitting maxRequests per window across
// all processes sharing key.
func NewRedisWindow(client *redis.Client, key string, maxRequests int, window time.Duration) *RedisWindow {
	if maxRequests < 1 {
		maxRequests = 1
	}
	return &RedisWindow{
		client:      client,
		key:         key,
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
		logger:      slog.Default(),
	}
}

func (l *RedisWindow) Acquire(ctx context.Context) error {
	suspended := false
	defer func() {
		if suspended {
			l.waiting.Add(-1)
			telemetry.LimiterWaiting.Dec()
		}
	}()

	for {
		wait, err := l.tryAcquire(ctx)
		if err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		if wait == 0 {
			return nil
		}
		if !suspended {
			suspended = true
			l.waiting.Add(1)
			telemetry.LimiterWaiting.Inc()
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *RedisWindow) tryAcquire(ctx context.Context) (time.Duration, error) {
	now := l.now().UnixMilli()
	res, err := windowScript.Run(ctx, l.client, []string{l.key},
		l.maxRequests, l.window.Milliseconds(), now, uuid.NewString()).Int64()
	if err != nil {
		return 0, err
	}
	if res < 0 {
		res = 1
	}
	return time.Duration(res) * time.Millisecond, nil
}

// Reset deletes the shared window, affecting every process using the key.
func (l *RedisWindow) Reset() {
	if err := l.client.Del(context.Background(), l.key).Err(); err != nil {
		l.logger.Warn("resetting rate limiter", "key", l.key, "error", err)
	}
}

func (l *RedisWindow) Waiting() int {
	return int(l.waiting.Load())
}

// windowScript returns 0 when the caller is admitted, otherwise the number
// of milliseconds until the oldest member leaves the window.
var windowScript = redis.NewScript(`
local key = KEYS[1]
local max = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < max then
  redis.call('ZADD', key, now, member)
  redis.call('PEXPIRE', key, window)
  return 0
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local wait = tonumber(oldest[2]) + window - now
if wait < 1 then wait = 1 end
return wait
`)
