package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/rueidis"
)

// RedisLimiter is a counter-window limiter backed by Redis, for
// deployments where multiple server instances share the ceiling.
type RedisLimiter struct {
	client rueidis.Client
	config *Config
	now    func() time.Time
}

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(client rueidis.Client, cfg *Config) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		config: normalize(cfg),
		now:    time.Now,
	}
}

// Allow increments the caller's counter for the current window bucket and
// reports whether the ceiling is exceeded.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	now := l.now()
	bucket := now.UnixNano() / int64(l.config.Window)
	fullKey := l.config.KeyPrefix + key + ":" + strconv.FormatInt(bucket, 10)

	incrCmd := l.client.B().Incr().Key(fullKey).Build()
	count, err := l.client.Do(ctx, incrCmd).AsInt64()
	if err != nil {
		return nil, err
	}

	if count == 1 {
		expireCmd := l.client.B().Pexpire().Key(fullKey).Milliseconds(l.config.Window.Milliseconds()).Build()
		if err := l.client.Do(ctx, expireCmd).Error(); err != nil {
			return nil, err
		}
	}

	remaining := l.config.RequestsPerWindow - count
	if remaining < 0 {
		remaining = 0
	}

	windowEnd := time.Unix(0, (bucket+1)*int64(l.config.Window))

	return &Result{
		Allowed:    count <= l.config.RequestsPerWindow,
		Remaining:  remaining,
		RetryAfter: windowEnd.Sub(now),
	}, nil
}
