package httpx

import (
	"context"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	rateKeyPrefix    = "sitelift:ratelimit:"
	rateRedisTimeout = 250 * time.Millisecond
)

// redisRateLimiter counts requests in Redis so limits hold across API
// replicas. Any Redis failure fails open: throttling must never take the
// API down with the cache.
type redisRateLimiter struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisRateLimiter connects to Redis and returns a shared limiter.
func NewRedisRateLimiter(addr, password string, db int, logger *slog.Logger) (RateLimiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &redisRateLimiter{client: client, logger: logger}, nil
}

func (rl *redisRateLimiter) Allow(key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), rateRedisTimeout)
	defer cancel()

	bucket := rateKeyPrefix + key
	pipe := rl.client.Pipeline()
	count := pipe.Incr(ctx, bucket)
	// NX keeps the window anchored at the first hit; later hits only read.
	pipe.ExpireNX(ctx, bucket, window)
	ttl := pipe.TTL(ctx, bucket)
	if _, err := pipe.Exec(ctx); err != nil {
		if rl.logger != nil {
			rl.logger.Error("rate limit pipeline failed, allowing request", "error", err)
		}
		return rateDecision{allowed: true}
	}

	remaining := ttl.Val()
	if remaining <= 0 {
		remaining = window
	}
	n := int(count.Val())
	return rateDecision{
		allowed:   n <= limit,
		count:     n,
		windowEnd: time.Now().Add(remaining),
	}
}

func (rl *redisRateLimiter) Close() {
	_ = rl.client.Close()
}
