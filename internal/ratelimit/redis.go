package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/queryrelay/queryrelay/internal/config"
)

// RedisLimiter implements a sliding window over a Redis sorted set per
// client identity, so multiple Gatekeeper replicas share one window.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// newRedisLimiter creates a Redis-backed sliding window limiter
func newRedisLimiter(cfg config.RateLimitConfig) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		// Fallback to simple options
		opts = &redis.Options{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisLimiter{
		client: client,
		limit:  cfg.Limit,
		window: cfg.Window,
	}, nil
}

// Allow trims entries older than the window, records this request, and
// compares the remaining cardinality against the limit, all in one
// pipeline round trip.
func (l *RedisLimiter) Allow(ctx context.Context, identity string) (bool, error) {
	key := "queryrelay:ratelimit:" + identity
	now := time.Now()
	cutoff := now.Add(-l.window).UnixNano()

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", cutoff))
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: uuid.New().String(),
	})
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, l.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	return card.Val() <= int64(l.limit), nil
}

// Close closes the Redis client
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
