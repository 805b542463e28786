package nlp

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter is a fixed-window Limiter shared by every replica through
// Redis. Each (sender, window) pair is one counter key that expires with
// its window.
//
// Redis errors fail open: a broken cache must not silence workers.
type RedisRateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
	logger *slog.Logger
}

// NewRedisRateLimiter returns a limiter using client. Non-positive limit and
// window select the same defaults as NewRateLimiter.
func NewRedisRateLimiter(client *redis.Client, limit int, window time.Duration, logger *slog.Logger) *RedisRateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = defaultRateLimitWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRateLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: "uklid:ratelimit:",
		now:    time.Now,
		logger: logger,
	}
}

func (r *RedisRateLimiter) key(senderID string, now time.Time) string {
	bucket := now.UnixNano() / int64(r.window)
	return r.prefix + senderID + ":" + strconv.FormatInt(bucket, 10)
}

// Allow increments the sender's counter for the current window.
func (r *RedisRateLimiter) Allow(ctx context.Context, senderID string) bool {
	key := r.key(senderID, r.now())

	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, r.window)
		return nil
	})
	if err != nil {
		r.logger.Warn("rate limiter unavailable, allowing message", "err", err)
		return true
	}
	return incr.Val() <= int64(r.limit)
}

// Remaining returns how many calls the sender can still make in the current
// window.
func (r *RedisRateLimiter) Remaining(ctx context.Context, senderID string) (int, error) {
	n, err := r.client.Get(ctx, r.key(senderID, r.now())).Int()
	if err == redis.Nil {
		return r.limit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("nlp: read rate limit counter: %w", err)
	}
	if rem := r.limit - n; rem > 0 {
		return rem, nil
	}
	return 0, nil
}
