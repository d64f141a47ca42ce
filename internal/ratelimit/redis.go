package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fieldtrack/fieldtrack/internal/logger"
)

const redisOpTimeout = 250 * time.Millisecond

// RedisLimiter is a sliding window over a Redis sorted set, so multiple
// processes enforce one shared quota. On Redis failure it fails open:
// dropping legitimate traffic because the limiter store is down is worse
// than briefly under-enforcing.
type RedisLimiter struct {
	Window time.Duration
	client *redis.Client
}

func NewRedis(client *redis.Client, window time.Duration) *RedisLimiter {
	return &RedisLimiter{Window: window, client: client}
}

func (l *RedisLimiter) Allow(key string, limit int) Decision {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	now := time.Now()
	cutoff := now.Add(-l.Window)
	member := strconv.FormatInt(now.UnixNano(), 10)

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff.UnixNano(), 10))
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Logger.Warn().Err(err).Str("key", key).Msg("redis rate limit check failed, allowing")
		return Decision{Allowed: true, Remaining: limit, ResetAt: now.Add(l.Window)}
	}

	count := int(card.Val())
	if count >= limit {
		return Decision{Allowed: false, Remaining: 0, ResetAt: now.Add(l.Window)}
	}

	pipe = l.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.Expire(ctx, key, l.Window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Logger.Warn().Err(err).Str("key", key).Msg("redis rate limit record failed")
	}

	return Decision{Allowed: true, Remaining: limit - count - 1, ResetAt: now.Add(l.Window)}
}
