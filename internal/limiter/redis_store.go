package limiter

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/credentia/go-verify-gateway/internal/config"
	"github.com/credentia/go-verify-gateway/internal/repo"
)

// RedisStore keeps window counters in Redis, one key per (route, identity)
// with a TTL equal to the window. Preferred for multi-instance deployments
// where the SQL database would become a contention point.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects a CounterStore to the configured Redis instance.
func NewRedisStore(cfg config.RedisConfig) *RedisStore {
	return &RedisStore{
		rdb: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

// Consume increments the counter for key and reports the decision. INCR is
// atomic, so concurrent racers each observe a distinct count and the ceiling
// cannot be undercut. Counts past the ceiling are tolerated: the TTL defines
// the window, so an overshot count resets with it and never extends it.
func (s *RedisStore) Consume(ctx context.Context, key string, max int, window time.Duration, now time.Time) (repo.CounterDecision, error) {
	pipe := s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return repo.CounterDecision{}, err
	}

	count := incr.Val()
	ttl := pttl.Val()
	if count == 1 || ttl < 0 {
		// First request in the window (or a key missing its expiry after a
		// crash): start the window now.
		if err := s.rdb.PExpire(ctx, key, window).Err(); err != nil {
			return repo.CounterDecision{}, err
		}
		ttl = window
	}
	reset := now.Add(ttl)

	if count > int64(max) {
		return repo.CounterDecision{Allowed: false, Remaining: 0, ResetTime: reset}, nil
	}
	return repo.CounterDecision{
		Allowed:   true,
		Remaining: max - int(count),
		ResetTime: reset,
	}, nil
}

// Ping verifies connectivity, for startup checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
