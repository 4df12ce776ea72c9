package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisAttemptStore backs the login limiter with a shared Redis instance so
// multiple server replicas count failures against the same key. INCR keeps
// the increment atomic across replicas; key TTLs stand in for the counting
// window and the lockout clock.
type RedisAttemptStore struct {
	client *redis.Client
}

func NewRedisAttemptStore(client *redis.Client) *RedisAttemptStore {
	return &RedisAttemptStore{client: client}
}

func attemptKey(key string) string { return "auth:attempts:" + key }
func lockKey(key string) string    { return "auth:lock:" + key }

func (s *RedisAttemptStore) Failures(ctx context.Context, key string) (int, error) {
	count, err := s.client.Get(ctx, attemptKey(key)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("get attempt counter: %w", err)
	}
	return count, nil
}

func (s *RedisAttemptStore) RecordFailure(ctx context.Context, key string, window time.Duration) (int, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, attemptKey(key))
	pipe.Expire(ctx, attemptKey(key), window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("increment attempt counter: %w", err)
	}
	return int(incr.Val()), nil
}

func (s *RedisAttemptStore) LockedUntil(ctx context.Context, key string) (time.Time, error) {
	value, err := s.client.Get(ctx, lockKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("get lock: %w", err)
	}

	unix, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse lock timestamp: %w", err)
	}
	return time.Unix(unix, 0).UTC(), nil
}

func (s *RedisAttemptStore) Lock(ctx context.Context, key string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		ttl = time.Second
	}

	// The counter must not outlive the lock: once the lock key expires the
	// limiter sees a clean key and never calls Clear, so a surviving counter
	// would re-lock on the very next failure.
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, lockKey(key), strconv.FormatInt(until.Unix(), 10), ttl)
	pipe.Expire(ctx, attemptKey(key), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set lock: %w", err)
	}
	return nil
}

func (s *RedisAttemptStore) Clear(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, attemptKey(key), lockKey(key)).Err(); err != nil {
		return fmt.Errorf("clear attempt state: %w", err)
	}
	return nil
}
