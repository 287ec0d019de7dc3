package attempts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "unionvote:verify:"

// RedisStore shares failure counts across server replicas. The failure
// counter expires with its window; the lock is a separate key with its own
// TTL.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func failKey(key string) string { return keyPrefix + "fail:" + key }
func lockKey(key string) string { return keyPrefix + "lock:" + key }

func (s *RedisStore) Get(ctx context.Context, key string, now time.Time) (Record, error) {
	pipe := s.client.Pipeline()
	count := pipe.Get(ctx, failKey(key))
	ttl := pipe.PTTL(ctx, lockKey(key))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Record{}, fmt.Errorf("read verification attempts: %w", err)
	}

	var r Record
	if n, err := count.Int(); err == nil {
		r.Failures = n
	} else if !errors.Is(err, redis.Nil) {
		return Record{}, fmt.Errorf("parse verification attempts: %w", err)
	}
	if d := ttl.Val(); d > 0 {
		until := now.Add(d)
		r.LockedUntil = &until
	}
	return r, nil
}

func (s *RedisStore) Increment(ctx context.Context, key string, _ time.Time, window time.Duration) (int, error) {
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, failKey(key))
		pipe.ExpireNX(ctx, failKey(key), window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("record verification failure: %w", err)
	}
	return int(incr.Val()), nil
}

func (s *RedisStore) Lock(ctx context.Context, key string, until time.Time) error {
	d := time.Until(until)
	if d <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, lockKey(key), 1, d).Err(); err != nil {
		return fmt.Errorf("lock verification: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, failKey(key), lockKey(key)).Err(); err != nil {
		return fmt.Errorf("clear verification attempts: %w", err)
	}
	return nil
}
