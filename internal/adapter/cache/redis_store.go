package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trungvo-ux/windows97/internal/domain"
	"github.com/trungvo-ux/windows97/internal/repository"
)

// incrWindowScript increments the counter and starts the window on the first
// hit. A counter left without expiry is healed with a fresh window.
var incrWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisStore implements KeyValueStore backed by Redis.
type RedisStore struct {
	client redis.UniversalClient
}

var _ repository.KeyValueStore = (*RedisStore)(nil)

// NewRedisStore constructs a Redis-backed key-value store.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Get loads the value at key.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, storeErr("get", err)
	}
	return value, true, nil
}

// Exists reports whether key is present.
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, storeErr("exists", err)
	}
	return n > 0, nil
}

// Set stores value with TTL.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return storeErr("set", err)
	}
	return nil
}

// Expire resets the TTL of key.
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, storeErr("expire", err)
	}
	return ok, nil
}

// Del removes keys.
func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return storeErr("del", err)
	}
	return nil
}

// IncrWindow runs INCR and the first-hit PEXPIRE as one script.
func (s *RedisStore) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	res, err := incrWindowScript.Run(ctx, s.client, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, storeErr("incr window", err)
	}
	if len(res) != 2 {
		return 0, 0, storeErr("incr window", fmt.Errorf("unexpected script reply of %d values", len(res)))
	}
	return res[0], time.Duration(res[1]) * time.Millisecond, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrStoreUnavailable, op, err)
}
