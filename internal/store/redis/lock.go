package redis

import (
	"context"
	"time"
)

func (s *RedisStore) lockKey(key string) string {
	return s.prefix + "lock:" + key
}

// AcquireLock takes an advisory lock via SETNX with a TTL. The TTL releases
// locks held by crashed sweepers.
func (s *RedisStore) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.lockKey(key), "1", ttl).Result()
}

// ReleaseLock frees an advisory lock.
func (s *RedisStore) ReleaseLock(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.lockKey(key)).Err()
}
