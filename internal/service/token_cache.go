package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prperemyshlev/auth-lifecycle/pkg/database"
	"github.com/redis/go-redis/v9"
)

// RedisTokenCache mirrors one-time tokens into Redis with a TTL matching
// their expiry
type RedisTokenCache struct {
	redis *database.Redis
}

// NewRedisTokenCache creates a new token cache
func NewRedisTokenCache(redis *database.Redis) *RedisTokenCache {
	return &RedisTokenCache{redis: redis}
}

// swapScript points KEYS[1] (the owner pointer) at the fresh mirror KEYS[2]
// and drops the mirror the pointer held before, all in one step
var swapScript = redis.NewScript(`
local previous = redis.call('GET', KEYS[1])
redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[2])
redis.call('SET', KEYS[1], KEYS[2], 'PX', ARGV[2])
if previous and previous ~= KEYS[2] then
	redis.call('DEL', previous)
end
return 1
`)

// Swap stores key -> userID for ttl and makes it the only live mirror
// recorded under ownerKey. Concurrent swaps on one owner leave exactly one
// mirror behind.
func (c *RedisTokenCache) Swap(ctx context.Context, ownerKey, key string, userID int64, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("invalid ttl %v for token mirror", ttl)
	}
	err := swapScript.Run(ctx, c.redis.Client,
		[]string{ownerKey, key},
		strconv.FormatInt(userID, 10),
		ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to mirror token: %w", err)
	}
	return nil
}

// Pop claims key with GETDEL so that only one caller can observe it
func (c *RedisTokenCache) Pop(ctx context.Context, key string) (int64, error) {
	raw, err := c.redis.Client.GetDel(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrCacheMiss
		}
		return 0, fmt.Errorf("failed to claim token: %w", err)
	}

	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt token mirror %q: %w", key, err)
	}
	return userID, nil
}
