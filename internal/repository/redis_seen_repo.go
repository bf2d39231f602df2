package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const seenKeyPrefix = "relay:seen:"

// RedisSeenRepository stores seen markers with SETNX, so several relay
// replicas reading the same upstream share one dedup window.
type RedisSeenRepository struct {
	client *redis.Client
}

func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: addr,
	})
}

func NewRedisSeenRepository(client *redis.Client) *RedisSeenRepository {
	return &RedisSeenRepository{client: client}
}

func (r *RedisSeenRepository) MarkSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	// SETNX with a zero expiration would keep the key forever.
	if ttl <= 0 {
		return false, ErrInvalidTTL
	}
	ok, err := r.client.SetNX(ctx, seenKeyPrefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func (r *RedisSeenRepository) Forget(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, seenKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Ping verifies connectivity at startup.
func (r *RedisSeenRepository) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

var _ SeenRepository = (*RedisSeenRepository)(nil)
