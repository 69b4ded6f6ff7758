package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"stokpilot/backend/internal/domain"
)

const itemKeyPrefix = "stokpilot:item:"

func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

type RedisItemCache struct {
	client *redis.Client
}

func NewRedisItemCache(client *redis.Client) *RedisItemCache {
	return &RedisItemCache{client: client}
}

func (c *RedisItemCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisItemCache) Get(ctx context.Context, itemID string) (*domain.Item, bool, error) {
	val, err := c.client.Get(ctx, itemKeyPrefix+itemID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var item domain.Item
	if err := json.Unmarshal([]byte(val), &item); err != nil {
		return nil, false, err
	}
	return &item, true, nil
}

func (c *RedisItemCache) Set(ctx context.Context, item *domain.Item, ttl time.Duration) error {
	if item == nil {
		return nil
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, itemKeyPrefix+item.ID, payload, ttl).Err()
}

func (c *RedisItemCache) Invalidate(ctx context.Context, itemID string) error {
	return c.client.Del(ctx, itemKeyPrefix+itemID).Err()
}
