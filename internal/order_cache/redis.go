// Кэш хранит представление заказа; при смене статуса заказа запись удаляется,
// чтобы не отдавать устаревшие данные
package order_cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultNamespace = "market:cache:"

// RedisCache keeps values under a namespace with a fixed TTL.
type RedisCache struct {
	client    redis.UniversalClient
	ttl       time.Duration
	namespace string
}

func New(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, namespace: defaultNamespace}
}

// WithNamespace returns a copy writing under ns.
func (c *RedisCache) WithNamespace(ns string) *RedisCache {
	cp := *c
	cp.namespace = ns
	return &cp
}

func (c *RedisCache) Set(ctx context.Context, key, value string) error {
	if err := c.client.Set(ctx, c.namespace+key, value, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	value, err := c.client.Get(ctx, c.namespace+key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", ErrMiss
	case err != nil:
		return "", fmt.Errorf("cache get %s: %w", key, err)
	}
	return value, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.namespace+key).Err(); err != nil {
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	return nil
}
