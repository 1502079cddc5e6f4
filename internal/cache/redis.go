package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

var _ Backend = (*RedisBackend)(nil)

// RedisBackend stores entries in Redis under a common key prefix.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	return &RedisBackend{
		client: client,
		prefix: prefix,
	}
}

func (rb *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := rb.client.Get(ctx, rb.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (rb *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return rb.client.Set(ctx, rb.prefix+key, value, ttl).Err()
}

func (rb *RedisBackend) Delete(ctx context.Context, key string) error {
	return rb.client.Del(ctx, rb.prefix+key).Err()
}
