package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKeyPrefix namespaces every key written by RedisStore.
const RedisKeyPrefix = "trailtrack:storage:"

// RedisStore is the Store implementation for deployments where several
// server instances share visitor state.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore wraps client. A zero ttl keeps keys forever.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// OpenRedisStore connects to addr and verifies the connection.
func OpenRedisStore(ctx context.Context, addr, password string, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisStore(client, ttl), nil
}

// RedisKey builds the Redis key for a namespaced storage item.
func RedisKey(namespace, key string) string {
	return RedisKeyPrefix + namespace + ":" + key
}

func (s *RedisStore) GetItem(ctx context.Context, namespace, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, RedisKey(namespace, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get item %s/%s: %w", namespace, key, err)
	}
	return value, true, nil
}

func (s *RedisStore) SetItem(ctx context.Context, namespace, key, value string) error {
	if err := s.client.Set(ctx, RedisKey(namespace, key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set item %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (s *RedisStore) RemoveItem(ctx context.Context, namespace, key string) error {
	if err := s.client.Del(ctx, RedisKey(namespace, key)).Err(); err != nil {
		return fmt.Errorf("failed to remove item %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
