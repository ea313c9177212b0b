package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKV is a Redis-based implementation of KV.
// Suitable for deployments where several processes share state.
type RedisKV struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisKV creates a new Redis-based key-value store
func NewRedisKV(config StoreConfig) (*RedisKV, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
		PoolSize: config.Redis.PoolSize,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisKVFromClient(client, config.Redis.KeyPrefix), nil
}

// NewRedisKVFromClient wraps an existing client
func NewRedisKVFromClient(client *redis.Client, keyPrefix string) *RedisKV {
	if keyPrefix == "" {
		keyPrefix = "agentcircle:"
	}
	return &RedisKV{
		client:    client,
		keyPrefix: keyPrefix + "kv:",
	}
}

// Close closes the store
func (s *RedisKV) Close() error {
	return s.client.Close()
}

// Ping checks if the store is healthy
func (s *RedisKV) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get returns the value stored under key
func (s *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return data, nil
}

// Set stores value under key without expiry
func (s *RedisKV) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrInvalidInput
	}
	if err := s.client.Set(ctx, s.keyPrefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// Delete removes key
func (s *RedisKV) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}
