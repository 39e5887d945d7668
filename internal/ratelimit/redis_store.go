package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementScript counts a request atomically; the key expires with its window.
var incrementScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current and tonumber(current) >= tonumber(ARGV[1]) then
	return {0, tonumber(current)}
end
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {1, count}
`)

// RedisStore shares windows across service instances.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing client. Close closes the client.
func NewRedisStore(client redis.UniversalClient) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: redis client is nil", ErrInvalidConfig)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	options.PoolSize = 50
	options.MinIdleConns = 10
	options.DialTimeout = 5 * time.Second
	options.ReadTimeout = 3 * time.Second
	options.WriteTimeout = 3 * time.Second

	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// Increment implements Store.
func (store *RedisStore) Increment(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	values, err := incrementScript.Run(ctx, store.client, []string{key}, limit, window.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, err
	}
	if len(values) != 2 {
		return false, 0, fmt.Errorf("unexpected script reply %v", values)
	}
	return values[0] == 1, int(values[1]), nil
}

// Count implements Store.
func (store *RedisStore) Count(ctx context.Context, key string) (int, error) {
	count, err := store.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Close implements Store.
func (store *RedisStore) Close() error {
	return store.client.Close()
}
