package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/songzhibin97/workflow-canvas/types"
)

// DefaultRedisPrefix namespaces state keys in Redis.
const DefaultRedisPrefix = "canvas:state:"

// RedisStorage is a Redis-backed implementation of StateStore. Each state
// is one JSON string value.
type RedisStorage struct {
	client *redis.Client
	prefix string
}

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	Prefix       string        `yaml:"prefix"`
}

// NewRedisStorage connects to Redis and checks the connection with a ping.
func NewRedisStorage(opts RedisOptions) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		IdleTimeout:  opts.IdleTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStorage{client: client, prefix: prefix}, nil
}

// Get retrieves a state from Redis.
func (s *RedisStorage) Get(ctx context.Context, key string) (types.SavedState, error) {
	return withContext(ctx, func() (types.SavedState, error) {
		data, err := s.client.Get(ctx, s.prefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			return types.SavedState{}, fmt.Errorf("%w: key=%s", ErrStateNotFound, key)
		} else if err != nil {
			return types.SavedState{}, fmt.Errorf("failed to get %s from Redis: %w", key, err)
		}

		var state types.SavedState
		if err := json.Unmarshal(data, &state); err != nil {
			return types.SavedState{}, fmt.Errorf("failed to unmarshal %s: %w", key, err)
		}
		return state, nil
	})
}

// Save stores a state in Redis without expiry.
func (s *RedisStorage) Save(ctx context.Context, key string, state types.SavedState) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return withContextError(ctx, func() error {
		data, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", key, err)
		}
		if err := s.client.Set(ctx, s.prefix+key, data, 0).Err(); err != nil {
			return fmt.Errorf("failed to set %s in Redis: %w", key, err)
		}
		return nil
	})
}

// Delete removes a state from Redis.
func (s *RedisStorage) Delete(ctx context.Context, key string) error {
	return withContextError(ctx, func() error {
		n, err := s.client.Del(ctx, s.prefix+key).Result()
		if err != nil {
			return fmt.Errorf("failed to delete %s from Redis: %w", key, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: key=%s", ErrStateNotFound, key)
		}
		return nil
	})
}

// Keys scans the prefix and returns the stored keys in order.
func (s *RedisStorage) Keys(ctx context.Context) ([]string, error) {
	return withContext(ctx, func() ([]string, error) {
		var keys []string
		iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, strings.TrimPrefix(iter.Val(), s.prefix))
		}
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("failed to scan state keys: %w", err)
		}
		sort.Strings(keys)
		return keys, nil
	})
}

// Close closes the Redis client connection.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

var (
	_ StateStore = (*RedisStorage)(nil)
	_ KeyLister  = (*RedisStorage)(nil)
)
