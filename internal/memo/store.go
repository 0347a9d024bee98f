package memo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "dermai:prediction:"
	defaultRedisTTL    = 24 * time.Hour
)

// Store is a shared second-level cache consulted on in-process misses.
type Store[V any] interface {
	Get(ctx context.Context, key string) (V, bool, error)
	Set(ctx context.Context, key string, value V) error
}

// RedisClient captures the subset of redis.Client used by RedisStore.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisStore keeps JSON-encoded values in Redis so replicas share results.
// Set uses SETNX, so the first value written for a key is never replaced.
type RedisStore[V any] struct {
	client RedisClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore returns a RedisStore. Empty prefix and non-positive ttl fall
// back to defaults.
func NewRedisStore[V any](client RedisClient, prefix string, ttl time.Duration) *RedisStore[V] {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	return &RedisStore[V]{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	if s.client == nil {
		return zero, false, errors.New("redis client unavailable")
	}
	body, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, false, nil
		}
		return zero, false, err
	}
	var out V
	if err := json.Unmarshal(body, &out); err != nil {
		return zero, false, fmt.Errorf("decode cached value %q: %w", key, err)
	}
	return out, true, nil
}

func (s *RedisStore[V]) Set(ctx context.Context, key string, value V) error {
	if s.client == nil {
		return errors.New("redis client unavailable")
	}
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cached value %q: %w", key, err)
	}
	return s.client.SetNX(ctx, s.prefix+key, body, s.ttl).Err()
}

// DialRedis connects to addr and verifies the connection with PING.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}
