// redis.go implements Store on top of a Redis instance. Every document is a
// JSON string value; the configured key prefix namespaces this application's
// keys away from anything else sharing the database.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists documents as JSON string values in Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store backed by client. prefix is prepended to
// every key (a trailing colon is added if missing); pass "" for no prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix != "" && prefix[len(prefix)-1] != ':' {
		prefix += ":"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Ping verifies connectivity. Called once at startup so a misconfigured
// Redis address fails fast instead of surfacing as degraded audit writes.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string, dest any) error {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("redis get %q: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("unmarshal document %q: %w", key, err)
	}
	return nil
}

// Set implements Store. Documents are stored without a TTL: trimming and
// removal are the callers' responsibility (capacity caps, fired entries).
func (s *RedisStore) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal document %q: %w", key, err)
	}
	if err := s.client.Set(ctx, s.prefix+key, raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}
