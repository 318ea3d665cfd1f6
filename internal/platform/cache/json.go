package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// JSONStore stores JSON documents under a key prefix.
type JSONStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewJSONStore constructs a JSONStore. A nil client yields a store that
// always misses.
func NewJSONStore(client redis.Cmdable, prefix string, ttl time.Duration) *JSONStore {
	return &JSONStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *JSONStore) key(k string) string {
	return s.prefix + ":" + k
}

// Get decodes the cached value into dst. The bool reports a hit.
func (s *JSONStore) Get(ctx context.Context, key string, dst any) (bool, error) {
	if s == nil || s.client == nil {
		return false, nil
	}
	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(val, dst); err != nil {
		return false, err
	}
	return true, nil
}

// Set stores value with the store TTL.
func (s *JSONStore) Set(ctx context.Context, key string, value any) error {
	if s == nil || s.client == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(key), payload, s.ttl).Err()
}

// Delete removes the keys.
func (s *JSONStore) Delete(ctx context.Context, keys ...string) error {
	if s == nil || s.client == nil || len(keys) == 0 {
		return nil
	}
	full := make([]string, 0, len(keys))
	for _, k := range keys {
		full = append(full, s.key(k))
	}
	return s.client.Del(ctx, full...).Err()
}
