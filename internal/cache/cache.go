// Package cache provides the key/value caches, locks and job queue used
// around the store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// ErrMiss is returned by Cache.GetBytes when the key does not exist.
var ErrMiss = errors.New("cache miss")

// Cache is a byte-oriented key/value cache with TTLs and glob invalidation.
type Cache interface {
	GetBytes(ctx context.Context, key string) ([]byte, error)
	SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	// DelPattern deletes all keys matching a glob pattern (e.g. "lives:*").
	DelPattern(ctx context.Context, pattern string) error
}

// Get fetches a key and JSON-unmarshals the value.
// Returns ErrMiss when the key does not exist.
func Get[T any](ctx context.Context, c Cache, key string) (T, error) {
	var zero T
	raw, err := c.GetBytes(ctx, key)
	if err != nil {
		return zero, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, fmt.Errorf("cache unmarshal %s: %w", key, err)
	}
	return v, nil
}

// Set JSON-marshals v and stores it under key with the given TTL.
func Set(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache marshal %s: %w", key, err)
	}
	return c.SetBytes(ctx, key, data, ttl)
}
