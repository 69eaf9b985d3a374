// Package cache is a namespaced key/value store with TTLs, backed by process
// memory or Redis.
package cache

import (
	"context"
	"time"
)

// KV stores string values under namespace:key.
type KV interface {
	// Get reports found=false for missing or expired keys
	Get(ctx context.Context, namespace, key string) (value string, found bool, err error)
	Set(ctx context.Context, namespace, key, value string, ttl time.Duration) error
	// SetNX stores value only when the key is absent and reports whether it did
	SetNX(ctx context.Context, namespace, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, namespace, key string) error
}

func fullKey(namespace, key string) string {
	return namespace + ":" + key
}
