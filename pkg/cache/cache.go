// Package cache provides the key-value store backing conversation session
// and user-config state. Two implementations ship: an in-process store for
// single-node deployments and tests, and a Redis store for anything that
// has to survive restarts.
package cache

import (
	"context"
	"time"
)

// Cache is a string key-value store with optional per-entry TTL.
type Cache interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key. ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key, reporting whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// Clear removes every entry.
	Clear(ctx context.Context) error
}
