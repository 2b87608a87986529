package repository

import (
	"context"
	"time"
)

// =============================================================================
// Cache Interface
// =============================================================================

// Cache is a byte-oriented key/value cache with expiry.
// Implemented in memory for single-node deployments and by Redis.
type Cache interface {
	// Get retrieves a value by key.
	// Returns ErrCacheMiss if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with an optional TTL.
	// If ttl is 0, the value doesn't expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the given keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
}

// =============================================================================
// Common Cache Keys
// =============================================================================

// CacheKeys generates cache keys for metadata entries.
var CacheKeys = cacheKeys{}

type cacheKeys struct{}

// Object returns the cache key for an object with its tags.
func (cacheKeys) Object(id string) string {
	return "cache:object:" + id
}

// Labels returns the cache key for the distinct label list.
func (cacheKeys) Labels() string {
	return "cache:labels"
}
