package cache

import (
	"context"
	"time"
)

// Cache is a key-value store with per-key expiration. Implementations must be
// usable before a backend connection exists: every operation degrades to a
// miss or no-op instead of failing the caller.
type Cache interface {
	// Get returns the decoded value for key. A stored value that fails
	// structural decoding is returned as its raw string rather than treated
	// as absent.
	Get(ctx context.Context, key string) (any, bool)
	// GetInto decodes the value for key into dest, reporting a miss when the
	// key is absent or the value does not decode.
	GetInto(ctx context.Context, key string, dest any) bool
	// Set serializes non-string values and stores them under key with the
	// given TTL, overwriting any existing value and expiration.
	Set(ctx context.Context, key string, value any, ttl time.Duration) bool
	// Delete removes key, reporting whether it was present.
	Delete(ctx context.Context, key string) bool
	Exists(ctx context.Context, key string) bool
}
