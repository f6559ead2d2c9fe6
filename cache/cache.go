// Package cache provides the caching tiers for the user-lookup path: a Redis
// backing store, a bounded in-process fallback, and a facade that switches
// between them so that callers never observe a backing-store failure.
package cache

import (
	"context"
	"errors"
	"time"
)

// Common cache errors.
var (
	// ErrCacheMiss indicates that the key was not found in the cache.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidConfig indicates that the cache configuration is invalid.
	ErrInvalidConfig = errors.New("invalid cache configuration")

	// ErrConnectionFailed indicates that the backing-store connection failed.
	ErrConnectionFailed = errors.New("cache connection failed")
)

// Store is the interface implemented by each cache tier.
type Store interface {
	// Get retrieves a value from the store.
	// Returns ErrCacheMiss if the key is not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the store.
	Delete(ctx context.Context, key string) error

	// Ping performs a cheap round-trip probe and returns its latency.
	Ping(ctx context.Context) (time.Duration, error)

	// Close releases the store's resources.
	Close() error
}

// Backend kinds reported by the facade health check.
const (
	// BackendPrimary indicates the backing store is serving traffic.
	BackendPrimary = "primary"

	// BackendFallback indicates the local fallback cache is serving traffic.
	BackendFallback = "fallback"
)

// Stats contains facade-level operation counters.
type Stats struct {
	// Hits is the number of cache hits.
	Hits int64

	// Misses is the number of cache misses.
	Misses int64

	// Errors is the number of backing-store failures.
	Errors int64

	// FallbackUses is the number of reads served by the local fallback
	// after a backing-store failure.
	FallbackUses int64
}

// HitRate returns the cache hit rate as a percentage.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// Health describes which tier is serving traffic and how fast it answers.
type Health struct {
	// Backend is BackendPrimary or BackendFallback.
	Backend string

	// Latency is the measured probe round-trip time.
	Latency time.Duration
}
