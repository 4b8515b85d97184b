package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers the outcome recorded for an idempotency key so a
// replayed request can be answered with the original result instead of being
// applied twice.
type IdempotencyStore interface {
	// Remember stores value under key with a TTL.
	// Returns true if the key was newly stored, false if it already existed.
	Remember(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Lookup returns the value stored under key and whether it was found.
	Lookup(ctx context.Context, key string) (string, bool, error)

	// Close closes the store and releases resources
	Close() error
}

// IdempotencyConfig holds configuration for idempotency handling
type IdempotencyConfig struct {
	// TTL is how long a recorded outcome is kept.
	// The durable unique index on the orders table still rejects replays
	// after the cached entry expires.
	TTL time.Duration

	Enabled bool
}

// DefaultIdempotencyConfig returns the default idempotency configuration
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:     72 * time.Hour,
		Enabled: true,
	}
}
