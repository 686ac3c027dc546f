package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers applied award identifiers so that client
// retries of the same award are rejected before touching the database.
// The database unique constraint on the award ID remains the authoritative
// guard; this store is only a fast path.
type IdempotencyStore interface {
	// MarkApplied marks an award identifier as applied with a TTL.
	// Returns true if the identifier was newly marked, false if it was
	// already present.
	MarkApplied(ctx context.Context, awardID string, ttl time.Duration) (bool, error)

	// IsApplied checks whether an award identifier has been applied.
	IsApplied(ctx context.Context, awardID string) (bool, error)

	// Close releases the store's resources.
	Close() error
}

// IdempotencyConfig configures idempotency handling.
type IdempotencyConfig struct {
	// TTL is how long applied award identifiers are remembered. The
	// database constraint still rejects duplicates after expiry.
	TTL time.Duration

	// Enabled toggles the fast-path check.
	Enabled bool
}

// DefaultIdempotencyConfig returns the default idempotency configuration.
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:     24 * time.Hour,
		Enabled: true,
	}
}
