// Package store provides the TTL key-value store backing session state.
//
// DESIGN: Two interchangeable backends with identical semantics:
//   - Memory: in-process map with a background expiry sweeper
//   - SQLite: durable file-backed store, expiry enforced on read and swept
//
// The backend is chosen once at startup; callers never probe capability.
package store

import (
	"context"
	"time"
)

// Store is a bounded-lifetime key-value store.
//
// Get must treat expired entries as absent regardless of sweep timing.
// Incr maintains a counter under key, creating it with the given TTL;
// it backs the rate-limit window.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Close releases the backend and stops any background sweeper.
	Close() error
}
