// Package cache is the short-TTL coordination store shared across character
// processes. Snooze keys, musing cooldowns, and the daily dream lock all
// live here; nothing in the loop keeps cross-cycle state in memory.
package cache

import (
	"context"
	"time"
)

// Store is a TTL key store with an atomic set-if-absent. Expired keys are
// indistinguishable from missing keys.
type Store interface {
	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)
	// SetIfAbsent writes key only if it is missing or expired. Returns
	// true if this call won the write.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Lease is cross-process mutual exclusion on top of the store: whoever wins
// the set-if-absent holds the lease until the TTL lapses. There is no
// release; leases are meant to outlive the work they guard (one dream per
// character per day).
type Lease struct {
	store Store
}

// NewLease wraps a store.
func NewLease(store Store) *Lease {
	return &Lease{store: store}
}

// Acquire attempts to take the lease. Returns true if this caller now holds
// it, false if another process got there first.
func (l *Lease) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.store.SetIfAbsent(ctx, key, "held", ttl)
}
