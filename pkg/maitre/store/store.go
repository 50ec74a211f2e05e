// Package store defines the persistent key-value store the concierge keeps
// all of its state in. Every record is addressed by a two-part key
// (partition + sort) and may carry a per-item TTL. Three backends exist:
// redis (multi-instance deployments), sqlite (single-node durable) and
// memory (dev/tests only — no cross-instance consistency).
package store

import (
	"context"
	"errors"
	"time"
)

// Key addresses a single item: Partition groups records of one kind
// ("creds", "auth", "history", ...), Sort identifies the record within it
// (phone number, chat id, token).
type Key struct {
	Partition string
	Sort      string
}

// ErrClosed is returned by operations on a store that has been closed.
var ErrClosed = errors.New("store is closed")

// Store is the contract every backend implements. All operations are a
// fresh round trip — callers never hold mutable references across requests.
type Store interface {
	// Get returns the value for key, or found=false if absent or expired.
	Get(ctx context.Context, key Key) (value []byte, found bool, err error)

	// Put stores value under key. ttl <= 0 means the item never expires.
	Put(ctx context.Context, key Key, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key Key) error

	// Update applies a read-modify-write. fn receives the current value
	// (found=false when absent) and returns the new value and TTL;
	// returning a nil value deletes the item.
	Update(ctx context.Context, key Key, fn UpdateFunc) error

	// Consume atomically reads and deletes key. Two concurrent consumers
	// of the same key must not both observe found=true; this is the
	// single-use primitive behind one-shot flags and auth tokens.
	Consume(ctx context.Context, key Key) (value []byte, found bool, err error)

	// Close releases backend resources.
	Close() error
}

// UpdateFunc computes the replacement value for Update.
type UpdateFunc func(old []byte, found bool) (next []byte, ttl time.Duration, err error)

// Sweepable is implemented by backends that cannot expire items natively
// and rely on the Sweeper to prune them.
type Sweepable interface {
	// SweepExpired deletes items whose TTL has elapsed and reports how
	// many were removed.
	SweepExpired(ctx context.Context) (int, error)
}
