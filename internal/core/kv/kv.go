// Package kv defines the persistent key-value store used for short-lived
// server state such as idempotency records and cached release lookups.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get for missing and expired keys.
var ErrNotFound = errors.New("kv: key not found")

// KV stores JSON-encoded values by string key.
type KV interface {
	// Get decodes the value for key into dest.
	Get(ctx context.Context, key string, dest any) error
	// Set stores value under key. A zero ttl never expires.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Sweeper removes expired entries and reports how many were deleted.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}
