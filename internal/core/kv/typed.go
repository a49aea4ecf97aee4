package kv

import (
	"context"
	"errors"
	"time"
)

// TypedKV reads and writes values of one type under a key namespace.
type TypedKV[T any] struct {
	store  KV
	prefix string
}

// Scoped returns a TypedKV that prefixes every key with "namespace:".
func Scoped[T any](store KV, namespace string) *TypedKV[T] {
	return &TypedKV[T]{store: store, prefix: namespace + ":"}
}

// Get returns the value for key or an error wrapping ErrNotFound.
func (t *TypedKV[T]) Get(ctx context.Context, key string) (T, error) {
	var v T
	err := t.store.Get(ctx, t.prefix+key, &v)
	return v, err
}

// Lookup is Get with a found flag. A missing or expired key is not an error.
func (t *TypedKV[T]) Lookup(ctx context.Context, key string) (T, bool, error) {
	v, err := t.Get(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		var zero T
		return zero, false, nil
	case err != nil:
		return v, false, err
	default:
		return v, true, nil
	}
}

// Set stores value with no expiry.
func (t *TypedKV[T]) Set(ctx context.Context, key string, value T) error {
	return t.store.Set(ctx, t.prefix+key, value, 0)
}

// SetTTL stores value until ttl elapses.
func (t *TypedKV[T]) SetTTL(ctx context.Context, key string, value T, ttl time.Duration) error {
	return t.store.Set(ctx, t.prefix+key, value, ttl)
}

// Delete removes key.
func (t *TypedKV[T]) Delete(ctx context.Context, key string) error {
	return t.store.Delete(ctx, t.prefix+key)
}
