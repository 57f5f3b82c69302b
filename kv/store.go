package kv

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable wraps transport or server failures of the backing store.
	ErrUnavailable = errors.New("kv store unavailable")
	// ErrWrongType is returned when a key holds a value of a different kind than the
	// operation expects (for example a counter used as a set).
	ErrWrongType = errors.New("kv wrong value type")
)

// Store is the narrow key-value surface consumed by the limiter, the risk guard and
// the school quota. Implementations must be safe for concurrent use.
type Store interface {
	// IncrementWithExpiry increments key by one and arms ttl only when the increment
	// created the key. Returns the new count.
	IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// IncrementAllWithExpiry applies IncrementWithExpiry to every key in one atomic step.
	// Counts are returned in key order.
	IncrementAllWithExpiry(ctx context.Context, ttl time.Duration, keys ...string) ([]int64, error)
	// IncrementBySliding adds delta to key and re-arms ttl on every call.
	IncrementBySliding(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
	// AddToSetWithExpiry adds member to the set at key, arming ttl when the set is
	// created, and returns the set cardinality after the add.
	AddToSetWithExpiry(ctx context.Context, key, member string, ttl time.Duration) (int64, error)
	// SetWithExpiry stores value at key with ttl, replacing any previous value.
	SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error
	// Get returns the string value at key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// TTL returns the remaining lifetime of key, or 0 when absent or persistent.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Delete removes keys, ignoring missing ones.
	Delete(ctx context.Context, keys ...string) error
}

func ttlMillis(ttl time.Duration) int64 {
	ms := ttl.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	return ms
}
