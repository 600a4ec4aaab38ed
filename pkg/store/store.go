// Package store is the key-value persistence shared by the response cache and
// the circuit breaker.
//
// Three backends are provided: an in-process Memory store, a Redis store and
// a NATS JetStream KV store. All of them honor a per-key TTL and report
// absent or expired keys as ErrNotFound. Backends that can compare-and-swap
// also implement Updater.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for keys that do not exist or have expired.
	ErrNotFound = errors.New("store: key not found")

	// ErrConflict is returned when an Update lost every compare-and-swap race.
	ErrConflict = errors.New("store: concurrent update conflict")
)

// Store is a byte-oriented key-value store with expiry.
type Store interface {
	// Get returns the value stored under key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A non-positive ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists live keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// UpdateFunc computes the next value from the current one. exists is false
// when the key is absent. Returning an error aborts the update.
type UpdateFunc func(current []byte, exists bool) ([]byte, error)

// Updater is implemented by stores that support atomic read-modify-write.
type Updater interface {
	Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error
}

// Update applies fn atomically when s implements Updater and falls back to a
// plain read-then-write otherwise.
func Update(ctx context.Context, s Store, key string, ttl time.Duration, fn UpdateFunc) error {
	if u, ok := s.(Updater); ok {
		return u.Update(ctx, key, ttl, fn)
	}

	current, err := s.Get(ctx, key)
	exists := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	next, err := fn(current, exists)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, next, ttl)
}

// maxCASAttempts bounds optimistic retries in the Redis and NATS backends.
const maxCASAttempts = 10
