// Package store defines the persistence interface for the balance engine.
// Records are opaque byte blobs under string keys; the engine encodes them.
// Implementations include PostgreSQL, SQLite, a Redis read-through cache, and
// in-memory (for testing).
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load when key has never been saved.
var ErrNotFound = errors.New("store: record not found")

// Store is the persistence interface. Each Save replaces the whole record.
type Store interface {
	// Load returns the record under key, or ErrNotFound.
	Load(ctx context.Context, key string) ([]byte, error)

	// Save writes data under key, replacing any previous value.
	Save(ctx context.Context, key string, data []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists the keys starting with prefix in ascending order.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
