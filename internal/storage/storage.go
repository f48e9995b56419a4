// Package storage defines the flat key-value boundary shared by every
// execution context and the keys the engine persists under.
package storage

import (
	"context"
)

// Persisted keys. Values are JSON documents, except KeySession which holds a
// signed token.
const (
	KeyMovieOverrides  = "locadora_movies"
	KeyMovieTombstones = "locadora_removed"
	KeyCredentials     = "locadora_users"
	KeySession         = "locadora_user"
	KeyRentals         = "locadora_rentals"
	KeyLoginAttempts   = "locadora_login_attempts"
	KeySessionKey      = "locadora_session_key"
)

// KV is the scoped read/write/remove surface of one execution context.
// Implementations write whole values; there are no field-level updates.
type KV interface {
	// Get returns the value under key; ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set replaces the value under key.
	Set(ctx context.Context, key, value string) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}

// Change describes a key mutation made by some execution context.
type Change struct {
	Key     string
	Value   string // empty when Removed
	Removed bool
	Origin  string // context ID of the writer
}

// Watcher streams changes made by other execution contexts. The channel is
// closed when ctx is done.
type Watcher interface {
	Watch(ctx context.Context) (<-chan Change, error)
}

// Backend is a KV store that can also report foreign changes.
type Backend interface {
	KV
	Watcher
	// Origin returns the context ID stamped on writes made through this handle.
	Origin() string
	Close() error
}
