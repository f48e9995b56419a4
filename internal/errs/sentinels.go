// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across storage/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a uniqueness violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrValidation indicates a missing or malformed input field.
	ErrValidation = errors.New("validation")

	// ErrReadOnly indicates an attempt to mutate bundled seed data.
	ErrReadOnly = errors.New("read only")

	// ErrStorageWrite indicates the key-value backend rejected a write.
	ErrStorageWrite = errors.New("storage write")
)

// ErrStorageRead marks a malformed or unreadable persisted value. Readers
// recover from it locally by falling back to an empty layer.
var ErrStorageRead = errors.New("storage read")

// ErrStorageUnavailable marks a read the backend itself failed, as opposed to
// a stored value that could not be decoded. It is always paired with
// ErrStorageRead.
var ErrStorageUnavailable = errors.New("storage unavailable")
