// Package repository defines storage interfaces implemented by concrete backends.
// Every method reads or writes a whole persisted value; there are no
// field-level updates.
package repository

import (
	"context"

	"github.com/ucasvieira/locadora/internal/model"
)

// CredentialRepository holds registered (non-seed) credentials.
type CredentialRepository interface {
	// List returns the stored credentials in registration order. An
	// unreadable value is reported as an empty list.
	List(ctx context.Context) ([]model.Credential, error)
	// Save replaces the stored list.
	Save(ctx context.Context, creds []model.Credential) error
}

// SessionRepository holds the signed session token of an execution context.
type SessionRepository interface {
	// Get returns the token; ok is false when no session is stored.
	Get(ctx context.Context) (token string, ok bool, err error)
	// Put replaces the token.
	Put(ctx context.Context, token string) error
	// Clear removes the token.
	Clear(ctx context.Context) error
}

// RentalRepository holds the rental ledger.
type RentalRepository interface {
	// List returns the ledger; found is false when nothing was ever saved.
	// An unreadable value is reported as an empty, found list.
	List(ctx context.Context) (rentals []model.Rental, found bool, err error)
	// Save replaces the ledger.
	Save(ctx context.Context, rentals []model.Rental) error
}
