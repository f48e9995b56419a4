// Package kvrepo implements the repositories over the device key-value store.
package kvrepo

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ucasvieira/locadora/internal/errs"
	"github.com/ucasvieira/locadora/internal/model"
	"github.com/ucasvieira/locadora/internal/repository"
	"github.com/ucasvieira/locadora/internal/storage"
)

// readList decodes the list under key. Read failures are logged and
// reported as an empty list with found set.
func readList[T any](ctx context.Context, kv storage.KV, key string, log *zap.Logger) ([]T, bool) {
	var out []T
	found, err := storage.ReadJSON(ctx, kv, key, &out)
	if err != nil {
		log.Warn("unreadable list, using empty", zap.String("key", key), zap.Error(err))
		return nil, true
	}
	return out, found
}

func orNop(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}

// CredentialRepo implements repository.CredentialRepository.
type CredentialRepo struct {
	kv  storage.KV
	log *zap.Logger
}

var _ repository.CredentialRepository = (*CredentialRepo)(nil)

// NewCredentialRepo constructs a credential repository stored under storage.KeyCredentials.
func NewCredentialRepo(kv storage.KV, log *zap.Logger) *CredentialRepo {
	return &CredentialRepo{kv: kv, log: orNop(log)}
}

// List loads stored credentials.
func (r *CredentialRepo) List(ctx context.Context) ([]model.Credential, error) {
	creds, _ := readList[model.Credential](ctx, r.kv, storage.KeyCredentials, r.log)
	return creds, nil
}

// Save writes the credential list.
func (r *CredentialRepo) Save(ctx context.Context, creds []model.Credential) error {
	if creds == nil {
		creds = []model.Credential{}
	}
	return storage.WriteJSON(ctx, r.kv, storage.KeyCredentials, creds)
}

// SessionRepo implements repository.SessionRepository.
type SessionRepo struct{ kv storage.KV }

var _ repository.SessionRepository = (*SessionRepo)(nil)

// NewSessionRepo constructs a session repository stored under storage.KeySession.
func NewSessionRepo(kv storage.KV) *SessionRepo { return &SessionRepo{kv: kv} }

// Get loads the raw token.
func (r *SessionRepo) Get(ctx context.Context) (string, bool, error) {
	tok, ok, err := r.kv.Get(ctx, storage.KeySession)
	if err != nil {
		return "", false, err
	}
	return tok, ok && tok != "", nil
}

// Put stores the token.
func (r *SessionRepo) Put(ctx context.Context, token string) error {
	if err := r.kv.Set(ctx, storage.KeySession, token); err != nil {
		return fmt.Errorf("%w: set session: %v", errs.ErrStorageWrite, err)
	}
	return nil
}

// Clear removes the token.
func (r *SessionRepo) Clear(ctx context.Context) error {
	return storage.RemoveKey(ctx, r.kv, storage.KeySession)
}

// RentalRepo implements repository.RentalRepository.
type RentalRepo struct {
	kv  storage.KV
	log *zap.Logger
}

var _ repository.RentalRepository = (*RentalRepo)(nil)

// NewRentalRepo constructs a rental repository stored under storage.KeyRentals.
func NewRentalRepo(kv storage.KV, log *zap.Logger) *RentalRepo {
	return &RentalRepo{kv: kv, log: orNop(log)}
}

// List loads the ledger.
func (r *RentalRepo) List(ctx context.Context) ([]model.Rental, bool, error) {
	rentals, found := readList[model.Rental](ctx, r.kv, storage.KeyRentals, r.log)
	return rentals, found, nil
}

// Save writes the ledger.
func (r *RentalRepo) Save(ctx context.Context, rentals []model.Rental) error {
	if rentals == nil {
		rentals = []model.Rental{}
	}
	return storage.WriteJSON(ctx, r.kv, storage.KeyRentals, rentals)
}
