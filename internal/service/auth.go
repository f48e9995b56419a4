// Package service contains application services for credentials, the movie
// catalog and the rental ledger.
package service

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	pkgcrypto "github.com/ucasvieira/locadora/internal/crypto"
	"github.com/ucasvieira/locadora/internal/errs"
	"github.com/ucasvieira/locadora/internal/limiter"
	"github.com/ucasvieira/locadora/internal/model"
	"github.com/ucasvieira/locadora/internal/notify"
	"github.com/ucasvieira/locadora/internal/repository"
)

// AuthService defines authentication, registration and user administration.
type AuthService interface {
	// Login verifies the credentials and stores the session of this context.
	Login(ctx context.Context, username, password string) (model.Session, error)
	// Logout clears the session.
	Logout(ctx context.Context) error
	// CurrentSession returns the stored session or nil.
	CurrentSession(ctx context.Context) (*model.Session, error)
	// Register creates a hash-backed credential.
	Register(ctx context.Context, username, password string, role model.Role) (model.PublicUser, error)
	// DeleteUser removes a stored credential. Requires an admin session.
	DeleteUser(ctx context.Context, username string) error
	// UpdateRole changes the role of a stored credential. Requires an admin session.
	UpdateRole(ctx context.Context, username string, role model.Role) error
	// PublicUsers lists every identity without secrets.
	PublicUsers(ctx context.Context) ([]model.PublicUser, error)
}

type AuthServiceImpl struct {
	base     []model.Credential
	creds    repository.CredentialRepository
	sessions *SessionCodec
	lim      limiter.Limiter
	bus      *notify.Bus
	log      *zap.Logger

	// serialises read-modify-write of the credential list within this context
	mu sync.Mutex
}

var _ AuthService = (*AuthServiceImpl)(nil)

// NewAuthService constructs AuthService with required dependencies. base
// holds the immutable seed credentials.
func NewAuthService(base []model.Credential, creds repository.CredentialRepository, sessions *SessionCodec, lim limiter.Limiter, bus *notify.Bus, log *zap.Logger) *AuthServiceImpl {
	if lim == nil {
		lim = limiter.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthServiceImpl{base: base, creds: creds, sessions: sessions, lim: lim, bus: bus, log: log}
}

// Login checks seed credentials first, then stored ones; the first match wins.
func (s *AuthServiceImpl) Login(ctx context.Context, username, password string) (model.Session, error) {
	if username == "" || password == "" {
		return model.Session{}, errs.ErrUnauthorized
	}

	// Check if requests are currently allowed for this user.
	allowed, _, err := s.lim.Allow(ctx, username)
	if err != nil {
		return model.Session{}, err
	}
	if !allowed {
		return model.Session{}, errs.ErrRateLimited
	}

	cred, ok := s.authenticate(ctx, username, password)
	if !ok {
		// Record failure; if threshold reached, return rate-limited.
		blocked, _, ferr := s.lim.Failure(ctx, username)
		if ferr != nil {
			s.log.Warn("record login failure", zap.String("user", username), zap.Error(ferr))
		}
		if blocked {
			return model.Session{}, errs.ErrRateLimited
		}
		return model.Session{}, errs.ErrUnauthorized
	}

	// Success: reset counters (best-effort).
	_ = s.lim.Success(ctx, username)

	sess := model.Session{Username: cred.Username, Role: cred.Role}
	if err := s.sessions.Store(ctx, sess); err != nil {
		return model.Session{}, err
	}
	s.publish(notify.TopicSession)
	s.log.Info("login", zap.String("user", sess.Username), zap.String("role", string(sess.Role)))
	return sess, nil
}

func (s *AuthServiceImpl) authenticate(ctx context.Context, username, password string) (model.Credential, bool) {
	for _, c := range s.base {
		if c.Username == username && s.verify(c, password) {
			return c, true
		}
	}
	stored, err := s.creds.List(ctx)
	if err != nil {
		s.log.Warn("list credentials", zap.Error(err))
		return model.Credential{}, false
	}
	for _, c := range stored {
		if c.Username == username {
			return c, s.verify(c, password)
		}
	}
	return model.Credential{}, false
}

// verify checks password against a hash-backed or legacy plaintext credential.
func (s *AuthServiceImpl) verify(c model.Credential, password string) bool {
	if c.HashBacked() {
		ok, err := pkgcrypto.Verify(c.Scheme, c.Salt, c.PasswordHash, password)
		if err != nil {
			s.log.Warn("credential not verifiable", zap.String("user", c.Username), zap.Error(err))
			return false
		}
		return ok
	}
	if c.Password != "" {
		return pkgcrypto.EqualPlain(c.Password, password)
	}
	return false
}

// Logout removes the session of this context.
func (s *AuthServiceImpl) Logout(ctx context.Context) error {
	if err := s.sessions.Clear(ctx); err != nil {
		return err
	}
	s.publish(notify.TopicSession)
	return nil
}

// CurrentSession decodes the stored session.
func (s *AuthServiceImpl) CurrentSession(ctx context.Context) (*model.Session, error) {
	return s.sessions.Load(ctx)
}

// Register creates a credential with a fresh salt. The requested role is
// honoured only when the caller holds an admin session; otherwise it is
// silently downgraded to user.
func (s *AuthServiceImpl) Register(ctx context.Context, username, password string, role model.Role) (model.PublicUser, error) {
	if username == "" || password == "" {
		return model.PublicUser{}, fmt.Errorf("%w: empty username/password", errs.ErrValidation)
	}
	if role == "" {
		role = model.RoleUser
	}
	if !role.Valid() {
		return model.PublicUser{}, fmt.Errorf("%w: unknown role %q", errs.ErrValidation, role)
	}

	sess, err := s.sessions.Load(ctx)
	if err != nil {
		return model.PublicUser{}, err
	}
	if !sess.IsAdmin() {
		role = model.RoleUser
	}

	salt, err := pkgcrypto.NewSalt()
	if err != nil {
		return model.PublicUser{}, err
	}
	hash, err := pkgcrypto.Digest(pkgcrypto.DefaultScheme, salt, password)
	if err != nil {
		return model.PublicUser{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.creds.List(ctx)
	if err != nil {
		return model.PublicUser{}, err
	}
	if s.taken(stored, username) {
		return model.PublicUser{}, fmt.Errorf("%w: username %q", errs.ErrAlreadyExists, username)
	}
	stored = append(stored, model.Credential{
		Username:     username,
		Role:         role,
		Salt:         salt,
		PasswordHash: hash,
		Scheme:       pkgcrypto.DefaultScheme,
	})
	if err := s.creds.Save(ctx, stored); err != nil {
		return model.PublicUser{}, err
	}
	s.publish(notify.TopicUsers)
	s.log.Info("user registered", zap.String("user", username), zap.String("role", string(role)))
	return model.PublicUser{Username: username, Role: role, Source: model.SourceStored}, nil
}

// taken reports a case-sensitive match over seed and stored usernames.
func (s *AuthServiceImpl) taken(stored []model.Credential, username string) bool {
	match := func(c model.Credential) bool { return c.Username == username }
	return slices.ContainsFunc(s.base, match) || slices.ContainsFunc(stored, match)
}

// DeleteUser removes a stored credential; seed accounts are read-only.
func (s *AuthServiceImpl) DeleteUser(ctx context.Context, username string) error {
	return s.mutateStored(ctx, username, func(stored []model.Credential, i int) []model.Credential {
		return slices.Delete(stored, i, i+1)
	})
}

// UpdateRole changes the role of a stored credential.
func (s *AuthServiceImpl) UpdateRole(ctx context.Context, username string, role model.Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", errs.ErrValidation, role)
	}
	return s.mutateStored(ctx, username, func(stored []model.Credential, i int) []model.Credential {
		stored[i].Role = role
		return stored
	})
}

func (s *AuthServiceImpl) mutateStored(ctx context.Context, username string, fn func([]model.Credential, int) []model.Credential) error {
	sess, err := s.sessions.Load(ctx)
	if err != nil {
		return err
	}
	if !sess.IsAdmin() {
		return errs.ErrUnauthorized
	}
	if slices.ContainsFunc(s.base, func(c model.Credential) bool { return c.Username == username }) {
		return fmt.Errorf("%w: seed account %q", errs.ErrReadOnly, username)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.creds.List(ctx)
	if err != nil {
		return err
	}
	i := slices.IndexFunc(stored, func(c model.Credential) bool { return c.Username == username })
	if i < 0 {
		return fmt.Errorf("%w: user %q", errs.ErrNotFound, username)
	}
	if err := s.creds.Save(ctx, fn(stored, i)); err != nil {
		return err
	}
	s.publish(notify.TopicUsers)
	return nil
}

// PublicUsers lists seed identities followed by stored ones.
func (s *AuthServiceImpl) PublicUsers(ctx context.Context) ([]model.PublicUser, error) {
	stored, err := s.creds.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.PublicUser, 0, len(s.base)+len(stored))
	for _, c := range s.base {
		out = append(out, model.PublicUser{Username: c.Username, Role: c.Role, Source: model.SourceInitial})
	}
	for _, c := range stored {
		out = append(out, model.PublicUser{Username: c.Username, Role: c.Role, Source: model.SourceStored})
	}
	return out, nil
}

func (s *AuthServiceImpl) publish(topic notify.Topic) {
	if s.bus != nil {
		s.bus.Publish(notify.Event{Topic: topic})
	}
}
