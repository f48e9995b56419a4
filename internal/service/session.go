package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/ucasvieira/locadora/internal/crypto"
	"github.com/ucasvieira/locadora/internal/model"
	"github.com/ucasvieira/locadora/internal/repository"
	"github.com/ucasvieira/locadora/internal/storage"
)

const sessionKeyBytes = 32

type sessionClaims struct {
	Role model.Role `json:"role"`
	jwt.RegisteredClaims
}

// SessionCodec persists the session of one execution context as an HS256
// token, so a hand-edited value cannot grant a role.
type SessionCodec struct {
	repo    repository.SessionRepository
	signKey []byte
	ttl     time.Duration
	now     func() time.Time
	log     *zap.Logger
}

// NewSessionCodec constructs a codec. A zero ttl issues sessions that last
// until logout.
func NewSessionCodec(repo repository.SessionRepository, signKey []byte, ttl time.Duration, log *zap.Logger) *SessionCodec {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionCodec{repo: repo, signKey: signKey, ttl: ttl, now: time.Now, log: log}
}

// Store signs and saves sess, replacing any previous session.
func (c *SessionCodec) Store(ctx context.Context, sess model.Session) error {
	tok, err := c.issue(sess)
	if err != nil {
		return err
	}
	return c.repo.Put(ctx, tok)
}

// issue creates a signed HS256 JWT for the given session.
func (c *SessionCodec) issue(sess model.Session) (string, error) {
	now := c.now()
	claims := sessionClaims{
		Role: sess.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  sess.Username,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if c.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(c.ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.signKey)
}

// Load returns the stored session, or nil when there is none. A session that
// is unreadable, badly signed or expired is removed.
func (c *SessionCodec) Load(ctx context.Context) (*model.Session, error) {
	tok, ok, err := c.repo.Get(ctx)
	if err != nil {
		c.log.Warn("session unreadable", zap.Error(err))
		return nil, nil
	}
	if !ok {
		return nil, nil
	}
	sess, err := c.parse(tok)
	if err != nil {
		c.log.Warn("discarding invalid session", zap.Error(err))
		if cerr := c.repo.Clear(ctx); cerr != nil {
			c.log.Warn("clear session", zap.Error(cerr))
		}
		return nil, nil
	}
	return sess, nil
}

func (c *SessionCodec) parse(tok string) (*model.Session, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(tok, &claims, func(*jwt.Token) (any, error) {
		return c.signKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(c.now))
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" || !claims.Role.Valid() {
		return nil, errors.New("session claims incomplete")
	}
	return &model.Session{Username: claims.Subject, Role: claims.Role}, nil
}

// Clear removes the stored session.
func (c *SessionCodec) Clear(ctx context.Context) error {
	return c.repo.Clear(ctx)
}

// ResolveSessionKey returns the session signing key. A configured key wins;
// otherwise the key shared by every context on the device is read from
// storage.KeySessionKey, generated on first use.
func ResolveSessionKey(ctx context.Context, kv storage.KV, configured string) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}
	if key, ok := readSessionKey(ctx, kv); ok {
		return key, nil
	}
	b, err := pkgcrypto.RandBytes(sessionKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("session key: %w", err)
	}
	if err := kv.Set(ctx, storage.KeySessionKey, hex.EncodeToString(b)); err != nil {
		return nil, fmt.Errorf("store session key: %w", err)
	}
	// another context may have raced us; the stored key is authoritative
	if key, ok := readSessionKey(ctx, kv); ok {
		return key, nil
	}
	return b, nil
}

func readSessionKey(ctx context.Context, kv storage.KV) ([]byte, bool) {
	raw, ok, err := kv.Get(ctx, storage.KeySessionKey)
	if err != nil || !ok {
		return nil, false
	}
	key, err := hex.DecodeString(raw)
	if err != nil || len(key) < sessionKeyBytes {
		return nil, false
	}
	return key, true
}
