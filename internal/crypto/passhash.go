// Package crypto implements credential salting, digesting and verification.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Digest schemes recorded on stored credentials.
const (
	SchemeArgon2id = "argon2id"
	// SchemeSHA256 is hex(sha256(salt ++ password)); records without a scheme use it.
	SchemeSHA256 = "sha256"
)

// DefaultScheme is used for every new registration.
const DefaultScheme = SchemeArgon2id

// SaltBytes is the random salt length before hex encoding.
const SaltBytes = 16

// Argon2id parameters.
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32
)

// ErrUnknownScheme is returned for a digest scheme this build cannot compute.
var ErrUnknownScheme = errors.New("unknown digest scheme")

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// NewSalt returns a fresh hex-encoded salt.
func NewSalt() (string, error) {
	b, err := RandBytes(SaltBytes)
	if err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashPassword returns Argon2id hash of password using the provided salt.
func HashPassword(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// VerifyPassword verifies password against expected Argon2id hash and salt.
func VerifyPassword(password, salt, expected []byte) bool {
	got := HashPassword(password, salt)
	return subtle.ConstantTimeCompare(got, expected) == 1
}

// Digest returns the hex digest of password under salt for scheme. The salt
// is used as stored (its hex text), matching records written by the browser.
// An empty scheme means SchemeSHA256.
func Digest(scheme, salt, password string) (string, error) {
	switch scheme {
	case SchemeArgon2id:
		return hex.EncodeToString(HashPassword([]byte(password), []byte(salt))), nil
	case SchemeSHA256, "":
		sum := sha256.Sum256([]byte(salt + password))
		return hex.EncodeToString(sum[:]), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}
}

// Verify reports whether password matches the stored hex hash.
func Verify(scheme, salt, hash, password string) (bool, error) {
	got, err := Digest(scheme, salt, password)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(hash)) == 1, nil
}

// EqualPlain compares legacy plaintext secrets in constant time.
func EqualPlain(stored, password string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(password)) == 1
}
