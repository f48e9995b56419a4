// Package limiter defines interfaces and implementations for login rate limiting.
package limiter

import (
	"context"
	"time"
)

// Limiter controls login attempts and temporary lockouts.
type Limiter interface {
	// Allow reports whether login is currently allowed and optional retry-after.
	Allow(ctx context.Context, username string) (bool, time.Duration, error)
	// Success resets counters after a successful login.
	Success(ctx context.Context, username string) error
	// Failure records a failed attempt; may place a temporary block.
	Failure(ctx context.Context, username string) (bool, time.Duration, error)
}

// Nop never limits.
type Nop struct{}

var _ Limiter = Nop{}

func (Nop) Allow(context.Context, string) (bool, time.Duration, error)   { return true, 0, nil }
func (Nop) Success(context.Context, string) error                        { return nil }
func (Nop) Failure(context.Context, string) (bool, time.Duration, error) { return false, 0, nil }
