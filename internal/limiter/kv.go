package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/ucasvieira/locadora/internal/storage"
)

// entry is the persisted per-username counter.
type entry struct {
	Fails        int       `json:"fails"`
	WindowStart  time.Time `json:"windowStart"`
	BlockedUntil time.Time `json:"blockedUntil,omitempty"`
}

// KV is a limiter persisted under one key of the device store, so lockouts
// hold across execution contexts. Failures inside window count toward
// maxFails; reaching it blocks the username for blockFor.
type KV struct {
	kv       storage.KV
	key      string
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time

	mu sync.Mutex
}

var _ Limiter = (*KV)(nil)

// NewKV constructs a KV-backed limiter stored under storage.KeyLoginAttempts.
func NewKV(kv storage.KV, window time.Duration, maxFails int, blockFor time.Duration) *KV {
	return &KV{kv: kv, key: storage.KeyLoginAttempts, window: window, maxFails: maxFails, blockFor: blockFor, now: time.Now}
}

// load reads the counters; unreadable state starts over.
func (l *KV) load(ctx context.Context) map[string]entry {
	m := map[string]entry{}
	if _, err := storage.ReadJSON(ctx, l.kv, l.key, &m); err != nil || m == nil {
		return map[string]entry{}
	}
	return m
}

// Allow reports whether login is currently allowed and a retry-after duration.
func (l *KV) Allow(ctx context.Context, username string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.load(ctx)[username]
	if !ok {
		return true, 0, nil
	}
	if now := l.now(); e.BlockedUntil.After(now) {
		return false, e.BlockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

// Success resets counters for username.
func (l *KV) Success(ctx context.Context, username string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	m := l.load(ctx)
	if _, ok := m[username]; !ok {
		return nil
	}
	delete(m, username)
	return storage.WriteJSON(ctx, l.kv, l.key, m)
}

// Failure records a failed attempt; may set a block until a future time.
func (l *KV) Failure(ctx context.Context, username string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	m := l.load(ctx)
	e := m[username]
	if e.WindowStart.IsZero() || now.Sub(e.WindowStart) > l.window {
		e = entry{WindowStart: now}
	}
	e.Fails++

	blocked := false
	if e.Fails >= l.maxFails {
		e.BlockedUntil = now.Add(l.blockFor)
		blocked = true
	}
	m[username] = e
	if err := storage.WriteJSON(ctx, l.kv, l.key, m); err != nil {
		return false, 0, err
	}
	if blocked {
		return true, l.blockFor, nil
	}
	return false, 0, nil
}
