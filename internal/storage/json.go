package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ucasvieira/locadora/internal/errs"
)

// ReadJSON loads key into dst. found is false when the key is absent. Every
// failure wraps errs.ErrStorageRead; a failed backend read additionally wraps
// errs.ErrStorageUnavailable. Callers recover from a value that cannot be
// decoded by treating the layer as empty.
func ReadJSON(ctx context.Context, kv KV, key string, dst any) (found bool, err error) {
	raw, ok, err := kv.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("%w: %w: get %q: %v", errs.ErrStorageRead, errs.ErrStorageUnavailable, key, err)
	}
	if !ok || raw == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return true, fmt.Errorf("%w: decode %q: %v", errs.ErrStorageRead, key, err)
	}
	return true, nil
}

// WriteJSON encodes v and stores it under key. Failures wrap errs.ErrStorageWrite.
func WriteJSON(ctx context.Context, kv KV, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode %q: %v", errs.ErrStorageWrite, key, err)
	}
	if err := kv.Set(ctx, key, string(b)); err != nil {
		return fmt.Errorf("%w: set %q: %v", errs.ErrStorageWrite, key, err)
	}
	return nil
}

// RemoveKey deletes key, wrapping failures in errs.ErrStorageWrite.
func RemoveKey(ctx context.Context, kv KV, key string) error {
	if err := kv.Remove(ctx, key); err != nil {
		return fmt.Errorf("%w: remove %q: %v", errs.ErrStorageWrite, key, err)
	}
	return nil
}
