package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ucasvieira/locadora/internal/storage"
)

// NotifyChannel is the LISTEN/NOTIFY channel carrying key changes.
const NotifyChannel = "locadora_kv"

// notice is the NOTIFY payload. Values are not included because NOTIFY
// payloads are capped at 8000 bytes; watchers re-read the key.
type notice struct {
	Key     string `json:"key"`
	Origin  string `json:"origin"`
	Removed bool   `json:"removed,omitempty"`
}

// KV implements storage.Backend using PostgreSQL.
type KV struct {
	db     *DB
	origin string
	log    *zap.Logger
}

var _ storage.Backend = (*KV)(nil)

// NewKV constructs a store whose writes are stamped with origin.
func NewKV(db *DB, origin string, log *zap.Logger) *KV {
	if log == nil {
		log = zap.NewNop()
	}
	return &KV{db: db, origin: origin, log: log}
}

// Origin returns the context ID stamped on writes.
func (r *KV) Origin() string { return r.origin }

// Close closes the pool.
func (r *KV) Close() error {
	r.db.Close()
	return nil
}

// Get selects the value under key.
func (r *KV) Get(ctx context.Context, key string) (string, bool, error) {
	const q = `SELECT value FROM kv WHERE key=$1`
	var v string
	err := r.db.Pool.QueryRow(ctx, q, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Set upserts the value and notifies listeners on commit.
func (r *KV) Set(ctx context.Context, key, value string) error {
	const q = `
INSERT INTO kv (key, value, origin, updated_at) VALUES ($1, $2, $3, now())
ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, origin=EXCLUDED.origin, updated_at=now()`
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, q, key, value, r.origin); err != nil {
			return err
		}
		return r.notify(ctx, tx, notice{Key: key, Origin: r.origin})
	})
}

// Remove deletes key; listeners are notified only when a row was deleted.
func (r *KV) Remove(ctx context.Context, key string) error {
	const q = `DELETE FROM kv WHERE key=$1`
	return r.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, q, key)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		return r.notify(ctx, tx, notice{Key: key, Origin: r.origin, Removed: true})
	})
}

func (r *KV) inTx(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()
	return fn(tx)
}

func (r *KV) notify(ctx context.Context, tx pgx.Tx, n notice) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, string(payload))
	return err
}

// Watch listens for notifications from other origins and resolves each to
// the key's current value.
func (r *KV) Watch(ctx context.Context) (<-chan storage.Change, error) {
	if r.db.Listen == nil {
		return nil, errors.New("postgres: listener not configured")
	}
	notes, err := r.db.Listen(ctx, NotifyChannel)
	if err != nil {
		return nil, err
	}

	out := make(chan storage.Change)
	go func() {
		defer close(out)
		for n := range notes {
			var p notice
			if err := json.Unmarshal([]byte(n.Payload), &p); err != nil {
				r.log.Warn("bad kv notification", zap.String("payload", n.Payload), zap.Error(err))
				continue
			}
			if p.Origin == r.origin {
				continue
			}
			c := storage.Change{Key: p.Key, Origin: p.Origin, Removed: p.Removed}
			if !p.Removed {
				v, ok, err := r.Get(ctx, p.Key)
				if err != nil {
					r.log.Warn("resolve kv notification", zap.String("key", p.Key), zap.Error(err))
					continue
				}
				c.Value, c.Removed = v, !ok
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
