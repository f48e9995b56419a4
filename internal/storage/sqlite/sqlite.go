// Package sqlite implements the key-value boundary on a local SQLite file that
// several processes (execution contexts) may open at once. Every write is
// also appended to a change log which watchers poll for foreign changes.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/ucasvieira/locadora/internal/migrate"
	"github.com/ucasvieira/locadora/internal/storage"
)

// changeLogKeep bounds the change log; watchers further behind than this
// miss intermediate values but still see the latest write of each key.
const changeLogKeep = 1000

// DefaultPollInterval is used when Open receives a non-positive interval.
const DefaultPollInterval = 250 * time.Millisecond

// Store is one context's handle on the SQLite file.
type Store struct {
	db     *sql.DB
	origin string
	poll   time.Duration
	log    *zap.Logger
}

var _ storage.Backend = (*Store)(nil)

// Open opens (or creates) the database at path and applies migrations.
func Open(ctx context.Context, path, origin string, poll time.Duration, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := migrate.UpDB(ctx, db, migrate.DialectSQLite); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &Store{db: db, origin: origin, poll: poll, log: log}, nil
}

// Origin returns the context ID stamped on writes.
func (s *Store) Origin() string { return s.origin }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Get returns the value under key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Set replaces the value under key and logs the change.
func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO kv (key, value, origin, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, origin=excluded.origin, updated_at=excluded.updated_at`,
			key, value, s.origin)
		if err != nil {
			return err
		}
		return s.logChange(ctx, tx, key, value, false)
	})
}

// Remove deletes key; an absent key is not logged.
func (s *Store) Remove(ctx context.Context, key string) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE key=?`, key)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil || n == 0 {
			return err
		}
		return s.logChange(ctx, tx, key, "", true)
	})
}

func (s *Store) write(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) logChange(ctx context.Context, tx *sql.Tx, key, value string, removed bool) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO kv_changes (key, value, removed, origin) VALUES (?, ?, ?, ?)`,
		key, value, removed, s.origin)
	if err != nil {
		return err
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `DELETE FROM kv_changes WHERE seq <= ?`, seq-changeLogKeep)
	return err
}

// Watch polls the change log for writes made by other origins, starting
// after the newest entry present when Watch is called.
func (s *Store) Watch(ctx context.Context) (<-chan storage.Change, error) {
	var last int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM kv_changes`).Scan(&last); err != nil {
		return nil, err
	}

	out := make(chan storage.Change)
	go func() {
		defer close(out)
		t := time.NewTicker(s.poll)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			changes, next, err := s.changesSince(ctx, last)
			if err != nil {
				if ctx.Err() == nil {
					s.log.Warn("poll change log", zap.Error(err))
				}
				continue
			}
			last = next
			for _, c := range changes {
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *Store) changesSince(ctx context.Context, since int64) ([]storage.Change, int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, key, value, removed, origin FROM kv_changes WHERE seq > ? ORDER BY seq`, since)
	if err != nil {
		return nil, since, err
	}
	defer rows.Close()

	last := since
	var out []storage.Change
	for rows.Next() {
		var (
			seq int64
			c   storage.Change
		)
		if err := rows.Scan(&seq, &c.Key, &c.Value, &c.Removed, &c.Origin); err != nil {
			return nil, since, err
		}
		last = seq
		if c.Origin == s.origin {
			continue
		}
		out = append(out, c)
	}
	return out, last, rows.Err()
}
