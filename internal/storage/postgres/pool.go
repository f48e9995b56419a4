// Package postgres implements the key-value boundary on PostgreSQL, using
// LISTEN/NOTIFY to report writes to the other execution contexts.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxPool is a minimal abstraction over a Postgres connection pool,
// used by the store. It is implemented by *pgxpool.Pool and pgxmock.PgxPoolIface.
type PgxPool interface {
	// Exec executes a SQL command and returns the command tag.
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	// Query executes a SELECT and returns a rows iterator.
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	// QueryRow executes a query expected to return at most one row.
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	// BeginTx starts a transaction with the provided options.
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	// Close shuts down the pool and frees resources.
	Close()
}

// ListenFunc subscribes to a notification channel on a dedicated connection.
// The returned channel is closed when ctx is done or the connection fails.
type ListenFunc func(ctx context.Context, channel string) (<-chan *pgconn.Notification, error)

// DB wraps pgxpool.Pool to satisfy the store constructor and allow testing.
type DB struct {
	Pool   PgxPool
	Listen ListenFunc
}

// New creates a new connection pool for the given DSN.
func New(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &DB{Pool: pool, Listen: poolListener(pool)}, nil
}

// Close closes the underlying pool.
func (db *DB) Close() { db.Pool.Close() }

func poolListener(pool *pgxpool.Pool) ListenFunc {
	return func(ctx context.Context, channel string) (<-chan *pgconn.Notification, error) {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
			conn.Release()
			return nil, fmt.Errorf("listen %s: %w", channel, err)
		}
		// The connection carries LISTEN state; it must not go back to the pool.
		pc := conn.Hijack()
		out := make(chan *pgconn.Notification)
		go func() {
			defer close(out)
			defer pc.Close(context.Background())
			for {
				n, err := pc.WaitForNotification(ctx)
				if err != nil {
					return
				}
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
		}()
		return out, nil
	}
}
