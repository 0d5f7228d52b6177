/*
 * ConfPlane
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package pgbk implements the storage backend on PostgreSQL: a single
// cp_kv table keyed by path, with per-row expiry and a uuid revision
// rotated on every write.
package pgbk

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/confplane/lib/backend"
	"github.com/gravitational/confplane/lib/utils/retryutils"
)

const (
	// deleteBatchSize bounds one pass of the expiry sweep.
	deleteBatchSize = 1000

	// expirySweepPeriod is how often expired rows are collected.
	expirySweepPeriod = time.Second

	// defaultTxTimeout caps a single statement.
	defaultTxTimeout = 10 * time.Second
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS cp_kv (
		key bytea PRIMARY KEY,
		value bytea NOT NULL,
		expires timestamptz,
		revision uuid NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS cp_kv_expires_idx ON cp_kv (expires) WHERE expires IS NOT NULL`,
}

// Config holds PostgreSQL backend configuration.
type Config struct {
	// ConnString is the pgx pool connection string.
	ConnString string
	// Clock overrides the clock in tests.
	Clock clockwork.Clock
	// Logger is the backend logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults checks and sets default values.
func (c *Config) CheckAndSetDefaults() error {
	if c.ConnString == "" {
		return trace.BadParameter("missing parameter ConnString")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With("component", "backend:pgbk")
	}
	return nil
}

// Backend is a storage backend on a PostgreSQL cluster.
type Backend struct {
	cfg    Config
	pool   *pgxpool.Pool
	logger *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New connects to PostgreSQL, applies the schema and starts the expiry
// sweep.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "failed to connect to postgres")
	}
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, trace.ConnectionProblem(err, "failed to apply schema")
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	b := &Backend{
		cfg:    cfg,
		pool:   pool,
		logger: cfg.Logger,
		cancel: cancel,
	}
	b.wg.Add(1)
	go b.backgroundExpiry(runCtx)
	return b, nil
}

// Close stops the background loops and releases the pool.
func (b *Backend) Close() error {
	b.cancel()
	b.wg.Wait()
	b.pool.Close()
	return nil
}

// Clock returns the clock used by this backend.
func (b *Backend) Clock() clockwork.Clock {
	return b.cfg.Clock
}

// retry runs fn against the pool, retrying serialization and transient
// connection failures with a linear backoff.
func (b *Backend) retry(ctx context.Context, fn func(context.Context, *pgxpool.Pool) error) error {
	retry, err := retryutils.NewLinear(retryutils.LinearConfig{
		First:  0,
		Step:   100 * time.Millisecond,
		Max:    time.Second,
		Jitter: retryutils.FullJitter,
		Clock:  b.cfg.Clock,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(retry.For(ctx, func() error {
		opCtx, cancel := context.WithTimeout(ctx, defaultTxTimeout)
		defer cancel()
		err := fn(opCtx, b.pool)
		if err == nil {
			return nil
		}
		if isRetryable(err) {
			return trace.Wrap(err)
		}
		return retryutils.PermanentRetryError(err)
	}))
}

// isRetryable reports whether the statement is worth re-running.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
			return true
		}
		return pgerrcode.IsConnectionException(pgErr.Code)
	}
	return pgconn.SafeToRetry(err)
}

// expiresParam converts a zero time to NULL.
func expiresParam(expires time.Time) any {
	if expires.IsZero() {
		return nil
	}
	return expires.UTC()
}

// scanItem reads one cp_kv row into a backend item.
func scanItem(row pgx.Row, key backend.Key) (*backend.Item, error) {
	item := backend.Item{Key: key}
	var expires *time.Time
	if err := row.Scan(&item.Value, &expires, &item.Revision); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, trace.NotFound("key %q is not found", key)
		}
		return nil, trace.Wrap(err)
	}
	if expires != nil {
		item.Expires = *expires
	}
	return &item, nil
}

// Create creates the item if it does not exist.
func (b *Backend) Create(ctx context.Context, i backend.Item) (*backend.Lease, error) {
	revision := backend.CreateRevision()
	err := b.retry(ctx, func(ctx context.Context, p *pgxpool.Pool) error {
		tag, err := p.Exec(ctx,
			`INSERT INTO cp_kv (key, value, expires, revision) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (key) DO UPDATE SET value = $2, expires = $3, revision = $4
			 WHERE cp_kv.expires IS NOT NULL AND cp_kv.expires <= $5`,
			[]byte(i.Key), i.Value, expiresParam(i.Expires), revision, b.cfg.Clock.Now().UTC(),
		)
		if err != nil {
			return trace.Wrap(err)
		}
		if tag.RowsAffected() == 0 {
			return retryutils.PermanentRetryError(trace.AlreadyExists("key %q already exists", i.Key))
		}
		return nil
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &backend.Lease{Key: i.Key, Revision: revision}, nil
}

// Put puts a value into the backend.
func (b *Backend) Put(ctx context.Context, i backend.Item) (*backend.Lease, error) {
	revision := backend.CreateRevision()
	err := b.retry(ctx, func(ctx context.Context, p *pgxpool.Pool) error {
		_, err := p.Exec(ctx,
			`INSERT INTO cp_kv (key, value, expires, revision) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (key) DO UPDATE SET value = $2, expires = $3, revision = $4`,
			[]byte(i.Key), i.Value, expiresParam(i.Expires), revision,
		)
		return trace.Wrap(err)
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &backend.Lease{Key: i.Key, Revision: revision}, nil
}

// Update updates the value in the backend.
func (b *Backend) Update(ctx context.Context, i backend.Item) (*backend.Lease, error) {
	revision := backend.CreateRevision()
	err := b.retry(ctx, func(ctx context.Context, p *pgxpool.Pool) error {
		tag, err := p.Exec(ctx,
			`UPDATE cp_kv SET value = $2, expires = $3, revision = $4
			 WHERE key = $1 AND (expires IS NULL OR expires > $5)`,
			[]byte(i.Key), i.Value, expiresParam(i.Expires), revision, b.cfg.Clock.Now().UTC(),
		)
		if err != nil {
			return trace.Wrap(err)
		}
		if tag.RowsAffected() == 0 {
			return retryutils.PermanentRetryError(trace.NotFound("key %q is not found", i.Key))
		}
		return nil
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &backend.Lease{Key: i.Key, Revision: revision}, nil
}

// ConditionalUpdate updates the value if the stored revision matches.
func (b *Backend) ConditionalUpdate(ctx context.Context, i backend.Item) (*backend.Lease, error) {
	if i.Revision == "" {
		return nil, trace.BadParameter("missing parameter revision")
	}
	revision := backend.CreateRevision()
	err := b.retry(ctx, func(ctx context.Context, p *pgxpool.Pool) error {
		tag, err := p.Exec(ctx,
			`UPDATE cp_kv SET value = $2, expires = $3, revision = $4
			 WHERE key = $1 AND revision = $5 AND (expires IS NULL OR expires > $6)`,
			[]byte(i.Key), i.Value, expiresParam(i.Expires), revision, i.Revision, b.cfg.Clock.Now().UTC(),
		)
		if err != nil {
			return trace.Wrap(err)
		}
		if tag.RowsAffected() == 0 {
			return retryutils.PermanentRetryError(trace.CompareFailed("current revision of %q does not match", i.Key))
		}
		return nil
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &backend.Lease{Key: i.Key, Revision: revision}, nil
}

// CompareAndSwap replaces the existing item with replaceWith if its
// value matches the value of expected.
func (b *Backend) CompareAndSwap(ctx context.Context, expected, replaceWith backend.Item) (*backend.Lease, error) {
	if expected.Key.Compare(replaceWith.Key) != 0 {
		return nil, trace.BadParameter("expected and replaceWith keys should match")
	}
	revision := backend.CreateRevision()
	err := b.retry(ctx, func(ctx context.Context, p *pgxpool.Pool) error {
		tag, err := p.Exec(ctx,
			`UPDATE cp_kv SET value = $2, expires = $3, revision = $4
			 WHERE key = $1 AND value = $5 AND (expires IS NULL OR expires > $6)`,
			[]byte(replaceWith.Key), replaceWith.Value, expiresParam(replaceWith.Expires),
			revision, expected.Value, b.cfg.Clock.Now().UTC(),
		)
		if err != nil {
			return trace.Wrap(err)
		}
		if tag.RowsAffected() == 0 {
			return retryutils.PermanentRetryError(trace.CompareFailed("current value does not match expected for %q", expected.Key))
		}
		return nil
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &backend.Lease{Key: replaceWith.Key, Revision: revision}, nil
}

// Get returns a single item or a NotFound error.
func (b *Backend) Get(ctx context.Context, key backend.Key) (*backend.Item, error) {
	var item *backend.Item
	err := b.retry(ctx, func(ctx context.Context, p *pgxpool.Pool) error {
		row := p.QueryRow(ctx,
			`SELECT value, expires, revision FROM cp_kv
			 WHERE key = $1 AND (expires IS NULL OR expires > $2)`,
			[]byte(key), b.cfg.Clock.Now().UTC(),
		)
		var err error
		item, err = scanItem(row, key)
		if trace.IsNotFound(err) {
			return retryutils.PermanentRetryError(err)
		}
		return trace.Wrap(err)
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return item, nil
}

// GetRange returns items in the range [startKey, endKey], ordered by
// key.
func (b *Backend) GetRange(ctx context.Context, startKey, endKey backend.Key, limit int) (*backend.GetResult, error) {
	if startKey.IsZero() {
		return nil, trace.BadParameter("missing parameter startKey")
	}
	if endKey.IsZero() {
		return nil, trace.BadParameter("missing parameter endKey")
	}
	if limit <= 0 {
		limit = backend.DefaultRangeLimit
	}
	var res *backend.GetResult
	err := b.retry(ctx, func(ctx context.Context, p *pgxpool.Pool) error {
		rows, err := p.Query(ctx,
			`SELECT key, value, expires, revision FROM cp_kv
			 WHERE key >= $1 AND key <= $2 AND (expires IS NULL OR expires > $3)
			 ORDER BY key LIMIT $4`,
			[]byte(startKey), []byte(endKey), b.cfg.Clock.Now().UTC(), limit,
		)
		if err != nil {
			return trace.Wrap(err)
		}
		defer rows.Close()
		out := &backend.GetResult{}
		for rows.Next() {
			var item backend.Item
			var key []byte
			var expires *time.Time
			if err := rows.Scan(&key, &item.Value, &expires, &item.Revision); err != nil {
				return trace.Wrap(err)
			}
			item.Key = backend.Key(key)
			if expires != nil {
				item.Expires = *expires
			}
			out.Items = append(out.Items, item)
		}
		if err := rows.Err(); err != nil {
			return trace.Wrap(err)
		}
		res = out
		return nil
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return res, nil
}

// Delete deletes the item by key.
func (b *Backend) Delete(ctx context.Context, key backend.Key) error {
	return trace.Wrap(b.retry(ctx, func(ctx context.Context, p *pgxpool.Pool) error {
		tag, err := p.Exec(ctx,
			`DELETE FROM cp_kv WHERE key = $1 AND (expires IS NULL OR expires > $2)`,
			[]byte(key), b.cfg.Clock.Now().UTC(),
		)
		if err != nil {
			return trace.Wrap(err)
		}
		if tag.RowsAffected() == 0 {
			return retryutils.PermanentRetryError(trace.NotFound("key %q is not found", key))
		}
		return nil
	}))
}

// ConditionalDelete deletes the item if the stored revision matches.
func (b *Backend) ConditionalDelete(ctx context.Context, key backend.Key, revision string) error {
	if revision == "" {
		return trace.BadParameter("missing parameter revision")
	}
	return trace.Wrap(b.retry(ctx, func(ctx context.Context, p *pgxpool.Pool) error {
		tag, err := p.Exec(ctx,
			`DELETE FROM cp_kv WHERE key = $1 AND revision = $2`,
			[]byte(key), revision,
		)
		if err != nil {
			return trace.Wrap(err)
		}
		if tag.RowsAffected() == 0 {
			return retryutils.PermanentRetryError(trace.CompareFailed("current revision of %q does not match", key))
		}
		return nil
	}))
}

// DeleteRange deletes the items in the range [startKey, endKey].
func (b *Backend) DeleteRange(ctx context.Context, startKey, endKey backend.Key) error {
	if startKey.IsZero() {
		return trace.BadParameter("missing parameter startKey")
	}
	if endKey.IsZero() {
		return trace.BadParameter("missing parameter endKey")
	}
	return trace.Wrap(b.retry(ctx, func(ctx context.Context, p *pgxpool.Pool) error {
		_, err := p.Exec(ctx,
			`DELETE FROM cp_kv WHERE key >= $1 AND key <= $2`,
			[]byte(startKey), []byte(endKey),
		)
		return trace.Wrap(err)
	}))
}
