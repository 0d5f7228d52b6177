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

package backend

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
)

const locksPrefix = ".locks"

func lockKey(parts ...string) Key {
	return internalKey(locksPrefix, parts...)
}

// Lock is a TTL-bounded advisory lock held in the backend. Periodic
// sweeps acquire one so that concurrent replicas do not double-run.
type Lock struct {
	key Key
	id  []byte
	ttl time.Duration
}

func randomID() ([]byte, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	raw := [16]byte(id)
	return raw[:], nil
}

// AcquireLock grabs a lock that will be released automatically in TTL.
func AcquireLock(ctx context.Context, backend Backend, lockName string, ttl time.Duration) (Lock, error) {
	if lockName == "" {
		return Lock{}, trace.BadParameter("missing parameter lock name")
	}
	key := lockKey(lockName)
	id, err := randomID()
	if err != nil {
		return Lock{}, trace.Wrap(err)
	}
	for {
		// Create is atomic, a live item means somebody else holds it.
		_, err = backend.Create(ctx, Item{Key: key, Value: id, Expires: backend.Clock().Now().UTC().Add(ttl)})
		if err == nil {
			break
		}
		if !trace.IsAlreadyExists(err) {
			return Lock{}, trace.Wrap(err)
		}
		select {
		case <-backend.Clock().After(250 * time.Millisecond):
		case <-ctx.Done():
			return Lock{}, trace.Wrap(ctx.Err())
		}
	}
	return Lock{key: key, id: id, ttl: ttl}, nil
}

// Release forces lock release.
func (l *Lock) Release(ctx context.Context, backend Backend) error {
	prev, err := backend.Get(ctx, l.key)
	if err != nil {
		if trace.IsNotFound(err) {
			return trace.CompareFailed("cannot release lock %v (expired)", l.key)
		}
		return trace.Wrap(err)
	}
	if !bytes.Equal(prev.Value, l.id) {
		return trace.CompareFailed("cannot release lock %v (ownership changed)", l.key)
	}
	if err := backend.Delete(ctx, l.key); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// resetTTL resets the TTL on a held lock.
func (l *Lock) resetTTL(ctx context.Context, backend Backend) error {
	prev, err := backend.Get(ctx, l.key)
	if err != nil {
		if trace.IsNotFound(err) {
			return trace.CompareFailed("cannot refresh lock %v (expired)", l.key)
		}
		return trace.Wrap(err)
	}
	if !bytes.Equal(prev.Value, l.id) {
		return trace.CompareFailed("cannot refresh lock %v (ownership changed)", l.key)
	}
	next := *prev
	next.Expires = backend.Clock().Now().UTC().Add(l.ttl)
	if _, err := backend.CompareAndSwap(ctx, *prev, next); err != nil {
		return trace.WrapWithMessage(err, "failed to refresh lock %v", l.key)
	}
	return nil
}

// RunWhileLocked runs fn while the named lock is held, refreshing the
// lock TTL in the background. The context passed to fn is canceled if
// the lock cannot be refreshed.
func RunWhileLocked(ctx context.Context, backend Backend, lockName string, ttl time.Duration, fn func(context.Context) error) error {
	lock, err := AcquireLock(ctx, backend, lockName, ttl)
	if err != nil {
		return trace.Wrap(err)
	}

	subContext, cancel := context.WithCancel(ctx)
	defer cancel()

	stopRefresh := make(chan struct{})
	go func() {
		refreshAfter := ttl / 2
		for {
			select {
			case <-backend.Clock().After(refreshAfter):
				if err := lock.resetTTL(ctx, backend); err != nil {
					cancel()
					slog.ErrorContext(ctx, "Failed to refresh advisory lock", "lock", lockName, "error", err)
					return
				}
			case <-stopRefresh:
				return
			}
		}
	}()

	fnErr := fn(subContext)
	close(stopRefresh)

	if err := lock.Release(ctx, backend); err != nil {
		return trace.NewAggregate(fnErr, err)
	}
	return fnErr
}
