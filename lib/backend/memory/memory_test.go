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

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/confplane/lib/backend"
)

func newBackend(t *testing.T, clock clockwork.Clock) *Memory {
	t.Helper()
	bk, err := New(Config{Clock: clock})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, bk.Close()) })
	return bk
}

func TestCRUD(t *testing.T) {
	ctx := context.Background()
	bk := newBackend(t, clockwork.NewFakeClock())

	key := backend.NewKey("services", "svc_payments")

	_, err := bk.Get(ctx, key)
	require.True(t, trace.IsNotFound(err))

	lease, err := bk.Create(ctx, backend.Item{Key: key, Value: []byte("a")})
	require.NoError(t, err)
	require.NotEmpty(t, lease.Revision)

	_, err = bk.Create(ctx, backend.Item{Key: key, Value: []byte("b")})
	require.True(t, trace.IsAlreadyExists(err))

	item, err := bk.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, []byte("a"), item.Value)
	require.Equal(t, lease.Revision, item.Revision)

	updated, err := bk.Put(ctx, backend.Item{Key: key, Value: []byte("b")})
	require.NoError(t, err)
	require.NotEqual(t, lease.Revision, updated.Revision)

	require.NoError(t, bk.Delete(ctx, key))
	require.True(t, trace.IsNotFound(bk.Delete(ctx, key)))
}

func TestConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	bk := newBackend(t, clockwork.NewFakeClock())

	key := backend.NewKey("approvals", "requests", "r1")
	lease, err := bk.Create(ctx, backend.Item{Key: key, Value: []byte("v0")})
	require.NoError(t, err)

	// Stale revision loses.
	_, err = bk.ConditionalUpdate(ctx, backend.Item{Key: key, Value: []byte("v1"), Revision: "bogus"})
	require.True(t, trace.IsCompareFailed(err))

	// Current revision wins and rotates the revision.
	next, err := bk.ConditionalUpdate(ctx, backend.Item{Key: key, Value: []byte("v1"), Revision: lease.Revision})
	require.NoError(t, err)
	require.NotEqual(t, lease.Revision, next.Revision)

	// The first writer's revision no longer matches.
	_, err = bk.ConditionalUpdate(ctx, backend.Item{Key: key, Value: []byte("v2"), Revision: lease.Revision})
	require.True(t, trace.IsCompareFailed(err))

	require.True(t, trace.IsCompareFailed(bk.ConditionalDelete(ctx, key, lease.Revision)))
	require.NoError(t, bk.ConditionalDelete(ctx, key, next.Revision))
}

func TestCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	bk := newBackend(t, clockwork.NewFakeClock())

	key := backend.NewKey("locks", "l1")
	_, err := bk.Create(ctx, backend.Item{Key: key, Value: []byte("one")})
	require.NoError(t, err)

	_, err = bk.CompareAndSwap(ctx,
		backend.Item{Key: key, Value: []byte("wrong")},
		backend.Item{Key: key, Value: []byte("two")})
	require.True(t, trace.IsCompareFailed(err))

	_, err = bk.CompareAndSwap(ctx,
		backend.Item{Key: key, Value: []byte("one")},
		backend.Item{Key: key, Value: []byte("two")})
	require.NoError(t, err)

	item, err := bk.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, []byte("two"), item.Value)
}

func TestRange(t *testing.T) {
	ctx := context.Background()
	bk := newBackend(t, clockwork.NewFakeClock())

	prefix := backend.ExactKey("instances", "svc_payments")
	for _, id := range []string{"i-1", "i-2", "i-3"} {
		_, err := bk.Create(ctx, backend.Item{
			Key:   backend.NewKey("instances", "svc_payments", id),
			Value: []byte(id),
		})
		require.NoError(t, err)
	}
	_, err := bk.Create(ctx, backend.Item{
		Key:   backend.NewKey("instances", "svc_orders", "i-9"),
		Value: []byte("other"),
	})
	require.NoError(t, err)

	res, err := bk.GetRange(ctx, prefix, backend.RangeEnd(prefix), backend.NoLimit)
	require.NoError(t, err)
	require.Len(t, res.Items, 3)
	require.Equal(t, []byte("i-1"), res.Items[0].Value)

	res, err = bk.GetRange(ctx, prefix, backend.RangeEnd(prefix), 2)
	require.NoError(t, err)
	require.Len(t, res.Items, 2)

	require.NoError(t, bk.DeleteRange(ctx, prefix, backend.RangeEnd(prefix)))
	res, err = bk.GetRange(ctx, prefix, backend.RangeEnd(prefix), backend.NoLimit)
	require.NoError(t, err)
	require.Empty(t, res.Items)

	// Keys outside the range survive.
	_, err = bk.Get(ctx, backend.NewKey("instances", "svc_orders", "i-9"))
	require.NoError(t, err)
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	bk := newBackend(t, clock)

	key := backend.NewKey("cache", "expected-hash", "svc_payments:dev")
	_, err := bk.Create(ctx, backend.Item{
		Key:     key,
		Value:   []byte("aaaa"),
		Expires: clock.Now().Add(time.Minute),
	})
	require.NoError(t, err)

	_, err = bk.Get(ctx, key)
	require.NoError(t, err)

	clock.Advance(time.Minute + time.Second)
	_, err = bk.Get(ctx, key)
	require.True(t, trace.IsNotFound(err))

	// Expired items do not block re-creation.
	_, err = bk.Create(ctx, backend.Item{Key: key, Value: []byte("bbbb")})
	require.NoError(t, err)
}
