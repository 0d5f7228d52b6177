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

package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/confplane/lib/bus"
)

func TestLocalTTL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := clockwork.NewFakeClock()

	l, err := NewLocal(LocalConfig{Clock: clock})
	require.NoError(t, err)

	require.NoError(t, l.Put(ctx, "k", []byte("v"), time.Minute))
	got, err := l.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v", string(got))

	clock.Advance(time.Minute)
	_, err = l.Get(ctx, "k")
	require.True(t, trace.IsNotFound(err))
}

func TestLocalLRUEviction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l, err := NewLocal(LocalConfig{MaxSize: 2})
	require.NoError(t, err)

	require.NoError(t, l.Put(ctx, "a", []byte("1"), 0))
	require.NoError(t, l.Put(ctx, "b", []byte("2"), 0))
	// Touch "a" so "b" is the eviction candidate.
	_, err = l.Get(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, l.Put(ctx, "c", []byte("3"), 0))

	_, err = l.Get(ctx, "b")
	require.True(t, trace.IsNotFound(err))
	_, err = l.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, 2, l.Len())
}

func TestLocalInvalidateLaw(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l, err := NewLocal(LocalConfig{})
	require.NoError(t, err)

	require.NoError(t, l.Put(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, l.Delete(ctx, "k"))
	_, err = l.Get(ctx, "k")
	require.True(t, trace.IsNotFound(err))

	// Deleting an absent key is not an error.
	require.NoError(t, l.Delete(ctx, "gone"))
}

func newRedisTier(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	r, err := NewRedis(RedisConfig{Client: client})
	require.NoError(t, err)
	return r, srv
}

func TestRedisTier(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r, srv := newRedisTier(t)
	require.NoError(t, r.Put(ctx, "k", []byte("v"), time.Minute))
	got, err := r.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v", string(got))

	srv.FastForward(2 * time.Minute)
	_, err = r.Get(ctx, "k")
	require.True(t, trace.IsNotFound(err))

	require.NoError(t, r.Put(ctx, "a", []byte("1"), 0))
	require.NoError(t, r.Put(ctx, "b", []byte("2"), 0))
	require.NoError(t, r.Clear(ctx))
	_, err = r.Get(ctx, "a")
	require.True(t, trace.IsNotFound(err))
}

func TestTwoLevelPromotion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l1, err := NewLocal(LocalConfig{})
	require.NoError(t, err)
	l2, _ := newRedisTier(t)

	two, err := NewTwoLevel(TwoLevelConfig{Name: ExpectedHash, L1: l1, L2: l2, WriteThrough: true})
	require.NoError(t, err)

	// Seed L2 only, as another replica's write-through would.
	require.NoError(t, l2.Put(ctx, "svc:dev", []byte("aaaa"), time.Minute))

	got, err := two.Get(ctx, "svc:dev")
	require.NoError(t, err)
	require.Equal(t, "aaaa", string(got))

	// The hit must have been promoted into L1.
	got, err = l1.Get(ctx, "svc:dev")
	require.NoError(t, err)
	require.Equal(t, "aaaa", string(got))
}

func TestTwoLevelWriteThroughAndDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l1, err := NewLocal(LocalConfig{})
	require.NoError(t, err)
	l2, _ := newRedisTier(t)

	two, err := NewTwoLevel(TwoLevelConfig{Name: ExpectedHash, L1: l1, L2: l2, WriteThrough: true})
	require.NoError(t, err)

	require.NoError(t, two.Put(ctx, "k", []byte("v"), time.Minute))
	for _, tier := range []Cache{l1, l2} {
		got, err := tier.Get(ctx, "k")
		require.NoError(t, err)
		require.Equal(t, "v", string(got))
	}

	require.NoError(t, two.Delete(ctx, "k"))
	for _, tier := range []Cache{l1, l2} {
		_, err := tier.Get(ctx, "k")
		require.True(t, trace.IsNotFound(err))
	}
}

func TestTwoLevelDegradesOnL2Error(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	l2, err := NewRedis(RedisConfig{Client: client})
	require.NoError(t, err)
	l1, err := NewLocal(LocalConfig{})
	require.NoError(t, err)

	counters := &Counters{}
	two, err := NewTwoLevel(TwoLevelConfig{Name: ExpectedHash, L1: l1, L2: l2, WriteThrough: true, Counters: counters})
	require.NoError(t, err)

	srv.Close()

	// Writes land in L1 even though L2 is down.
	require.NoError(t, two.Put(ctx, "k", []byte("v"), time.Minute))
	got, err := two.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v", string(got))

	// An L1 miss with L2 down reads as a miss, not an error.
	_, err = two.Get(ctx, "absent")
	require.True(t, trace.IsNotFound(err))
	require.Positive(t, counters.Snapshot(l1.Len()).Errors)
}

func TestFabricInvalidationFanout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	b := bus.NewMemory()
	defer b.Close()

	// Two fabrics sharing one bus stand in for two replicas.
	replicaA, err := NewFabric(ctx, FabricConfig{Bus: b})
	require.NoError(t, err)
	defer replicaA.Close()
	replicaB, err := NewFabric(ctx, FabricConfig{Bus: b})
	require.NoError(t, err)
	defer replicaB.Close()

	require.NoError(t, replicaA.Put(ctx, Permissions, "u1:svc", []byte("view")))
	require.NoError(t, replicaB.Put(ctx, Permissions, "u1:svc", []byte("view")))

	require.NoError(t, replicaA.Invalidate(ctx, Permissions, "u1:svc"))

	_, err = replicaA.Get(ctx, Permissions, "u1:svc")
	require.True(t, trace.IsNotFound(err))
	require.EventuallyWithT(t, func(t *assert.CollectT) {
		_, err := replicaB.Get(ctx, Permissions, "u1:svc")
		assert.True(t, trace.IsNotFound(err))
	}, 5*time.Second, 10*time.Millisecond)
}

func TestFabricClearAll(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f, err := NewFabric(ctx, FabricConfig{})
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.Put(ctx, ExpectedHash, "svc:dev", []byte("aaaa")))
	require.NoError(t, f.Put(ctx, ServiceResolution, "payments", []byte("svc")))
	require.NoError(t, f.InvalidateAll(ctx))

	_, err = f.Get(ctx, ExpectedHash, "svc:dev")
	require.True(t, trace.IsNotFound(err))
	_, err = f.Get(ctx, ServiceResolution, "payments")
	require.True(t, trace.IsNotFound(err))
}

func TestLoaderSingleflight(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f, err := NewFabric(ctx, FabricConfig{})
	require.NoError(t, err)
	defer f.Close()

	var loads atomic.Int64
	loader := NewLoader(f, ExpectedHash)
	load := func(ctx context.Context) ([]byte, error) {
		loads.Add(1)
		return []byte("aaaa"), nil
	}

	for range 3 {
		got, err := loader.Get(ctx, "svc:dev", load)
		require.NoError(t, err)
		require.Equal(t, "aaaa", string(got))
	}
	require.Equal(t, int64(1), loads.Load())
}
