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

package configsource

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/confplane/lib/cache"
)

// fakeSource is a programmable source of truth.
type fakeSource struct {
	hashes map[string]string
	down   atomic.Bool
	calls  atomic.Int64
}

func (f *fakeSource) ExpectedHash(ctx context.Context, serviceID, environment string) (string, error) {
	f.calls.Add(1)
	if f.down.Load() {
		return "", trace.ConnectionProblem(nil, "source of truth is unreachable")
	}
	hash, ok := f.hashes[serviceID+":"+environment]
	if !ok {
		return "", trace.NotFound("no entry for %s/%s", serviceID, environment)
	}
	return hash, nil
}

func (f *fakeSource) EffectiveConfig(ctx context.Context, serviceID, environment string) (map[string]string, error) {
	return nil, trace.NotImplemented("not used in tests")
}

func newResolver(t *testing.T, src *fakeSource) (*Resolver, *cache.Fabric) {
	t.Helper()
	fabric, err := cache.NewFabric(context.Background(), cache.FabricConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { fabric.Close() })
	resolver, err := NewResolver(ResolverConfig{Fabric: fabric, Client: src})
	require.NoError(t, err)
	return resolver, fabric
}

func TestResolverCachesLookups(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := &fakeSource{hashes: map[string]string{"svc:dev": "aaaa"}}
	resolver, _ := newResolver(t, src)

	for range 3 {
		hash, err := resolver.ExpectedHash(ctx, "svc", "dev")
		require.NoError(t, err)
		require.Equal(t, "aaaa", hash)
	}
	require.Equal(t, int64(1), src.calls.Load())
}

func TestResolverNotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := &fakeSource{hashes: map[string]string{}}
	resolver, _ := newResolver(t, src)

	_, err := resolver.ExpectedHash(ctx, "svc", "dev")
	require.True(t, trace.IsNotFound(err))
}

func TestResolverFallbackDuringOutage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := &fakeSource{hashes: map[string]string{"svc:dev": "aaaa"}}
	resolver, fabric := newResolver(t, src)

	// A successful read populates the fallback cache.
	hash, err := resolver.ExpectedHash(ctx, "svc", "dev")
	require.NoError(t, err)
	require.Equal(t, "aaaa", hash)

	// Expire the expected-hash entry, take the source down.
	require.NoError(t, fabric.Invalidate(ctx, cache.ExpectedHash, cache.Key("svc", "dev")))
	src.down.Store(true)

	hash, err = resolver.ExpectedHash(ctx, "svc", "dev")
	require.NoError(t, err)
	require.Equal(t, "aaaa", hash)
}

func TestResolverOutageWithoutFallback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := &fakeSource{}
	src.down.Store(true)
	resolver, _ := newResolver(t, src)

	_, err := resolver.ExpectedHash(ctx, "svc", "dev")
	require.Error(t, err)
	require.False(t, trace.IsNotFound(err))
}
