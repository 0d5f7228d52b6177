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
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/confplane/api/types"
)

type staticLister []*types.ApplicationService

func (s staticLister) ListApplicationServices(ctx context.Context, filter types.ServiceFilter) ([]*types.ApplicationService, error) {
	return s, nil
}

type staticSource map[string]string

func (s staticSource) ExpectedHash(ctx context.Context, serviceID, environment string) (string, error) {
	hash, ok := s[serviceID+":"+environment]
	if !ok {
		return "", trace.ConnectionProblem(nil, "source of truth has no entry for %s/%s", serviceID, environment)
	}
	return hash, nil
}

func TestPreWarmer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := clockwork.NewFakeClock()

	fabric, err := NewFabric(ctx, FabricConfig{Clock: clock})
	require.NoError(t, err)
	defer fabric.Close()

	payments, err := types.NewApplicationService("svc_payments", "payments", "team_core", []string{"dev", "prod"})
	require.NoError(t, err)
	orders, err := types.NewApplicationService("svc_orders", "orders", "team_core", []string{"dev"})
	require.NoError(t, err)

	warmer, err := NewPreWarmer(PreWarmerConfig{
		Fabric:   fabric,
		Services: staticLister{payments, orders},
		Source: staticSource{
			"svc_payments:dev":  "aaaa",
			"svc_payments:prod": "bbbb",
			// svc_orders lookups fail; the warm-up must continue.
		},
		Delay: 30 * time.Second,
		Clock: clock,
	})
	require.NoError(t, err)

	go warmer.Run(ctx)

	// Nothing happens before the warm-up delay elapses.
	clock.BlockUntil(1)
	_, err = fabric.Get(ctx, ExpectedHash, Key("svc_payments", "dev"))
	require.True(t, trace.IsNotFound(err))

	clock.Advance(30 * time.Second)
	select {
	case <-warmer.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for warm-up pass")
	}

	got, err := fabric.Get(ctx, ExpectedHash, Key("svc_payments", "dev"))
	require.NoError(t, err)
	require.Equal(t, "aaaa", string(got))
	got, err = fabric.Get(ctx, ExpectedHash, Key("svc_payments", "prod"))
	require.NoError(t, err)
	require.Equal(t, "bbbb", string(got))

	// The failed source lookup left no entry behind.
	_, err = fabric.Get(ctx, ExpectedHash, Key("svc_orders", "dev"))
	require.True(t, trace.IsNotFound(err))
}
