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

package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/confplane/api/types"
	"github.com/gravitational/confplane/lib/authz"
	"github.com/gravitational/confplane/lib/backend/memory"
	"github.com/gravitational/confplane/lib/cache"
	"github.com/gravitational/confplane/lib/services/local"
)

type driftEnv struct {
	clock    *clockwork.FakeClock
	registry *local.RegistryService
	journal  *local.DriftJournalService
	shares   *local.SharesService
	drift    *DriftService
}

func newDriftEnv(t *testing.T) *driftEnv {
	t.Helper()
	ctx := context.Background()
	clock := clockwork.NewFakeClock()

	bk, err := memory.New(memory.Config{Clock: clock})
	require.NoError(t, err)
	t.Cleanup(func() { bk.Close() })

	fabric, err := cache.NewFabric(ctx, cache.FabricConfig{Clock: clock})
	require.NoError(t, err)
	t.Cleanup(func() { fabric.Close() })

	env := &driftEnv{
		clock:    clock,
		registry: local.NewRegistryService(bk),
		journal:  local.NewDriftJournalService(bk),
		shares:   local.NewSharesService(bk),
	}
	evaluator, err := authz.NewEvaluator(authz.EvaluatorConfig{
		Shares: env.shares,
		Fabric: fabric,
		Clock:  clock,
	})
	require.NoError(t, err)
	env.drift, err = NewDriftService(DriftServiceConfig{
		Journal:   env.journal,
		Registry:  env.registry,
		Evaluator: evaluator,
		Clock:     clock,
	})
	require.NoError(t, err)

	svc, err := types.NewApplicationService("svc_payments", "payments", "team_core", []string{"dev", "prod"})
	require.NoError(t, err)
	_, err = env.registry.CreateApplicationService(ctx, svc)
	require.NoError(t, err)
	return env
}

func (e *driftEnv) seedEvent(t *testing.T, id, instanceID, environment string, status types.DriftStatus) *types.DriftEvent {
	t.Helper()
	event := &types.DriftEvent{
		ID:           id,
		ServiceID:    "svc_payments",
		InstanceID:   instanceID,
		TeamID:       "team_core",
		Environment:  environment,
		ExpectedHash: hashA,
		AppliedHash:  hashB,
		Status:       types.DriftStatusDetected,
		DetectedAt:   e.clock.Now().UTC(),
		DetectedBy:   "system",
	}
	created, err := e.journal.CreateDriftEvent(context.Background(), event)
	require.NoError(t, err)
	if status != types.DriftStatusDetected {
		require.NoError(t, created.Transition(status, "seed", e.clock.Now().UTC()))
		created, err = e.journal.UpdateDriftEvent(context.Background(), created)
		require.NoError(t, err)
	}
	return created
}

func TestDriftLifecycleTransitions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newDriftEnv(t)
	operator := types.UserContext{UserID: "u1", TeamIDs: []string{"team_core"}}
	event := env.seedEvent(t, "d1", "i-1", "dev", types.DriftStatusDetected)

	acked, err := env.drift.Acknowledge(ctx, operator, event.ID, "looking into it")
	require.NoError(t, err)
	require.Equal(t, types.DriftStatusAcknowledged, acked.Status)
	require.Equal(t, "looking into it", acked.Notes)

	resolving, err := env.drift.StartResolving(ctx, operator, event.ID, "")
	require.NoError(t, err)
	require.Equal(t, types.DriftStatusResolving, resolving.Status)

	env.clock.Advance(time.Minute)
	resolved, err := env.drift.Resolve(ctx, operator, event.ID, "redeployed")
	require.NoError(t, err)
	require.Equal(t, types.DriftStatusResolved, resolved.Status)
	require.Equal(t, "u1", resolved.ResolvedBy)
	require.Equal(t, env.clock.Now().UTC(), resolved.ResolvedAt)

	// Terminal events accept no further transitions.
	_, err = env.drift.Ignore(ctx, operator, event.ID, "")
	require.True(t, trace.IsCompareFailed(err))

	// The open-episode index was released.
	_, err = env.journal.GetOpenDriftEvent(ctx, "svc_payments", "i-1")
	require.True(t, trace.IsNotFound(err))
}

func TestDriftTransitionDenied(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newDriftEnv(t)
	event := env.seedEvent(t, "d1", "i-1", "dev", types.DriftStatusDetected)

	outsider := types.UserContext{UserID: "u9", TeamIDs: []string{"team_other"}}
	_, err := env.drift.Acknowledge(ctx, outsider, event.ID, "")
	require.True(t, trace.IsAccessDenied(err))
	_, err = env.drift.GetEvent(ctx, outsider, event.ID)
	require.True(t, trace.IsAccessDenied(err))
}

func TestDriftListScoped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newDriftEnv(t)
	env.seedEvent(t, "d1", "i-1", "dev", types.DriftStatusDetected)
	env.seedEvent(t, "d2", "i-2", "prod", types.DriftStatusDetected)

	// A viewer shared only the dev environment sees only dev events.
	share := &types.ServiceShare{
		ID:           "s1",
		ServiceID:    "svc_payments",
		GranteeType:  types.GranteeUser,
		GranteeID:    "viewer",
		Permissions:  []types.SharePermission{types.PermissionViewDrift},
		Environments: []string{"dev"},
		GrantedBy:    "admin",
	}
	_, err := env.shares.CreateShare(ctx, share)
	require.NoError(t, err)

	viewer := types.UserContext{UserID: "viewer"}
	visible, err := env.drift.ListEvents(ctx, viewer, types.DriftEventFilter{})
	require.NoError(t, err)
	require.Len(t, visible, 1)
	require.Equal(t, "d1", visible[0].ID)

	// A stranger with no team and no share sees nothing.
	stranger := types.UserContext{UserID: "nobody"}
	visible, err = env.drift.ListEvents(ctx, stranger, types.DriftEventFilter{})
	require.NoError(t, err)
	require.Empty(t, visible)

	// Admins see everything.
	admin := types.UserContext{UserID: "admin", Roles: []string{types.RoleSysAdmin}}
	visible, err = env.drift.ListEvents(ctx, admin, types.DriftEventFilter{})
	require.NoError(t, err)
	require.Len(t, visible, 2)
}

func TestDriftStatistics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newDriftEnv(t)
	env.seedEvent(t, "d1", "i-1", "dev", types.DriftStatusDetected)
	env.seedEvent(t, "d2", "i-2", "prod", types.DriftStatusAcknowledged)
	env.seedEvent(t, "d3", "i-3", "dev", types.DriftStatusResolved)

	owner := types.UserContext{UserID: "u1", TeamIDs: []string{"team_core"}}
	stats, err := env.drift.Statistics(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, 3, stats.Total)
	require.Equal(t, 2, stats.Unresolved)
	require.Equal(t, 2, stats.AffectedInstances)
	require.Equal(t, 1, stats.ByStatus[types.DriftStatusDetected])
	require.Equal(t, 1, stats.ByStatus[types.DriftStatusAcknowledged])
	require.Equal(t, 1, stats.ByStatus[types.DriftStatusResolved])
	require.Equal(t, 3, stats.BySeverity[types.SeverityMedium])
}
