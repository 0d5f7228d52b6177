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

package approval

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/confplane/api/types"
	"github.com/gravitational/confplane/lib/authz"
	"github.com/gravitational/confplane/lib/backend/memory"
	"github.com/gravitational/confplane/lib/cache"
	"github.com/gravitational/confplane/lib/services"
	"github.com/gravitational/confplane/lib/services/local"
)

var (
	requester = types.UserContext{UserID: "u1", TeamIDs: []string{"team_core"}, ManagerID: "u9"}
	manager   = types.UserContext{UserID: "u9"}
	admin     = types.UserContext{UserID: "admin", Roles: []string{types.RoleSysAdmin}}
)

// flakyRegistry fails ownership updates while tripped, standing in for
// a degraded store during the side-effect step.
type flakyRegistry struct {
	services.Registry
	fail atomic.Bool
}

func (r *flakyRegistry) UpdateApplicationService(ctx context.Context, svc *types.ApplicationService) (*types.ApplicationService, error) {
	if r.fail.Load() {
		return nil, trace.ConnectionProblem(nil, "registry is unavailable")
	}
	return r.Registry.UpdateApplicationService(ctx, svc)
}

type approvalEnv struct {
	clock     *clockwork.FakeClock
	registry  *flakyRegistry
	approvals *local.ApprovalsService
	service   *Service
}

func newApprovalEnv(t *testing.T) *approvalEnv {
	t.Helper()
	ctx := context.Background()
	clock := clockwork.NewFakeClock()

	bk, err := memory.New(memory.Config{Clock: clock})
	require.NoError(t, err)
	t.Cleanup(func() { bk.Close() })

	fabric, err := cache.NewFabric(ctx, cache.FabricConfig{Clock: clock})
	require.NoError(t, err)
	t.Cleanup(func() { fabric.Close() })

	evaluator, err := authz.NewEvaluator(authz.EvaluatorConfig{
		Shares: local.NewSharesService(bk),
		Fabric: fabric,
		Clock:  clock,
	})
	require.NoError(t, err)

	env := &approvalEnv{
		clock:     clock,
		registry:  &flakyRegistry{Registry: local.NewRegistryService(bk)},
		approvals: local.NewApprovalsService(bk),
	}
	env.service, err = NewService(ServiceConfig{
		Approvals: env.approvals,
		Registry:  env.registry,
		Evaluator: evaluator,
		Clock:     clock,
	})
	require.NoError(t, err)

	svc, err := types.NewApplicationService("svc_orphan", "orphan", "", []string{"dev"})
	require.NoError(t, err)
	_, err = env.registry.Registry.CreateApplicationService(ctx, svc)
	require.NoError(t, err)
	return env
}

func TestApprovalHappyPath(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newApprovalEnv(t)

	req, err := env.service.Create(ctx, requester, "svc_orphan", "team_core")
	require.NoError(t, err)
	require.Equal(t, types.ApprovalStatePending, req.State)
	require.Equal(t, types.DefaultGateRequirements(), req.Required)
	require.Equal(t, "u9", req.Snapshot.ManagerID)

	// The line manager approves; still pending, sys_admin gate open.
	afterManager, err := env.service.Decide(ctx, manager, req.ID, types.GateLineManager, types.DecisionApprove, "")
	require.NoError(t, err)
	require.Equal(t, types.ApprovalStatePending, afterManager.State)

	// The administrator approves; quorum everywhere, ownership moves.
	final, err := env.service.Decide(ctx, admin, req.ID, types.GateSysAdmin, types.DecisionApprove, "")
	require.NoError(t, err)
	require.Equal(t, types.ApprovalStateApproved, final.State)
	require.True(t, final.OwnershipSideEffectApplied)
	require.Equal(t, "", final.PreviousOwnerTeamID)

	svc, err := env.registry.GetApplicationService(ctx, "svc_orphan")
	require.NoError(t, err)
	require.Equal(t, "team_core", svc.OwnerTeamID)
}

func TestApprovalShortCircuitReject(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newApprovalEnv(t)

	req, err := env.service.Create(ctx, requester, "svc_orphan", "team_core")
	require.NoError(t, err)

	final, err := env.service.Decide(ctx, admin, req.ID, types.GateSysAdmin, types.DecisionReject, "not yet")
	require.NoError(t, err)
	require.Equal(t, types.ApprovalStateRejected, final.State)

	// Ownership is untouched and further decisions bounce.
	svc, err := env.registry.GetApplicationService(ctx, "svc_orphan")
	require.NoError(t, err)
	require.True(t, svc.IsOrphan())
	_, err = env.service.Decide(ctx, manager, req.ID, types.GateLineManager, types.DecisionApprove, "")
	require.True(t, trace.IsCompareFailed(err))
}

func TestApprovalGateAuthorization(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newApprovalEnv(t)

	req, err := env.service.Create(ctx, requester, "svc_orphan", "team_core")
	require.NoError(t, err)

	// A random user may decide neither gate.
	stranger := types.UserContext{UserID: "u5"}
	_, err = env.service.Decide(ctx, stranger, req.ID, types.GateSysAdmin, types.DecisionApprove, "")
	require.True(t, trace.IsAccessDenied(err))
	_, err = env.service.Decide(ctx, stranger, req.ID, types.GateLineManager, types.DecisionApprove, "")
	require.True(t, trace.IsAccessDenied(err))

	// The manager satisfies only the line_manager gate.
	_, err = env.service.Decide(ctx, manager, req.ID, types.GateSysAdmin, types.DecisionApprove, "")
	require.True(t, trace.IsAccessDenied(err))
}

func TestApprovalDuplicateDecision(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newApprovalEnv(t)

	req, err := env.service.Create(ctx, requester, "svc_orphan", "team_core")
	require.NoError(t, err)

	_, err = env.service.Decide(ctx, manager, req.ID, types.GateLineManager, types.DecisionApprove, "")
	require.NoError(t, err)
	_, err = env.service.Decide(ctx, manager, req.ID, types.GateLineManager, types.DecisionApprove, "")
	require.True(t, trace.IsAlreadyExists(err))
}

func TestApprovalCancel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newApprovalEnv(t)

	req, err := env.service.Create(ctx, requester, "svc_orphan", "team_core")
	require.NoError(t, err)

	// A bystander may not cancel.
	_, err = env.service.Cancel(ctx, types.UserContext{UserID: "u5"}, req.ID)
	require.True(t, trace.IsAccessDenied(err))

	cancelled, err := env.service.Cancel(ctx, requester, req.ID)
	require.NoError(t, err)
	require.Equal(t, types.ApprovalStateCancelled, cancelled.State)

	// Cancelling twice is a terminal-state violation.
	_, err = env.service.Cancel(ctx, requester, req.ID)
	require.True(t, trace.IsCompareFailed(err))
}

func TestApprovalCreatePreconditions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newApprovalEnv(t)

	// Requester outside the receiving team.
	_, err := env.service.Create(ctx, types.UserContext{UserID: "u5", TeamIDs: []string{"team_other"}}, "svc_orphan", "team_core")
	require.True(t, trace.IsAccessDenied(err))

	// Retired services cannot change owner.
	retired, err := types.NewApplicationService("svc_retired", "retired", "", []string{"dev"})
	require.NoError(t, err)
	retired.Lifecycle = types.LifecycleRetired
	_, err = env.registry.Registry.CreateApplicationService(ctx, retired)
	require.NoError(t, err)
	_, err = env.service.Create(ctx, requester, "svc_retired", "team_core")
	require.True(t, trace.IsBadParameter(err))

	// Unknown service.
	_, err = env.service.Create(ctx, requester, "svc_ghost", "team_core")
	require.True(t, trace.IsNotFound(err))
}

func TestApprovalConcurrentApproveReject(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newApprovalEnv(t)

	req, err := env.service.Create(ctx, requester, "svc_orphan", "team_core")
	require.NoError(t, err)
	_, err = env.service.Decide(ctx, manager, req.ID, types.GateLineManager, types.DecisionApprove, "")
	require.NoError(t, err)

	secondAdmin := types.UserContext{UserID: "admin2", Roles: []string{types.RoleSysAdmin}}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = env.service.Decide(ctx, admin, req.ID, types.GateSysAdmin, types.DecisionApprove, "")
	}()
	go func() {
		defer wg.Done()
		_, _ = env.service.Decide(ctx, secondAdmin, req.ID, types.GateSysAdmin, types.DecisionReject, "")
	}()
	wg.Wait()

	// Exactly one outcome won and the request is terminal; both
	// decision rows persist regardless of who lost.
	final, decisions, err := env.service.Get(ctx, req.ID)
	require.NoError(t, err)
	require.True(t, final.State == types.ApprovalStateApproved || final.State == types.ApprovalStateRejected)

	var sysAdminDecisions int
	for _, d := range decisions {
		if d.Gate == types.GateSysAdmin {
			sysAdminDecisions++
		}
	}
	require.Equal(t, 2, sysAdminDecisions)

	svc, err := env.registry.GetApplicationService(ctx, "svc_orphan")
	require.NoError(t, err)
	if final.State == types.ApprovalStateApproved {
		require.Equal(t, "team_core", svc.OwnerTeamID)
	} else {
		require.True(t, svc.IsOrphan())
	}
}

func TestCompensatorRetriesSideEffect(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newApprovalEnv(t)

	req, err := env.service.Create(ctx, requester, "svc_orphan", "team_core")
	require.NoError(t, err)
	_, err = env.service.Decide(ctx, manager, req.ID, types.GateLineManager, types.DecisionApprove, "")
	require.NoError(t, err)

	// The registry is down when the approval lands: the request is
	// approved but the transfer stays pending.
	env.registry.fail.Store(true)
	final, err := env.service.Decide(ctx, admin, req.ID, types.GateSysAdmin, types.DecisionApprove, "")
	require.NoError(t, err)
	require.Equal(t, types.ApprovalStateApproved, final.State)
	require.True(t, final.SideEffectPending())

	compensator, err := NewCompensator(CompensatorConfig{Service: env.service, Clock: env.clock})
	require.NoError(t, err)

	// Still failing: the pass applies nothing.
	applied, err := compensator.Compensate(ctx)
	require.NoError(t, err)
	require.Zero(t, applied)

	// Registry recovers: the pass applies the transfer and settles
	// the flag.
	env.registry.fail.Store(false)
	applied, err = compensator.Compensate(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, applied)

	settled, _, err := env.service.Get(ctx, req.ID)
	require.NoError(t, err)
	require.True(t, settled.OwnershipSideEffectApplied)
	svc, err := env.registry.GetApplicationService(ctx, "svc_orphan")
	require.NoError(t, err)
	require.Equal(t, "team_core", svc.OwnerTeamID)
}

func TestPrunerRemovesAgedTerminalRequests(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newApprovalEnv(t)

	req, err := env.service.Create(ctx, requester, "svc_orphan", "team_core")
	require.NoError(t, err)
	cancelled, err := env.service.Cancel(ctx, requester, req.ID)
	require.NoError(t, err)
	require.Equal(t, types.ApprovalStateCancelled, cancelled.State)

	pruner, err := NewPruner(PrunerConfig{
		Approvals: env.approvals,
		Retention: 24 * time.Hour,
		Clock:     env.clock,
	})
	require.NoError(t, err)

	// Inside the retention window nothing is removed.
	pruned, err := pruner.Prune(ctx)
	require.NoError(t, err)
	require.Zero(t, pruned)

	env.clock.Advance(25 * time.Hour)
	pruned, err = pruner.Prune(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, pruned)

	_, err = env.approvals.GetApprovalRequest(ctx, req.ID)
	require.True(t, trace.IsNotFound(err))
	decisions, err := env.approvals.ListApprovalDecisions(ctx, req.ID)
	require.NoError(t, err)
	require.Empty(t, decisions)
}
