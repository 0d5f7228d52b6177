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

package local

import (
	"context"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/confplane/api/types"
	"github.com/gravitational/confplane/lib/backend/memory"
)

func newBackend(t *testing.T, clock clockwork.Clock) *memory.Memory {
	t.Helper()
	bk, err := memory.New(memory.Config{Clock: clock})
	require.NoError(t, err)
	t.Cleanup(func() { bk.Close() })
	return bk
}

func TestRegistryUniqueness(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	registry := NewRegistryService(newBackend(t, clockwork.NewFakeClock()))

	svc, err := types.NewApplicationService("svc_payments", "Payments", "team_payments", []string{"prod"})
	require.NoError(t, err)
	created, err := registry.CreateApplicationService(ctx, svc)
	require.NoError(t, err)
	require.NotEmpty(t, created.Revision)

	// Same ID loses.
	dup, err := types.NewApplicationService("svc_payments", "Payments Again", "team_payments", []string{"prod"})
	require.NoError(t, err)
	_, err = registry.CreateApplicationService(ctx, dup)
	require.True(t, trace.IsAlreadyExists(err))

	// Same display name loses too, and must not leak the name marker
	// of the failed create.
	dup, err = types.NewApplicationService("svc_other", "Payments", "team_payments", []string{"prod"})
	require.NoError(t, err)
	_, err = registry.CreateApplicationService(ctx, dup)
	require.True(t, trace.IsAlreadyExists(err))

	byName, err := registry.GetApplicationServiceByName(ctx, "Payments")
	require.NoError(t, err)
	require.Equal(t, "svc_payments", byName.ID)
}

func TestRegistryRename(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	registry := NewRegistryService(newBackend(t, clockwork.NewFakeClock()))

	svc, err := types.NewApplicationService("svc_payments", "Payments", "team_payments", []string{"prod"})
	require.NoError(t, err)
	created, err := registry.CreateApplicationService(ctx, svc)
	require.NoError(t, err)

	created.DisplayName = "Payments Platform"
	updated, err := registry.UpdateApplicationService(ctx, created)
	require.NoError(t, err)

	// The old name is released, the new one resolves.
	_, err = registry.GetApplicationServiceByName(ctx, "Payments")
	require.True(t, trace.IsNotFound(err))
	byName, err := registry.GetApplicationServiceByName(ctx, "Payments Platform")
	require.NoError(t, err)
	require.Equal(t, updated.ID, byName.ID)

	// A stale revision cannot clobber the record.
	created.DisplayName = "Payments Legacy"
	_, err = registry.UpdateApplicationService(ctx, created)
	require.True(t, trace.IsCompareFailed(err))
}

func TestDriftJournalSingleOpenEpisode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	journal := NewDriftJournalService(newBackend(t, clock))

	event := &types.DriftEvent{
		ID:           "d1",
		ServiceID:    "svc_payments",
		InstanceID:   "i-1",
		Environment:  "prod",
		ExpectedHash: "aaa",
		AppliedHash:  "bbb",
		Severity:     types.SeverityHigh,
		Status:       types.DriftStatusDetected,
		DetectedAt:   clock.Now(),
		DetectedBy:   "system",
	}
	_, err := journal.CreateDriftEvent(ctx, event)
	require.NoError(t, err)

	// A second open episode for the same instance is refused.
	second := event.Clone()
	second.ID = "d2"
	second.AppliedHash = "ccc"
	_, err = journal.CreateDriftEvent(ctx, second)
	require.True(t, trace.IsAlreadyExists(err))

	open, err := journal.GetOpenDriftEvent(ctx, "svc_payments", "i-1")
	require.NoError(t, err)
	require.Equal(t, "d1", open.ID)

	// Resolving releases the open-episode index.
	require.NoError(t, open.Transition(types.DriftStatusResolved, "system", clock.Now()))
	_, err = journal.UpdateDriftEvent(ctx, open)
	require.NoError(t, err)

	_, err = journal.GetOpenDriftEvent(ctx, "svc_payments", "i-1")
	require.True(t, trace.IsNotFound(err))
	_, err = journal.CreateDriftEvent(ctx, second)
	require.NoError(t, err)
}

func TestApprovalsDecisionUniqueness(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	approvals := NewApprovalsService(newBackend(t, clock))

	req, err := types.NewApprovalRequest("r1", "u1", "svc_payments", "team_sre", types.RequesterSnapshot{}, nil)
	require.NoError(t, err)
	created, err := approvals.CreateApprovalRequest(ctx, req)
	require.NoError(t, err)
	require.NotEmpty(t, created.Revision)

	decision := &types.ApprovalDecision{
		RequestID:      "r1",
		ApproverUserID: "admin1",
		Gate:           types.GateSysAdmin,
		Decision:       types.DecisionApprove,
		CreatedAt:      clock.Now(),
	}
	_, err = approvals.CreateApprovalDecision(ctx, decision)
	require.NoError(t, err)

	// Same approver, same gate: refused regardless of the verdict.
	decision.Decision = types.DecisionReject
	_, err = approvals.CreateApprovalDecision(ctx, decision)
	require.True(t, trace.IsAlreadyExists(err))

	// Same approver on another gate is a distinct decision.
	decision.Gate = types.GateLineManager
	_, err = approvals.CreateApprovalDecision(ctx, decision)
	require.NoError(t, err)

	decisions, err := approvals.ListApprovalDecisions(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, decisions, 2)
}

func TestApprovalsConditionalUpdate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	approvals := NewApprovalsService(newBackend(t, clock))

	req, err := types.NewApprovalRequest("r1", "u1", "svc_payments", "team_sre", types.RequesterSnapshot{}, nil)
	require.NoError(t, err)
	created, err := approvals.CreateApprovalRequest(ctx, req)
	require.NoError(t, err)

	stale := created.Clone()

	created.State = types.ApprovalStateApproved
	created.ResolvedAt = clock.Now()
	_, err = approvals.ConditionalUpdateApprovalRequest(ctx, created)
	require.NoError(t, err)

	// The concurrent writer holding the old revision loses.
	stale.State = types.ApprovalStateRejected
	_, err = approvals.ConditionalUpdateApprovalRequest(ctx, stale)
	require.True(t, trace.IsCompareFailed(err))

	stored, err := approvals.GetApprovalRequest(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, types.ApprovalStateApproved, stored.State)
}

func TestApprovalsDeleteCascadesDecisions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	approvals := NewApprovalsService(newBackend(t, clock))

	req, err := types.NewApprovalRequest("r1", "u1", "svc_payments", "team_sre", types.RequesterSnapshot{}, nil)
	require.NoError(t, err)
	_, err = approvals.CreateApprovalRequest(ctx, req)
	require.NoError(t, err)
	_, err = approvals.CreateApprovalDecision(ctx, &types.ApprovalDecision{
		RequestID:      "r1",
		ApproverUserID: "admin1",
		Gate:           types.GateSysAdmin,
		Decision:       types.DecisionApprove,
		CreatedAt:      clock.Now(),
	})
	require.NoError(t, err)

	require.NoError(t, approvals.DeleteApprovalRequest(ctx, "r1"))

	decisions, err := approvals.ListApprovalDecisions(ctx, "r1")
	require.NoError(t, err)
	require.Empty(t, decisions)
}

func TestIdentityProjections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	identity := NewIdentityService(newBackend(t, clockwork.NewFakeClock()))

	_, err := identity.UpsertUser(ctx, &types.IamUser{ID: "u1", TeamIDs: []string{"team_core"}, ManagerID: "u9"})
	require.NoError(t, err)
	user, err := identity.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "u9", user.ManagerID)

	// Upsert replaces.
	_, err = identity.UpsertUser(ctx, &types.IamUser{ID: "u1", TeamIDs: []string{"team_core"}, ManagerID: "u7"})
	require.NoError(t, err)
	user, err = identity.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "u7", user.ManagerID)

	_, err = identity.GetTeam(ctx, "team_core")
	require.True(t, trace.IsNotFound(err))

	_, err = identity.UpsertTeam(ctx, &types.IamTeam{ID: "team_core", DisplayName: "Core", MemberIDs: []string{"u1"}})
	require.NoError(t, err)
	_, err = identity.UpsertTeam(ctx, &types.IamTeam{ID: "team_sre", DisplayName: "SRE"})
	require.NoError(t, err)

	teams, err := identity.ListTeams(ctx)
	require.NoError(t, err)
	require.Len(t, teams, 2)
}

func TestSharesExpireWithBackendItem(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	shares := NewSharesService(newBackend(t, clock))

	share := &types.ServiceShare{
		ID:          "sh1",
		ServiceID:   "svc_payments",
		GranteeType: types.GranteeUser,
		GranteeID:   "u2",
		Permissions: []types.SharePermission{types.PermissionViewService},
		Expires:     clock.Now().Add(time.Hour),
	}
	_, err := shares.CreateShare(ctx, share)
	require.NoError(t, err)

	listed, err := shares.ListShares(ctx, types.ShareFilter{ServiceID: "svc_payments"})
	require.NoError(t, err)
	require.Len(t, listed, 1)

	clock.Advance(2 * time.Hour)

	listed, err = shares.ListShares(ctx, types.ShareFilter{ServiceID: "svc_payments"})
	require.NoError(t, err)
	require.Empty(t, listed)
	_, err = shares.GetShare(ctx, "svc_payments", "sh1")
	require.True(t, trace.IsNotFound(err))
}
