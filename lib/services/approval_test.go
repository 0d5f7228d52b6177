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

package services

import (
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/confplane/api/types"
)

func newRequest(t *testing.T) *types.ApprovalRequest {
	t.Helper()
	req, err := types.NewApprovalRequest("r1", "u1", "svc_orphan", "team_core",
		types.RequesterSnapshot{TeamIDs: []string{"team_core"}, ManagerID: "u9"},
		nil, // default gates: sys_admin(1) + line_manager(1)
	)
	require.NoError(t, err)
	return req
}

func decision(gate types.Gate, approver string, d types.Decision) *types.ApprovalDecision {
	return &types.ApprovalDecision{
		RequestID:      "r1",
		ApproverUserID: approver,
		Gate:           gate,
		Decision:       d,
	}
}

func TestResolveApproval(t *testing.T) {
	req := newRequest(t)

	tests := []struct {
		name      string
		decisions []*types.ApprovalDecision
		want      types.ApprovalState
	}{
		{
			name: "no decisions stays pending",
			want: types.ApprovalStatePending,
		},
		{
			name: "one gate short stays pending",
			decisions: []*types.ApprovalDecision{
				decision(types.GateLineManager, "u9", types.DecisionApprove),
			},
			want: types.ApprovalStatePending,
		},
		{
			name: "all gates at quorum approves",
			decisions: []*types.ApprovalDecision{
				decision(types.GateLineManager, "u9", types.DecisionApprove),
				decision(types.GateSysAdmin, "admin", types.DecisionApprove),
			},
			want: types.ApprovalStateApproved,
		},
		{
			name: "single reject short-circuits",
			decisions: []*types.ApprovalDecision{
				decision(types.GateSysAdmin, "admin", types.DecisionReject),
			},
			want: types.ApprovalStateRejected,
		},
		{
			name: "reject wins over quorum",
			decisions: []*types.ApprovalDecision{
				decision(types.GateLineManager, "u9", types.DecisionApprove),
				decision(types.GateSysAdmin, "admin", types.DecisionApprove),
				decision(types.GateSysAdmin, "admin2", types.DecisionReject),
			},
			want: types.ApprovalStateRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, _ := ResolveApproval(req, tt.decisions)
			require.Equal(t, tt.want, state)
		})
	}
}

func TestTallyDecisions(t *testing.T) {
	tallies := TallyDecisions([]*types.ApprovalDecision{
		decision(types.GateSysAdmin, "a1", types.DecisionApprove),
		decision(types.GateSysAdmin, "a2", types.DecisionApprove),
		decision(types.GateSysAdmin, "a3", types.DecisionReject),
		decision(types.GateLineManager, "u9", types.DecisionApprove),
	})
	require.Equal(t, GateTally{Approvals: 2, Rejections: 1}, tallies[types.GateSysAdmin])
	require.Equal(t, GateTally{Approvals: 1}, tallies[types.GateLineManager])
}

func TestAuthorizeGateDecision(t *testing.T) {
	req := newRequest(t)

	admin := types.UserContext{UserID: "admin", Roles: []string{types.RoleSysAdmin}}
	manager := types.UserContext{UserID: "u9"}
	random := types.UserContext{UserID: "u2"}

	require.NoError(t, AuthorizeGateDecision(req, admin, types.GateSysAdmin))
	require.NoError(t, AuthorizeGateDecision(req, manager, types.GateLineManager))

	err := AuthorizeGateDecision(req, random, types.GateSysAdmin)
	require.True(t, trace.IsAccessDenied(err))

	err = AuthorizeGateDecision(req, random, types.GateLineManager)
	require.True(t, trace.IsAccessDenied(err))

	// The admin role does not substitute for the line manager.
	err = AuthorizeGateDecision(req, admin, types.GateLineManager)
	require.True(t, trace.IsAccessDenied(err))
}
