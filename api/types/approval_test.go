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

package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewApprovalRequest(t *testing.T) {
	t.Parallel()

	snapshot := RequesterSnapshot{
		TeamIDs:   []string{"team_core"},
		ManagerID: "u9",
	}

	req, err := NewApprovalRequest("req-1", "u1", "svc_orphan", "team_core", snapshot, nil)
	require.NoError(t, err)
	require.Equal(t, ApprovalStatePending, req.State)
	require.Equal(t, RequestTypeAssignServiceToTeam, req.RequestType)

	// empty requirements fall back to the default gate set
	require.Equal(t, DefaultGateRequirements(), req.Required)

	gate, ok := req.GateRequirement(GateLineManager)
	require.True(t, ok)
	require.Equal(t, 1, gate.MinApprovals)

	_, ok = req.GateRequirement(Gate("unknown"))
	require.False(t, ok)
}

func TestApprovalRequestValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*ApprovalRequest)
	}{
		{name: "missing requester", mutate: func(r *ApprovalRequest) { r.RequesterUserID = "" }},
		{name: "missing service", mutate: func(r *ApprovalRequest) { r.ServiceID = "" }},
		{name: "missing target team", mutate: func(r *ApprovalRequest) { r.TargetTeamID = "" }},
		{name: "zero quorum", mutate: func(r *ApprovalRequest) {
			r.Required = []GateRequirement{{Gate: GateSysAdmin, MinApprovals: 0}}
		}},
		{name: "duplicate gate", mutate: func(r *ApprovalRequest) {
			r.Required = []GateRequirement{
				{Gate: GateSysAdmin, MinApprovals: 1},
				{Gate: GateSysAdmin, MinApprovals: 2},
			}
		}},
		{name: "unknown state", mutate: func(r *ApprovalRequest) { r.State = "resolved" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &ApprovalRequest{
				ID:              "req-1",
				RequesterUserID: "u1",
				ServiceID:       "svc_orphan",
				TargetTeamID:    "team_core",
			}
			tt.mutate(req)
			require.Error(t, req.CheckAndSetDefaults())
		})
	}
}

func TestApprovalStateTerminality(t *testing.T) {
	t.Parallel()

	require.False(t, ApprovalStatePending.IsTerminal())
	require.True(t, ApprovalStateApproved.IsTerminal())
	require.True(t, ApprovalStateRejected.IsTerminal())
	require.True(t, ApprovalStateCancelled.IsTerminal())
}

func TestApprovalSideEffectPending(t *testing.T) {
	t.Parallel()

	req, err := NewApprovalRequest("req-1", "u1", "svc_orphan", "team_core", RequesterSnapshot{}, nil)
	require.NoError(t, err)
	require.False(t, req.SideEffectPending())

	req.State = ApprovalStateApproved
	require.True(t, req.SideEffectPending())

	req.OwnershipSideEffectApplied = true
	require.False(t, req.SideEffectPending())
}

func TestApprovalDecisionValidation(t *testing.T) {
	t.Parallel()

	decision := &ApprovalDecision{
		RequestID:      "req-1",
		ApproverUserID: "admin",
		Gate:           GateSysAdmin,
		Decision:       DecisionApprove,
	}
	require.NoError(t, decision.CheckAndSetDefaults())

	decision.Decision = "maybe"
	require.Error(t, decision.CheckAndSetDefaults())

	decision.Decision = DecisionReject
	decision.Gate = "board"
	require.Error(t, decision.CheckAndSetDefaults())
}

func TestApprovalRequestFilterRoundTrip(t *testing.T) {
	t.Parallel()

	filter := ApprovalRequestFilter{
		ServiceID: "svc_orphan",
		State:     ApprovalStatePending,
	}

	m := filter.IntoMap()
	var decoded ApprovalRequestFilter
	require.NoError(t, decoded.FromMap(m))
	require.Equal(t, filter, decoded)

	req, err := NewApprovalRequest("req-1", "u1", "svc_orphan", "team_core", RequesterSnapshot{}, nil)
	require.NoError(t, err)
	require.True(t, filter.Match(req))

	req.State = ApprovalStateRejected
	require.False(t, filter.Match(req))
}
