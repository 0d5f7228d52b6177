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
	"github.com/gravitational/trace"

	"github.com/gravitational/confplane/api/types"
)

// GateTally counts the decisions recorded for one gate.
type GateTally struct {
	// Approvals is the number of approve decisions.
	Approvals int
	// Rejections is the number of reject decisions.
	Rejections int
}

// TallyDecisions aggregates decisions per gate. Decisions for gates the
// request does not require are counted too; AuthorizeGateDecision
// prevents them from being recorded in the first place.
func TallyDecisions(decisions []*types.ApprovalDecision) map[types.Gate]GateTally {
	tallies := make(map[types.Gate]GateTally)
	for _, d := range decisions {
		tally := tallies[d.Gate]
		switch d.Decision {
		case types.DecisionApprove:
			tally.Approvals++
		case types.DecisionReject:
			tally.Rejections++
		}
		tallies[d.Gate] = tally
	}
	return tallies
}

// ResolveApproval computes the request state implied by the recorded
// decisions: any reject resolves the request to rejected immediately;
// otherwise the request is approved once every required gate has
// reached its quorum of approvals, and stays pending until then.
func ResolveApproval(req *types.ApprovalRequest, decisions []*types.ApprovalDecision) (types.ApprovalState, string) {
	tallies := TallyDecisions(decisions)

	for gate, tally := range tallies {
		if tally.Rejections > 0 {
			return types.ApprovalStateRejected, "gate " + string(gate) + " rejected"
		}
	}

	for _, required := range req.Required {
		if tallies[required.Gate].Approvals < required.MinApprovals {
			return types.ApprovalStatePending, ""
		}
	}
	return types.ApprovalStateApproved, "all gates reached quorum"
}

// AuthorizeGateDecision checks that the approver may decide the given
// gate of the request: the sys_admin gate requires the sys_admin role,
// the line_manager gate requires being the manager captured in the
// requester snapshot. Gates the request does not require are rejected
// outright.
func AuthorizeGateDecision(req *types.ApprovalRequest, approver types.UserContext, gate types.Gate) error {
	if _, required := req.GateRequirement(gate); !required {
		return trace.AccessDenied("request %s does not require gate %s", req.ID, gate)
	}
	switch gate {
	case types.GateSysAdmin:
		if !approver.IsSysAdmin() {
			return trace.AccessDenied("gate %s requires the %s role", gate, types.RoleSysAdmin)
		}
	case types.GateLineManager:
		if req.Snapshot.ManagerID == "" || approver.UserID != req.Snapshot.ManagerID {
			return trace.AccessDenied("gate %s requires the requester's manager", gate)
		}
	default:
		return trace.BadParameter("unknown approval gate: %q", gate)
	}
	return nil
}
