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
	"fmt"
	"slices"
	"time"

	"github.com/gravitational/trace"
)

// Gate names a set of approvers that must reach a quorum before an
// approval request resolves.
type Gate string

const (
	// GateSysAdmin requires approvers holding the sys_admin role.
	GateSysAdmin Gate = "sys_admin"
	// GateLineManager requires the manager captured in the requester
	// snapshot.
	GateLineManager Gate = "line_manager"
)

// Parse attempts to interpret a value as a string representation of a
// Gate.
func (g *Gate) Parse(val string) error {
	switch Gate(val) {
	case GateSysAdmin:
		*g = GateSysAdmin
	case GateLineManager:
		*g = GateLineManager
	default:
		return trace.BadParameter("unknown approval gate: %q", val)
	}
	return nil
}

// GateRequirement is the quorum one gate must reach.
type GateRequirement struct {
	// Gate is the gate name.
	Gate Gate `json:"gate"`
	// MinApprovals is the number of approve decisions required.
	MinApprovals int `json:"min_approvals"`
}

// DefaultGateRequirements is the gate set applied to ownership transfer
// requests unless configured otherwise.
func DefaultGateRequirements() []GateRequirement {
	return []GateRequirement{
		{Gate: GateSysAdmin, MinApprovals: 1},
		{Gate: GateLineManager, MinApprovals: 1},
	}
}

// RequesterSnapshot freezes the requester's identity attributes at
// request creation so gate authorization does not shift underneath an
// in-flight request.
type RequesterSnapshot struct {
	// TeamIDs are the requester's teams at creation.
	TeamIDs []string `json:"team_ids,omitempty"`
	// ManagerID is the requester's manager at creation.
	ManagerID string `json:"manager_id,omitempty"`
	// Roles are the requester's roles at creation.
	Roles []string `json:"roles,omitempty"`
}

// ApprovalState is the lifecycle state of an approval request.
type ApprovalState string

const (
	// ApprovalStatePending accepts decisions.
	ApprovalStatePending ApprovalState = "pending"
	// ApprovalStateApproved is terminal: every gate reached quorum.
	ApprovalStateApproved ApprovalState = "approved"
	// ApprovalStateRejected is terminal: some gate rejected.
	ApprovalStateRejected ApprovalState = "rejected"
	// ApprovalStateCancelled is terminal: withdrawn by the requester or
	// an administrator.
	ApprovalStateCancelled ApprovalState = "cancelled"
)

var approvalStateVariants = [4]ApprovalState{
	ApprovalStatePending,
	ApprovalStateApproved,
	ApprovalStateRejected,
	ApprovalStateCancelled,
}

// Parse attempts to interpret a value as a string representation of an
// ApprovalState.
func (s *ApprovalState) Parse(val string) error {
	for _, variant := range approvalStateVariants {
		if string(variant) == val {
			*s = variant
			return nil
		}
	}
	return trace.BadParameter("unknown approval state: %q", val)
}

// IsTerminal reports whether the state permits no further decisions.
func (s ApprovalState) IsTerminal() bool {
	return s == ApprovalStateApproved || s == ApprovalStateRejected || s == ApprovalStateCancelled
}

// RequestType discriminates what an approval request changes.
type RequestType string

const (
	// RequestTypeAssignServiceToTeam transfers service ownership to a
	// target team.
	RequestTypeAssignServiceToTeam RequestType = "assign_service_to_team"
)

// ApprovalRequest coordinates a multi-gate approval of a service
// ownership transfer. State transitions are optimistic writes guarded
// by the storage revision.
type ApprovalRequest struct {
	// ID is the unique request ID.
	ID string `json:"id"`
	// RequesterUserID is the user that opened the request.
	RequesterUserID string `json:"requester_user_id"`
	// RequestType is the kind of change requested.
	RequestType RequestType `json:"request_type"`
	// ServiceID is the service whose ownership transfers.
	ServiceID string `json:"service_id"`
	// TargetTeamID is the team receiving ownership.
	TargetTeamID string `json:"target_team_id"`
	// Required lists the gates and their quorums.
	Required []GateRequirement `json:"required"`
	// State is the request lifecycle state.
	State ApprovalState `json:"state"`
	// Snapshot freezes requester attributes at creation.
	Snapshot RequesterSnapshot `json:"snapshot"`
	// PreviousOwnerTeamID records the owner before transfer, set when
	// the request resolves to approved.
	PreviousOwnerTeamID string `json:"previous_owner_team_id,omitempty"`
	// OwnershipSideEffectApplied is flipped once the ownership transfer
	// has been durably applied. Approved requests with the flag unset
	// are retried by the compensating loop.
	OwnershipSideEffectApplied bool `json:"ownership_side_effect_applied,omitempty"`
	// ResolveReason explains the terminal state.
	ResolveReason string `json:"resolve_reason,omitempty"`
	// CreatedAt is the creation timestamp.
	CreatedAt time.Time `json:"created_at"`
	// ResolvedAt is when the request reached a terminal state.
	ResolvedAt time.Time `json:"resolved_at,omitempty"`
	// Revision is the storage revision used for optimistic locking.
	Revision string `json:"-"`
}

// NewApprovalRequest creates a pending ownership transfer request.
func NewApprovalRequest(id, requesterUserID, serviceID, targetTeamID string, snapshot RequesterSnapshot, required []GateRequirement) (*ApprovalRequest, error) {
	req := &ApprovalRequest{
		ID:              id,
		RequesterUserID: requesterUserID,
		RequestType:     RequestTypeAssignServiceToTeam,
		ServiceID:       serviceID,
		TargetTeamID:    targetTeamID,
		Required:        required,
		Snapshot:        snapshot,
	}
	if err := req.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return req, nil
}

// CheckAndSetDefaults does basic validation and default setting.
func (r *ApprovalRequest) CheckAndSetDefaults() error {
	if r.ID == "" {
		return trace.BadParameter("approval request missing ID")
	}
	if r.RequesterUserID == "" {
		return trace.BadParameter("approval request %s missing requester", r.ID)
	}
	if r.ServiceID == "" {
		return trace.BadParameter("approval request %s missing service ID", r.ID)
	}
	if r.TargetTeamID == "" {
		return trace.BadParameter("approval request %s missing target team ID", r.ID)
	}
	if r.RequestType == "" {
		r.RequestType = RequestTypeAssignServiceToTeam
	}
	if r.RequestType != RequestTypeAssignServiceToTeam {
		return trace.BadParameter("unknown approval request type: %q", r.RequestType)
	}
	if r.State == "" {
		r.State = ApprovalStatePending
	}
	var state ApprovalState
	if err := state.Parse(string(r.State)); err != nil {
		return trace.Wrap(err)
	}
	if len(r.Required) == 0 {
		r.Required = DefaultGateRequirements()
	}
	seen := make(map[Gate]struct{}, len(r.Required))
	for _, req := range r.Required {
		var gate Gate
		if err := gate.Parse(string(req.Gate)); err != nil {
			return trace.Wrap(err)
		}
		if req.MinApprovals < 1 {
			return trace.BadParameter("approval request %s gate %s requires a positive quorum", r.ID, req.Gate)
		}
		if _, dup := seen[req.Gate]; dup {
			return trace.BadParameter("approval request %s lists gate %s twice", r.ID, req.Gate)
		}
		seen[req.Gate] = struct{}{}
	}
	return nil
}

// GateRequirement looks up the quorum for a gate.
func (r *ApprovalRequest) GateRequirement(gate Gate) (GateRequirement, bool) {
	for _, req := range r.Required {
		if req.Gate == gate {
			return req, true
		}
	}
	return GateRequirement{}, false
}

// SideEffectPending reports whether the ownership transfer still needs
// to be applied.
func (r *ApprovalRequest) SideEffectPending() bool {
	return r.State == ApprovalStateApproved && !r.OwnershipSideEffectApplied
}

// Clone returns a deep copy of the request.
func (r *ApprovalRequest) Clone() *ApprovalRequest {
	out := *r
	out.Required = slices.Clone(r.Required)
	out.Snapshot.TeamIDs = slices.Clone(r.Snapshot.TeamIDs)
	out.Snapshot.Roles = slices.Clone(r.Snapshot.Roles)
	return &out
}

// Decision is an approver's verdict on one gate.
type Decision string

const (
	// DecisionApprove counts toward the gate quorum.
	DecisionApprove Decision = "approve"
	// DecisionReject resolves the request to rejected.
	DecisionReject Decision = "reject"
)

// Parse attempts to interpret a value as a string representation of a
// Decision.
func (d *Decision) Parse(val string) error {
	switch Decision(val) {
	case DecisionApprove:
		*d = DecisionApprove
	case DecisionReject:
		*d = DecisionReject
	default:
		return trace.BadParameter("unknown decision: %q", val)
	}
	return nil
}

// ApprovalDecision records one approver's verdict for one gate of one
// request. Unique on (RequestID, ApproverUserID, Gate).
type ApprovalDecision struct {
	// RequestID is the decided request.
	RequestID string `json:"request_id"`
	// ApproverUserID is the deciding user.
	ApproverUserID string `json:"approver_user_id"`
	// Gate is the gate the decision applies to.
	Gate Gate `json:"gate"`
	// Decision is the verdict.
	Decision Decision `json:"decision"`
	// Comment is an optional note from the approver.
	Comment string `json:"comment,omitempty"`
	// CreatedAt is when the decision was recorded.
	CreatedAt time.Time `json:"created_at"`
}

// CheckAndSetDefaults does basic validation and default setting.
func (d *ApprovalDecision) CheckAndSetDefaults() error {
	if d.RequestID == "" {
		return trace.BadParameter("approval decision missing request ID")
	}
	if d.ApproverUserID == "" {
		return trace.BadParameter("approval decision missing approver")
	}
	var gate Gate
	if err := gate.Parse(string(d.Gate)); err != nil {
		return trace.Wrap(err)
	}
	var decision Decision
	if err := decision.Parse(string(d.Decision)); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// String implements fmt.Stringer for audit logging.
func (d *ApprovalDecision) String() string {
	return fmt.Sprintf("decision(request=%s, approver=%s, gate=%s, decision=%s)", d.RequestID, d.ApproverUserID, d.Gate, d.Decision)
}

// ApprovalRequestFilter encodes filter params for approval requests.
type ApprovalRequestFilter struct {
	// ID matches the exact request when set.
	ID string
	// ServiceID matches requests for the service when set.
	ServiceID string
	// RequesterUserID matches requests opened by the user when set.
	RequesterUserID string
	// State matches requests in the state when set.
	State ApprovalState
}

// key values for map encoding of approval request filter.
const (
	approvalFilterKeyID        = "id"
	approvalFilterKeyServiceID = "service_id"
	approvalFilterKeyRequester = "requester"
	approvalFilterKeyState     = "state"
)

// IntoMap copies ApprovalRequestFilter values into a map.
func (f *ApprovalRequestFilter) IntoMap() map[string]string {
	m := make(map[string]string)
	if f.ID != "" {
		m[approvalFilterKeyID] = f.ID
	}
	if f.ServiceID != "" {
		m[approvalFilterKeyServiceID] = f.ServiceID
	}
	if f.RequesterUserID != "" {
		m[approvalFilterKeyRequester] = f.RequesterUserID
	}
	if f.State != "" {
		m[approvalFilterKeyState] = string(f.State)
	}
	return m
}

// FromMap copies values from a map into this ApprovalRequestFilter value.
func (f *ApprovalRequestFilter) FromMap(m map[string]string) error {
	for key, val := range m {
		switch key {
		case approvalFilterKeyID:
			f.ID = val
		case approvalFilterKeyServiceID:
			f.ServiceID = val
		case approvalFilterKeyRequester:
			f.RequesterUserID = val
		case approvalFilterKeyState:
			if err := f.State.Parse(val); err != nil {
				return trace.Wrap(err)
			}
		default:
			return trace.BadParameter("unknown filter key %s", key)
		}
	}
	return nil
}

// Match checks if a given approval request matches this filter.
func (f *ApprovalRequestFilter) Match(req *ApprovalRequest) bool {
	if f.ID != "" && req.ID != f.ID {
		return false
	}
	if f.ServiceID != "" && req.ServiceID != f.ServiceID {
		return false
	}
	if f.RequesterUserID != "" && req.RequesterUserID != f.RequesterUserID {
		return false
	}
	if f.State != "" && req.State != f.State {
		return false
	}
	return true
}
