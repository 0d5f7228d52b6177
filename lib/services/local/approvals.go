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

	"github.com/gravitational/trace"

	"github.com/gravitational/confplane/api/types"
	"github.com/gravitational/confplane/lib/backend"
	"github.com/gravitational/confplane/lib/services"
)

// ApprovalsService manages approval requests and decisions in the
// backend. The decision key embeds (request, approver, gate), so the
// atomic Create of the decision item is the uniqueness constraint the
// workflow's exactly-one-decision rule rests on.
type ApprovalsService struct {
	backend.Backend
}

// NewApprovalsService returns a new approvals service.
func NewApprovalsService(bk backend.Backend) *ApprovalsService {
	return &ApprovalsService{Backend: bk}
}

// CreateApprovalRequest stores a new pending request.
func (s *ApprovalsService) CreateApprovalRequest(ctx context.Context, req *types.ApprovalRequest) (*types.ApprovalRequest, error) {
	value, err := services.MarshalApprovalRequest(req)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	lease, err := s.Create(ctx, backend.Item{
		Key:   approvalRequestKey(req.ID),
		Value: value,
	})
	if err != nil {
		if trace.IsAlreadyExists(err) {
			return nil, trace.AlreadyExists("approval request %q already exists", req.ID)
		}
		return nil, trace.Wrap(err)
	}
	out := req.Clone()
	out.Revision = lease.Revision
	return out, nil
}

// GetApprovalRequest returns a request by ID.
func (s *ApprovalsService) GetApprovalRequest(ctx context.Context, id string) (*types.ApprovalRequest, error) {
	if id == "" {
		return nil, trace.BadParameter("missing parameter request ID")
	}
	item, err := s.Get(ctx, approvalRequestKey(id))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("approval request %q is not found", id)
		}
		return nil, trace.Wrap(err)
	}
	return services.UnmarshalApprovalRequest(item.Value, item.Revision)
}

// ConditionalUpdateApprovalRequest replaces a request if the stored
// revision matches, and returns a CompareFailed error otherwise.
func (s *ApprovalsService) ConditionalUpdateApprovalRequest(ctx context.Context, req *types.ApprovalRequest) (*types.ApprovalRequest, error) {
	if req.Revision == "" {
		return nil, trace.BadParameter("approval request %q is missing the storage revision", req.ID)
	}
	value, err := services.MarshalApprovalRequest(req)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	lease, err := s.ConditionalUpdate(ctx, backend.Item{
		Key:      approvalRequestKey(req.ID),
		Value:    value,
		Revision: req.Revision,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := req.Clone()
	out.Revision = lease.Revision
	return out, nil
}

// ListApprovalRequests returns requests matching the filter.
func (s *ApprovalsService) ListApprovalRequests(ctx context.Context, filter types.ApprovalRequestFilter) ([]*types.ApprovalRequest, error) {
	startKey := backend.ExactKey(approvalsPrefix, approvalRequestsInfix)
	items, err := getRange(s.GetRange(ctx, startKey, backend.RangeEnd(startKey), backend.NoLimit))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var out []*types.ApprovalRequest
	for _, item := range items {
		req, err := services.UnmarshalApprovalRequest(item.Value, item.Revision)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if filter.Match(req) {
			out = append(out, req)
		}
	}
	return out, nil
}

// DeleteApprovalRequest removes a request and its decisions.
func (s *ApprovalsService) DeleteApprovalRequest(ctx context.Context, id string) error {
	if id == "" {
		return trace.BadParameter("missing parameter request ID")
	}
	if err := s.Delete(ctx, approvalRequestKey(id)); err != nil {
		if trace.IsNotFound(err) {
			return trace.NotFound("approval request %q is not found", id)
		}
		return trace.Wrap(err)
	}
	decisionsKey := backend.ExactKey(approvalsPrefix, approvalDecisionsInfix, id)
	return trace.Wrap(s.DeleteRange(ctx, decisionsKey, backend.RangeEnd(decisionsKey)))
}

// CreateApprovalDecision records a decision. The (RequestID,
// ApproverUserID, Gate) triple is unique; a duplicate returns an
// AlreadyExists error.
func (s *ApprovalsService) CreateApprovalDecision(ctx context.Context, decision *types.ApprovalDecision) (*types.ApprovalDecision, error) {
	value, err := services.MarshalApprovalDecision(decision)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if _, err := s.Create(ctx, backend.Item{
		Key:   approvalDecisionKey(decision.RequestID, decision.ApproverUserID, string(decision.Gate)),
		Value: value,
	}); err != nil {
		if trace.IsAlreadyExists(err) {
			return nil, trace.AlreadyExists("approver %q has already decided gate %s of request %q",
				decision.ApproverUserID, decision.Gate, decision.RequestID)
		}
		return nil, trace.Wrap(err)
	}
	return decision, nil
}

// ListApprovalDecisions returns all decisions of a request.
func (s *ApprovalsService) ListApprovalDecisions(ctx context.Context, requestID string) ([]*types.ApprovalDecision, error) {
	if requestID == "" {
		return nil, trace.BadParameter("missing parameter request ID")
	}
	startKey := backend.ExactKey(approvalsPrefix, approvalDecisionsInfix, requestID)
	items, err := getRange(s.GetRange(ctx, startKey, backend.RangeEnd(startKey), backend.NoLimit))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var out []*types.ApprovalDecision
	for _, item := range items {
		decision, err := services.UnmarshalApprovalDecision(item.Value)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, decision)
	}
	return out, nil
}
