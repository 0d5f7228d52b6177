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

// Package approval implements the multi-gate approval workflow that
// governs service ownership transfers: request creation, gate
// decisions under optimistic concurrency, cancellation, and the
// compensating loop that re-applies the ownership side effect until it
// sticks.
package approval

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/confplane"
	"github.com/gravitational/confplane/api/types"
	"github.com/gravitational/confplane/lib/authz"
	"github.com/gravitational/confplane/lib/defaults"
	"github.com/gravitational/confplane/lib/services"
)

// ServiceConfig configures the approval Service.
type ServiceConfig struct {
	// Approvals persists requests and decisions.
	Approvals services.Approvals
	// Registry reads and mutates service ownership.
	Registry services.Registry
	// Evaluator absorbs permission cache invalidations after an
	// ownership transfer.
	Evaluator *authz.Evaluator
	// RequiredGates overrides the gate set applied to new requests.
	RequiredGates []types.GateRequirement
	// Retries bounds the optimistic-lock retry loop of every state
	// transition.
	Retries int
	// Clock overrides the clock in tests.
	Clock clockwork.Clock
	// Logger is the service logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults checks and sets default values.
func (c *ServiceConfig) CheckAndSetDefaults() error {
	if c.Approvals == nil {
		return trace.BadParameter("missing parameter Approvals")
	}
	if c.Registry == nil {
		return trace.BadParameter("missing parameter Registry")
	}
	if c.Evaluator == nil {
		return trace.BadParameter("missing parameter Evaluator")
	}
	if len(c.RequiredGates) == 0 {
		c.RequiredGates = types.DefaultGateRequirements()
	}
	if c.Retries == 0 {
		c.Retries = defaults.ApprovalCASRetries
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(confplane.ComponentKey, confplane.ComponentApproval)
	}
	return nil
}

// Service coordinates the approval workflow. Every request transition
// is a compare-and-set on the stored revision, retried a bounded
// number of times; decision uniqueness rests on the repository's
// atomic insert of the (request, approver, gate) triple.
type Service struct {
	cfg ServiceConfig
}

// NewService returns a new approval workflow service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := registerMetrics(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Service{cfg: cfg}, nil
}

// Create opens a pending ownership transfer request. The requester
// must belong to the receiving team or be a platform administrator,
// and the service must not be retired. The requester's identity
// attributes are frozen into a snapshot so gate authorization does not
// shift underneath the request.
func (s *Service) Create(ctx context.Context, requester types.UserContext, serviceID, targetTeamID string) (*types.ApprovalRequest, error) {
	if targetTeamID == "" {
		return nil, trace.BadParameter("missing parameter target team ID")
	}
	if !requester.IsSysAdmin() && !requester.MemberOf(targetTeamID) {
		return nil, trace.AccessDenied("user %q is not a member of team %q", requester.UserID, targetTeamID)
	}

	svc, err := s.cfg.Registry.GetApplicationService(ctx, serviceID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if svc.Lifecycle == types.LifecycleRetired {
		return nil, trace.BadParameter("service %q is retired and cannot change owner", serviceID)
	}
	if svc.OwnerTeamID == targetTeamID {
		return nil, trace.BadParameter("service %q is already owned by team %q", serviceID, targetTeamID)
	}

	req, err := types.NewApprovalRequest(
		uuid.NewString(),
		requester.UserID,
		serviceID,
		targetTeamID,
		types.RequesterSnapshot{
			TeamIDs:   requester.TeamIDs,
			ManagerID: requester.ManagerID,
			Roles:     requester.Roles,
		},
		s.cfg.RequiredGates,
	)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	req.CreatedAt = s.cfg.Clock.Now().UTC()

	created, err := s.cfg.Approvals.CreateApprovalRequest(ctx, req)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	requestsCreated.Inc()
	s.cfg.Logger.InfoContext(ctx, "Approval request created",
		"request", created.ID,
		"service", serviceID,
		"target_team", targetTeamID,
		"requester", requester.UserID,
	)
	return created, nil
}

// Get returns a request with its decisions tallied in.
func (s *Service) Get(ctx context.Context, id string) (*types.ApprovalRequest, []*types.ApprovalDecision, error) {
	req, err := s.cfg.Approvals.GetApprovalRequest(ctx, id)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	decisions, err := s.cfg.Approvals.ListApprovalDecisions(ctx, id)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	return req, decisions, nil
}

// List returns requests matching the filter.
func (s *Service) List(ctx context.Context, filter types.ApprovalRequestFilter) ([]*types.ApprovalRequest, error) {
	out, err := s.cfg.Approvals.ListApprovalRequests(ctx, filter)
	return out, trace.Wrap(err)
}

// Decide records one approver's verdict on one gate and resolves the
// request when the decisions warrant it: the first reject
// short-circuits to rejected, full quorum on every gate resolves to
// approved and triggers the ownership transfer. Returns the request
// after the decision took effect.
func (s *Service) Decide(ctx context.Context, approver types.UserContext, requestID string, gate types.Gate, decision types.Decision, comment string) (*types.ApprovalRequest, error) {
	req, err := s.cfg.Approvals.GetApprovalRequest(ctx, requestID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if req.State.IsTerminal() {
		return nil, trace.CompareFailed("approval request %q is already terminal (%s)", requestID, req.State)
	}
	if err := services.AuthorizeGateDecision(req, approver, gate); err != nil {
		return nil, trace.Wrap(err)
	}

	if _, err := s.cfg.Approvals.CreateApprovalDecision(ctx, &types.ApprovalDecision{
		RequestID:      requestID,
		ApproverUserID: approver.UserID,
		Gate:           gate,
		Decision:       decision,
		Comment:        comment,
		CreatedAt:      s.cfg.Clock.Now().UTC(),
	}); err != nil {
		return nil, trace.Wrap(err)
	}
	decisionsRecorded.WithLabelValues(string(decision)).Inc()

	resolved, err := s.resolve(ctx, requestID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if resolved.State == types.ApprovalStateApproved {
		// Best effort here: an approved request with the side effect
		// still pending is picked up by the compensating loop.
		if err := s.ApplySideEffect(ctx, resolved); err != nil {
			s.cfg.Logger.WarnContext(ctx, "Ownership transfer deferred to the compensating loop",
				"request", resolved.ID,
				"error", err,
			)
		} else if updated, err := s.cfg.Approvals.GetApprovalRequest(ctx, resolved.ID); err == nil {
			resolved = updated
		}
	}
	return resolved, nil
}

// Cancel withdraws a pending request. Only the requester or a platform
// administrator may cancel.
func (s *Service) Cancel(ctx context.Context, actor types.UserContext, requestID string) (*types.ApprovalRequest, error) {
	req, err := s.cfg.Approvals.GetApprovalRequest(ctx, requestID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if !actor.IsSysAdmin() && actor.UserID != req.RequesterUserID {
		return nil, trace.AccessDenied("user %q may not cancel request %q", actor.UserID, requestID)
	}

	for attempt := 0; attempt < s.cfg.Retries; attempt++ {
		if req.State.IsTerminal() {
			return nil, trace.CompareFailed("approval request %q is already terminal (%s)", requestID, req.State)
		}
		next := req.Clone()
		next.State = types.ApprovalStateCancelled
		next.ResolveReason = "cancelled by " + actor.UserID
		next.ResolvedAt = s.cfg.Clock.Now().UTC()
		updated, err := s.cfg.Approvals.ConditionalUpdateApprovalRequest(ctx, next)
		if err == nil {
			s.cfg.Logger.InfoContext(ctx, "Approval request cancelled",
				"request", requestID,
				"actor", actor.UserID,
			)
			return updated, nil
		}
		if !trace.IsCompareFailed(err) {
			return nil, trace.Wrap(err)
		}
		if req, err = s.cfg.Approvals.GetApprovalRequest(ctx, requestID); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	return nil, trace.CompareFailed("approval request %q kept changing, giving up after %d attempts", requestID, s.cfg.Retries)
}

// resolve recomputes the request state from its recorded decisions and
// commits the transition under compare-and-set. Concurrent deciders
// converge: whoever loses the CAS re-reads and either observes the
// terminal state or retries.
func (s *Service) resolve(ctx context.Context, requestID string) (*types.ApprovalRequest, error) {
	req, err := s.cfg.Approvals.GetApprovalRequest(ctx, requestID)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	for attempt := 0; attempt < s.cfg.Retries; attempt++ {
		if req.State.IsTerminal() {
			return req, nil
		}
		decisions, err := s.cfg.Approvals.ListApprovalDecisions(ctx, requestID)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		state, reason := services.ResolveApproval(req, decisions)
		if state == types.ApprovalStatePending {
			return req, nil
		}

		next := req.Clone()
		next.State = state
		next.ResolveReason = reason
		next.ResolvedAt = s.cfg.Clock.Now().UTC()
		if state == types.ApprovalStateApproved {
			if svc, err := s.cfg.Registry.GetApplicationService(ctx, req.ServiceID); err == nil {
				next.PreviousOwnerTeamID = svc.OwnerTeamID
			} else if !trace.IsNotFound(err) {
				return nil, trace.Wrap(err)
			}
		}
		updated, err := s.cfg.Approvals.ConditionalUpdateApprovalRequest(ctx, next)
		if err == nil {
			requestsResolved.WithLabelValues(string(state)).Inc()
			s.cfg.Logger.InfoContext(ctx, "Approval request resolved",
				"request", requestID,
				"state", state,
				"reason", reason,
			)
			return updated, nil
		}
		if !trace.IsCompareFailed(err) {
			return nil, trace.Wrap(err)
		}
		if req, err = s.cfg.Approvals.GetApprovalRequest(ctx, requestID); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	return nil, trace.CompareFailed("approval request %q kept changing, giving up after %d attempts", requestID, s.cfg.Retries)
}

// ApplySideEffect performs the ownership transfer of an approved
// request and flips the applied flag. Idempotent: re-applying a
// transfer that already happened only settles the flag. Called inline
// after approval and by the compensating loop.
func (s *Service) ApplySideEffect(ctx context.Context, req *types.ApprovalRequest) error {
	if !req.SideEffectPending() {
		return nil
	}

	svc, err := s.cfg.Registry.GetApplicationService(ctx, req.ServiceID)
	if err != nil {
		return trace.Wrap(err)
	}
	for attempt := 0; svc.OwnerTeamID != req.TargetTeamID; attempt++ {
		if attempt >= s.cfg.Retries {
			return trace.CompareFailed("service %q kept changing, giving up after %d attempts", req.ServiceID, s.cfg.Retries)
		}
		next := svc.Clone()
		next.OwnerTeamID = req.TargetTeamID
		next.UpdatedAt = s.cfg.Clock.Now().UTC()
		next.UpdatedBy = "approval:" + req.ID
		if _, err := s.cfg.Registry.UpdateApplicationService(ctx, next); err == nil {
			break
		} else if !trace.IsCompareFailed(err) {
			return trace.Wrap(err)
		}
		if svc, err = s.cfg.Registry.GetApplicationService(ctx, req.ServiceID); err != nil {
			return trace.Wrap(err)
		}
	}

	// Cached permission decisions of both the old and the new owner
	// team are stale now. The affected user set is not cheaply
	// enumerable, so the whole permissions cache goes.
	if err := s.cfg.Evaluator.InvalidatePermissions(ctx); err != nil {
		s.cfg.Logger.WarnContext(ctx, "Failed to invalidate permission cache after ownership transfer", "error", err)
	}

	for attempt := 0; attempt < s.cfg.Retries; attempt++ {
		next := req.Clone()
		next.OwnershipSideEffectApplied = true
		if _, err := s.cfg.Approvals.ConditionalUpdateApprovalRequest(ctx, next); err == nil {
			sideEffectsApplied.Inc()
			s.cfg.Logger.InfoContext(ctx, "Ownership transferred",
				"request", req.ID,
				"service", req.ServiceID,
				"from_team", req.PreviousOwnerTeamID,
				"to_team", req.TargetTeamID,
			)
			return nil
		} else if !trace.IsCompareFailed(err) {
			return trace.Wrap(err)
		}
		if req, err = s.cfg.Approvals.GetApprovalRequest(ctx, req.ID); err != nil {
			return trace.Wrap(err)
		}
		if req.OwnershipSideEffectApplied {
			return nil
		}
	}
	return trace.CompareFailed("approval request %q kept changing, giving up after %d attempts", req.ID, s.cfg.Retries)
}
