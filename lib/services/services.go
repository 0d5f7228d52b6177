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

// Package services defines the repository ports the domain services are
// built on, the resource marshaling helpers, and the pure resolution
// logic of the approval workflow.
package services

import (
	"context"

	"github.com/gravitational/confplane/api/types"
)

// Registry manages application service records.
type Registry interface {
	// CreateApplicationService creates a new service. Both the ID and
	// the display name must be unused.
	CreateApplicationService(ctx context.Context, svc *types.ApplicationService) (*types.ApplicationService, error)

	// UpdateApplicationService updates an existing service guarded by
	// its revision. The service ID is immutable.
	UpdateApplicationService(ctx context.Context, svc *types.ApplicationService) (*types.ApplicationService, error)

	// GetApplicationService returns a service by ID.
	GetApplicationService(ctx context.Context, id string) (*types.ApplicationService, error)

	// GetApplicationServiceByName resolves a service by its unique
	// display name.
	GetApplicationServiceByName(ctx context.Context, displayName string) (*types.ApplicationService, error)

	// ListApplicationServices returns services matching the filter.
	ListApplicationServices(ctx context.Context, filter types.ServiceFilter) ([]*types.ApplicationService, error)

	// DeleteApplicationService removes a service. Deletion requires all
	// instances reaped and all drift events terminal; callers enforce
	// that above this port.
	DeleteApplicationService(ctx context.Context, id string) error
}

// Presence manages service instance projections.
type Presence interface {
	// UpsertInstance creates or replaces an instance projection keyed
	// by (ServiceID, InstanceID).
	UpsertInstance(ctx context.Context, instance *types.ServiceInstance) (*types.ServiceInstance, error)

	// GetInstance returns one instance projection.
	GetInstance(ctx context.Context, serviceID, instanceID string) (*types.ServiceInstance, error)

	// ListInstances returns instances matching the filter.
	ListInstances(ctx context.Context, filter types.InstanceFilter) ([]*types.ServiceInstance, error)

	// DeleteInstance removes an instance projection.
	DeleteInstance(ctx context.Context, serviceID, instanceID string) error
}

// DriftJournal manages drift events and the open-episode index.
type DriftJournal interface {
	// CreateDriftEvent opens a new drift episode. At most one
	// non-terminal event may exist per instance; a second open returns
	// an AlreadyExists error.
	CreateDriftEvent(ctx context.Context, event *types.DriftEvent) (*types.DriftEvent, error)

	// GetDriftEvent returns an event by ID.
	GetDriftEvent(ctx context.Context, id string) (*types.DriftEvent, error)

	// GetOpenDriftEvent returns the non-terminal event for the
	// instance, or a NotFound error.
	GetOpenDriftEvent(ctx context.Context, serviceID, instanceID string) (*types.DriftEvent, error)

	// UpdateDriftEvent replaces an event, maintaining the open-episode
	// index when the event transitions to a terminal state.
	UpdateDriftEvent(ctx context.Context, event *types.DriftEvent) (*types.DriftEvent, error)

	// ListDriftEvents returns events matching the filter.
	ListDriftEvents(ctx context.Context, filter types.DriftEventFilter) ([]*types.DriftEvent, error)
}

// Shares manages service share grants.
type Shares interface {
	// CreateShare records a new grant.
	CreateShare(ctx context.Context, share *types.ServiceShare) (*types.ServiceShare, error)

	// GetShare returns a share by service and share ID.
	GetShare(ctx context.Context, serviceID, shareID string) (*types.ServiceShare, error)

	// ListShares returns shares matching the filter.
	ListShares(ctx context.Context, filter types.ShareFilter) ([]*types.ServiceShare, error)

	// DeleteShare revokes a grant.
	DeleteShare(ctx context.Context, serviceID, shareID string) error
}

// Approvals manages approval requests and their decisions.
type Approvals interface {
	// CreateApprovalRequest stores a new pending request.
	CreateApprovalRequest(ctx context.Context, req *types.ApprovalRequest) (*types.ApprovalRequest, error)

	// GetApprovalRequest returns a request by ID.
	GetApprovalRequest(ctx context.Context, id string) (*types.ApprovalRequest, error)

	// ConditionalUpdateApprovalRequest replaces a request if the stored
	// revision matches, and returns a CompareFailed error otherwise.
	ConditionalUpdateApprovalRequest(ctx context.Context, req *types.ApprovalRequest) (*types.ApprovalRequest, error)

	// ListApprovalRequests returns requests matching the filter.
	ListApprovalRequests(ctx context.Context, filter types.ApprovalRequestFilter) ([]*types.ApprovalRequest, error)

	// DeleteApprovalRequest removes a request and its decisions.
	DeleteApprovalRequest(ctx context.Context, id string) error

	// CreateApprovalDecision records a decision. The (RequestID,
	// ApproverUserID, Gate) triple is unique; a duplicate returns an
	// AlreadyExists error.
	CreateApprovalDecision(ctx context.Context, decision *types.ApprovalDecision) (*types.ApprovalDecision, error)

	// ListApprovalDecisions returns all decisions of a request.
	ListApprovalDecisions(ctx context.Context, requestID string) ([]*types.ApprovalDecision, error)
}

// Identity manages the cached projections of identity provider users
// and teams.
type Identity interface {
	// UpsertUser stores a user projection.
	UpsertUser(ctx context.Context, user *types.IamUser) (*types.IamUser, error)

	// GetUser returns a user projection by ID.
	GetUser(ctx context.Context, id string) (*types.IamUser, error)

	// UpsertTeam stores a team projection.
	UpsertTeam(ctx context.Context, team *types.IamTeam) (*types.IamTeam, error)

	// GetTeam returns a team projection by ID.
	GetTeam(ctx context.Context, id string) (*types.IamTeam, error)

	// ListTeams returns all team projections.
	ListTeams(ctx context.Context) ([]*types.IamTeam, error)
}
