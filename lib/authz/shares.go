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

package authz

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/confplane"
	"github.com/gravitational/confplane/api/types"
	"github.com/gravitational/confplane/lib/services"
)

// ShareServiceConfig configures a ShareService.
type ShareServiceConfig struct {
	// Registry resolves shared services.
	Registry services.Registry
	// Shares persists share grants.
	Shares services.Shares
	// Evaluator authorizes share management and absorbs invalidations.
	Evaluator *Evaluator
	// Clock overrides the clock in tests.
	Clock clockwork.Clock
	// Logger is the service logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults checks and sets default values.
func (c *ShareServiceConfig) CheckAndSetDefaults() error {
	if c.Registry == nil {
		return trace.BadParameter("missing parameter Registry")
	}
	if c.Shares == nil {
		return trace.BadParameter("missing parameter Shares")
	}
	if c.Evaluator == nil {
		return trace.BadParameter("missing parameter Evaluator")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(confplane.ComponentKey, confplane.ComponentAuthz)
	}
	return nil
}

// ShareService manages share grants. Granting and revoking require the
// admin permission on the service; every mutation invalidates the
// cached permission sub-decisions it can affect.
type ShareService struct {
	cfg ShareServiceConfig
}

// NewShareService returns a new share management service.
func NewShareService(cfg ShareServiceConfig) (*ShareService, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &ShareService{cfg: cfg}, nil
}

// Grant creates a share on the service. The share ID and audit fields
// are assigned here.
func (s *ShareService) Grant(ctx context.Context, user types.UserContext, share *types.ServiceShare) (*types.ServiceShare, error) {
	svc, err := s.cfg.Registry.GetApplicationService(ctx, share.ServiceID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.cfg.Evaluator.Authorize(ctx, user, types.PermissionAdmin, Resource{
		ServiceID:   svc.ID,
		OwnerTeamID: svc.OwnerTeamID,
	}); err != nil {
		return nil, trace.Wrap(err)
	}

	share = share.Clone()
	share.ID = uuid.NewString()
	share.GrantedBy = user.UserID
	share.CreatedAt = s.cfg.Clock.Now().UTC()
	if err := share.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if !share.Expires.IsZero() && !share.Expires.After(share.CreatedAt) {
		return nil, trace.BadParameter("service share expiry %v is in the past", share.Expires)
	}
	for _, env := range share.Environments {
		if !svc.HasEnvironment(env) {
			return nil, trace.BadParameter("service %q has no environment %q", svc.ID, env)
		}
	}

	created, err := s.cfg.Shares.CreateShare(ctx, share)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	s.invalidate(ctx, created)
	s.cfg.Logger.InfoContext(ctx, "Granted service share",
		"share", created.ID,
		"service", created.ServiceID,
		"grantee_type", created.GranteeType,
		"grantee", created.GranteeID,
		"granted_by", user.UserID,
	)
	return created, nil
}

// Revoke removes a share from the service.
func (s *ShareService) Revoke(ctx context.Context, user types.UserContext, serviceID, shareID string) error {
	svc, err := s.cfg.Registry.GetApplicationService(ctx, serviceID)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := s.cfg.Evaluator.Authorize(ctx, user, types.PermissionAdmin, Resource{
		ServiceID:   svc.ID,
		OwnerTeamID: svc.OwnerTeamID,
	}); err != nil {
		return trace.Wrap(err)
	}

	share, err := s.cfg.Shares.GetShare(ctx, serviceID, shareID)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := s.cfg.Shares.DeleteShare(ctx, serviceID, shareID); err != nil {
		return trace.Wrap(err)
	}
	s.invalidate(ctx, share)
	s.cfg.Logger.InfoContext(ctx, "Revoked service share",
		"share", shareID,
		"service", serviceID,
		"revoked_by", user.UserID,
	)
	return nil
}

// List returns the shares of a service. Requires the admin permission
// on the service.
func (s *ShareService) List(ctx context.Context, user types.UserContext, serviceID string) ([]*types.ServiceShare, error) {
	svc, err := s.cfg.Registry.GetApplicationService(ctx, serviceID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.cfg.Evaluator.Authorize(ctx, user, types.PermissionAdmin, Resource{
		ServiceID:   svc.ID,
		OwnerTeamID: svc.OwnerTeamID,
	}); err != nil {
		return nil, trace.Wrap(err)
	}
	shares, err := s.cfg.Shares.ListShares(ctx, types.ShareFilter{ServiceID: serviceID})
	return shares, trace.Wrap(err)
}

// invalidate drops the cached permission sub-decisions the share can
// affect. A user grantee maps to one cache key; a team grantee's member
// set is not known here, so the whole permissions cache goes.
func (s *ShareService) invalidate(ctx context.Context, share *types.ServiceShare) {
	var err error
	switch share.GranteeType {
	case types.GranteeUser:
		err = s.cfg.Evaluator.InvalidateUser(ctx, share.GranteeID, share.ServiceID)
	default:
		err = s.cfg.Evaluator.InvalidatePermissions(ctx)
	}
	if err != nil {
		s.cfg.Logger.WarnContext(ctx, "Failed to invalidate permission cache", "share", share.ID, "error", err)
	}
}
