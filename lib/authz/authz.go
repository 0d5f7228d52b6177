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

// Package authz implements the access control evaluator gating every
// service-scoped read and write: platform roles first, then team
// ownership, then effective shares, then deny.
package authz

import (
	"context"
	"log/slog"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/confplane"
	"github.com/gravitational/confplane/api/types"
	"github.com/gravitational/confplane/lib/cache"
	"github.com/gravitational/confplane/lib/services"
	"github.com/gravitational/confplane/lib/utils"
)

// Resource identifies what an action touches. OwnerTeamID carries the
// owning team of the service; an empty Environment means a
// service-level action.
type Resource struct {
	// ServiceID is the service the resource belongs to.
	ServiceID string
	// OwnerTeamID is the team owning the service, empty for orphans.
	OwnerTeamID string
	// Environment scopes instance- and drift-level actions.
	Environment string
}

// grantSet is the cached union of a user's effective share grants on
// one service: permission -> environments it applies to, empty meaning
// every environment.
type grantSet struct {
	Permissions map[types.SharePermission][]string `json:"permissions"`
}

func (g grantSet) allows(permission types.SharePermission, environment string) bool {
	for _, granted := range []types.SharePermission{permission, types.PermissionAdmin} {
		envs, ok := g.Permissions[granted]
		if !ok {
			continue
		}
		if environment == "" || len(envs) == 0 {
			return true
		}
		for _, env := range envs {
			if env == environment {
				return true
			}
		}
	}
	return false
}

// EvaluatorConfig configures an Evaluator.
type EvaluatorConfig struct {
	// Shares reads share grants.
	Shares services.Shares
	// Fabric holds the permissions cache.
	Fabric *cache.Fabric
	// Clock overrides the clock in tests.
	Clock clockwork.Clock
	// Logger is the evaluator logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults checks and sets default values.
func (c *EvaluatorConfig) CheckAndSetDefaults() error {
	if c.Shares == nil {
		return trace.BadParameter("missing parameter Shares")
	}
	if c.Fabric == nil {
		return trace.BadParameter("missing parameter Fabric")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(confplane.ComponentKey, confplane.ComponentAuthz)
	}
	return nil
}

// Evaluator decides ALLOW/DENY for service-scoped actions and produces
// the query scope for list endpoints. Share sub-decisions are cached
// per (user, service) and invalidated on grant, revoke and ownership
// transfer.
type Evaluator struct {
	cfg EvaluatorConfig
}

// NewEvaluator returns a new access control evaluator.
func NewEvaluator(cfg EvaluatorConfig) (*Evaluator, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Evaluator{cfg: cfg}, nil
}

// Authorize returns nil when the user may perform the action requiring
// the given permission on the resource, and an AccessDenied error
// otherwise. Policy, first match wins: system or sys_admin callers are
// allowed; members of the owning team are allowed; a non-expired share
// granting the permission for the resource's environment allows;
// everything else denies.
func (e *Evaluator) Authorize(ctx context.Context, user types.UserContext, permission types.SharePermission, resource Resource) error {
	if user.IsSysAdmin() {
		return nil
	}
	if user.MemberOf(resource.OwnerTeamID) {
		return nil
	}

	grants, err := e.effectiveGrants(ctx, user, resource.ServiceID)
	if err != nil {
		return trace.Wrap(err)
	}
	if grants.allows(permission, resource.Environment) {
		return nil
	}
	return trace.AccessDenied("user %q is not allowed to %s on service %q", user.UserID, permission, resource.ServiceID)
}

// ScopeFor produces the query filter counterpart of Authorize for list
// endpoints: everything for administrators, otherwise the user's teams
// plus the services shared to them with the given permission.
func (e *Evaluator) ScopeFor(ctx context.Context, user types.UserContext, permission types.SharePermission) (types.AccessScope, error) {
	if user.IsSysAdmin() {
		return types.AccessScope{All: true}, nil
	}

	scope := types.AccessScope{TeamIDs: user.TeamIDs}
	shares, err := e.cfg.Shares.ListShares(ctx, types.ShareFilter{})
	if err != nil {
		return types.AccessScope{}, trace.Wrap(err)
	}
	now := e.cfg.Clock.Now()
	for _, share := range shares {
		if share.Expired(now) || !e.grantedTo(user, share) || !share.Grants(permission) {
			continue
		}
		if scope.SharedServices == nil {
			scope.SharedServices = make(map[string][]string)
		}
		envs, seen := scope.SharedServices[share.ServiceID]
		switch {
		case seen && len(envs) == 0:
			// Already unrestricted.
		case len(share.Environments) == 0:
			scope.SharedServices[share.ServiceID] = nil
		default:
			scope.SharedServices[share.ServiceID] = append(envs, share.Environments...)
		}
	}
	return scope, nil
}

func (e *Evaluator) grantedTo(user types.UserContext, share *types.ServiceShare) bool {
	switch share.GranteeType {
	case types.GranteeUser:
		return share.GranteeID == user.UserID
	case types.GranteeTeam:
		return user.MemberOf(share.GranteeID)
	default:
		return false
	}
}

// effectiveGrants returns the cached union of the user's share grants
// on the service, computing and caching it on a miss.
func (e *Evaluator) effectiveGrants(ctx context.Context, user types.UserContext, serviceID string) (grantSet, error) {
	key := cache.Key(user.UserID, serviceID)
	if data, err := e.cfg.Fabric.Get(ctx, cache.Permissions, key); err == nil {
		var grants grantSet
		if err := utils.FastUnmarshal(data, &grants); err == nil {
			return grants, nil
		}
	}

	shares, err := e.cfg.Shares.ListShares(ctx, types.ShareFilter{ServiceID: serviceID})
	if err != nil {
		return grantSet{}, trace.Wrap(err)
	}
	grants := grantSet{Permissions: make(map[types.SharePermission][]string)}
	now := e.cfg.Clock.Now()
	for _, share := range shares {
		if share.Expired(now) || !e.grantedTo(user, share) {
			continue
		}
		for _, permission := range share.Permissions {
			envs, seen := grants.Permissions[permission]
			switch {
			case seen && len(envs) == 0:
			case len(share.Environments) == 0:
				grants.Permissions[permission] = nil
			default:
				grants.Permissions[permission] = append(envs, share.Environments...)
			}
		}
	}

	if data, err := utils.FastMarshal(grants); err == nil {
		if err := e.cfg.Fabric.Put(ctx, cache.Permissions, key, data); err != nil {
			e.cfg.Logger.DebugContext(ctx, "Failed to cache permission decision", "key", key, "error", err)
		}
	}
	return grants, nil
}

// InvalidateUser drops the cached sub-decision of one user on one
// service, on every replica.
func (e *Evaluator) InvalidateUser(ctx context.Context, userID, serviceID string) error {
	return trace.Wrap(e.cfg.Fabric.Invalidate(ctx, cache.Permissions, cache.Key(userID, serviceID)))
}

// InvalidatePermissions clears every cached sub-decision on every
// replica. Used when the affected user set is not cheaply enumerable,
// e.g. team shares and ownership transfers.
func (e *Evaluator) InvalidatePermissions(ctx context.Context) error {
	return trace.Wrap(e.cfg.Fabric.Invalidate(ctx, cache.Permissions, ""))
}
