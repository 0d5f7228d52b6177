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
	"slices"
	"time"

	"github.com/gravitational/trace"
)

// RoleSysAdmin is the platform administrator role. Holders bypass
// ownership and share checks and satisfy the sys_admin approval gate.
const RoleSysAdmin = "sys_admin"

// IamUser is the read-only projection of an identity provider user.
// The identity provider remains the source of truth; the plane caches
// the attributes needed for access control.
type IamUser struct {
	// ID is the user ID in the identity provider.
	ID string `json:"id"`
	// DisplayName is the human-facing name.
	DisplayName string `json:"display_name,omitempty"`
	// Email is the primary email.
	Email string `json:"email,omitempty"`
	// TeamIDs are the teams the user belongs to.
	TeamIDs []string `json:"team_ids,omitempty"`
	// ManagerID is the user's line manager.
	ManagerID string `json:"manager_id,omitempty"`
	// Roles are the platform roles granted to the user.
	Roles []string `json:"roles,omitempty"`
	// SyncedAt is when the projection was last refreshed.
	SyncedAt time.Time `json:"synced_at,omitempty"`
}

// CheckAndSetDefaults does basic validation and default setting.
func (u *IamUser) CheckAndSetDefaults() error {
	if u.ID == "" {
		return trace.BadParameter("user projection missing ID")
	}
	return nil
}

// Context derives the access-control context for the user.
func (u *IamUser) Context() UserContext {
	return UserContext{
		UserID:    u.ID,
		TeamIDs:   slices.Clone(u.TeamIDs),
		ManagerID: u.ManagerID,
		Roles:     slices.Clone(u.Roles),
	}
}

// Clone returns a deep copy of the user projection.
func (u *IamUser) Clone() *IamUser {
	out := *u
	out.TeamIDs = slices.Clone(u.TeamIDs)
	out.Roles = slices.Clone(u.Roles)
	return &out
}

// IamTeam is the read-only projection of an identity provider team.
type IamTeam struct {
	// ID is the team ID in the identity provider.
	ID string `json:"id"`
	// DisplayName is the human-facing name.
	DisplayName string `json:"display_name,omitempty"`
	// MemberIDs are the user IDs belonging to the team.
	MemberIDs []string `json:"member_ids,omitempty"`
	// SyncedAt is when the projection was last refreshed.
	SyncedAt time.Time `json:"synced_at,omitempty"`
}

// CheckAndSetDefaults does basic validation and default setting.
func (t *IamTeam) CheckAndSetDefaults() error {
	if t.ID == "" {
		return trace.BadParameter("team projection missing ID")
	}
	return nil
}

// Clone returns a deep copy of the team projection.
func (t *IamTeam) Clone() *IamTeam {
	out := *t
	out.MemberIDs = slices.Clone(t.MemberIDs)
	return &out
}

// UserContext carries the identity attributes of the caller of an
// operation, derived from validated credentials. Every mutating call
// threads it through explicitly so audit fields are deterministic.
type UserContext struct {
	// UserID is the calling user.
	UserID string `json:"user_id"`
	// TeamIDs are the caller's teams.
	TeamIDs []string `json:"team_ids,omitempty"`
	// ManagerID is the caller's line manager.
	ManagerID string `json:"manager_id,omitempty"`
	// Roles are the caller's platform roles.
	Roles []string `json:"roles,omitempty"`
	// System marks internal actors (ingest pipeline, reaper,
	// compensator) that bypass access control.
	System bool `json:"system,omitempty"`
}

// SystemUser is the actor attributed to internal operations.
func SystemUser(name string) UserContext {
	return UserContext{UserID: name, System: true}
}

// HasRole reports whether the caller holds the role.
func (c UserContext) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

// IsSysAdmin reports whether the caller is a platform administrator.
func (c UserContext) IsSysAdmin() bool {
	return c.System || c.HasRole(RoleSysAdmin)
}

// MemberOf reports whether the caller belongs to the team.
func (c UserContext) MemberOf(teamID string) bool {
	return teamID != "" && slices.Contains(c.TeamIDs, teamID)
}

// AccessScope is the query-filtering counterpart of an allow/deny
// decision: the set of services a caller may see, produced by the
// access evaluator and merged into repository list predicates.
type AccessScope struct {
	// All short-circuits filtering for administrators.
	All bool `json:"all,omitempty"`
	// TeamIDs grants visibility of services owned by these teams.
	TeamIDs []string `json:"team_ids,omitempty"`
	// SharedServices grants visibility of specific services through
	// shares, optionally restricted to environments. An empty
	// environment list means all environments.
	SharedServices map[string][]string `json:"shared_services,omitempty"`
}

// Allows reports whether a resource belonging to the service (owned by
// ownerTeamID, in environment) is visible in this scope. An empty
// environment means a service-level check.
func (s AccessScope) Allows(serviceID, ownerTeamID, environment string) bool {
	if s.All {
		return true
	}
	if ownerTeamID != "" && slices.Contains(s.TeamIDs, ownerTeamID) {
		return true
	}
	envs, ok := s.SharedServices[serviceID]
	if !ok {
		return false
	}
	if environment == "" || len(envs) == 0 {
		return true
	}
	return slices.Contains(envs, environment)
}

// Empty reports whether the scope grants no visibility at all.
func (s AccessScope) Empty() bool {
	return !s.All && len(s.TeamIDs) == 0 && len(s.SharedServices) == 0
}
