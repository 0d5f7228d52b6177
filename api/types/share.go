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

// GranteeType discriminates who a share grants permissions to.
type GranteeType string

const (
	// GranteeTeam grants to every member of a team.
	GranteeTeam GranteeType = "team"
	// GranteeUser grants to a single user.
	GranteeUser GranteeType = "user"
)

// Parse attempts to interpret a value as a string representation of a
// GranteeType.
func (t *GranteeType) Parse(val string) error {
	switch GranteeType(val) {
	case GranteeTeam:
		*t = GranteeTeam
	case GranteeUser:
		*t = GranteeUser
	default:
		return trace.BadParameter("unknown grantee type: %q", val)
	}
	return nil
}

// SharePermission is a permission a share can grant on a service.
type SharePermission string

const (
	// PermissionViewService grants read of the service record.
	PermissionViewService SharePermission = "view_service"
	// PermissionViewInstance grants read of the service's instances.
	PermissionViewInstance SharePermission = "view_instance"
	// PermissionViewDrift grants read of the service's drift events.
	PermissionViewDrift SharePermission = "view_drift"
	// PermissionEdit grants mutation of the service, its instances and
	// drift lifecycle.
	PermissionEdit SharePermission = "edit"
	// PermissionAdmin grants every permission including share
	// management.
	PermissionAdmin SharePermission = "admin"
)

var sharePermissionVariants = [5]SharePermission{
	PermissionViewService,
	PermissionViewInstance,
	PermissionViewDrift,
	PermissionEdit,
	PermissionAdmin,
}

// Parse attempts to interpret a value as a string representation of a
// SharePermission.
func (p *SharePermission) Parse(val string) error {
	for _, variant := range sharePermissionVariants {
		if string(variant) == val {
			*p = variant
			return nil
		}
	}
	return trace.BadParameter("unknown share permission: %q", val)
}

// ServiceShare grants a subset of permissions on a service to a team or
// a user, optionally scoped to environments and bounded in time.
// Multiple shares compose by permission union.
type ServiceShare struct {
	// ID is the unique share ID.
	ID string `json:"id"`
	// ServiceID is the shared service.
	ServiceID string `json:"service_id"`
	// GranteeType says whether GranteeID names a team or a user.
	GranteeType GranteeType `json:"grantee_type"`
	// GranteeID is the team or user receiving the grant.
	GranteeID string `json:"grantee_id"`
	// Permissions is the non-empty permission subset granted.
	Permissions []SharePermission `json:"permissions"`
	// Environments optionally restricts the grant to environments.
	// Empty means all environments of the service.
	Environments []string `json:"environments,omitempty"`
	// Expires bounds the grant in time. Zero means no expiry.
	Expires time.Time `json:"expires,omitempty"`
	// GrantedBy is the actor that created the share.
	GrantedBy string `json:"granted_by,omitempty"`
	// CreatedAt is the creation timestamp.
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// CheckAndSetDefaults does basic validation and default setting.
func (s *ServiceShare) CheckAndSetDefaults() error {
	if s.ID == "" {
		return trace.BadParameter("service share missing ID")
	}
	if s.ServiceID == "" {
		return trace.BadParameter("service share %s missing service ID", s.ID)
	}
	if s.GranteeID == "" {
		return trace.BadParameter("service share %s missing grantee ID", s.ID)
	}
	var granteeType GranteeType
	if err := granteeType.Parse(string(s.GranteeType)); err != nil {
		return trace.Wrap(err)
	}
	if len(s.Permissions) == 0 {
		return trace.BadParameter("service share %s grants no permissions", s.ID)
	}
	for _, p := range s.Permissions {
		var perm SharePermission
		if err := perm.Parse(string(p)); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// Expired reports whether the share is past its expiry at the given
// time. Shares with zero expiry never expire.
func (s *ServiceShare) Expired(now time.Time) bool {
	return !s.Expires.IsZero() && !now.Before(s.Expires)
}

// Grants reports whether the share grants the permission. The admin
// permission implies every other permission.
func (s *ServiceShare) Grants(permission SharePermission) bool {
	for _, p := range s.Permissions {
		if p == permission || p == PermissionAdmin {
			return true
		}
	}
	return false
}

// AppliesTo reports whether the share covers the environment. An empty
// environment argument means a service-level check, which any share
// covers.
func (s *ServiceShare) AppliesTo(environment string) bool {
	if environment == "" || len(s.Environments) == 0 {
		return true
	}
	return slices.Contains(s.Environments, environment)
}

// Clone returns a deep copy of the share.
func (s *ServiceShare) Clone() *ServiceShare {
	out := *s
	out.Permissions = slices.Clone(s.Permissions)
	out.Environments = slices.Clone(s.Environments)
	return &out
}

// ShareFilter encodes filter params for service shares.
type ShareFilter struct {
	// ServiceID matches shares of the service when set.
	ServiceID string
	// GranteeType matches shares with the grantee type when set.
	GranteeType GranteeType
	// GranteeID matches shares granted to the principal when set.
	GranteeID string
}

// Match checks if a given share matches this filter.
func (f *ShareFilter) Match(share *ServiceShare) bool {
	if f.ServiceID != "" && share.ServiceID != f.ServiceID {
		return false
	}
	if f.GranteeType != "" && share.GranteeType != f.GranteeType {
		return false
	}
	if f.GranteeID != "" && share.GranteeID != f.GranteeID {
		return false
	}
	return true
}
