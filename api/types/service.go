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

// Package types defines the resources managed by the configuration
// control plane and the filters used to query them.
package types

import (
	"slices"
	"time"

	"github.com/gravitational/trace"
)

// ServiceLifecycle is the lifecycle stage of an application service.
type ServiceLifecycle string

const (
	// LifecycleActive marks a service that is deployed and managed.
	LifecycleActive ServiceLifecycle = "active"
	// LifecycleDeprecated marks a service scheduled for retirement.
	// Deprecated services still report heartbeats.
	LifecycleDeprecated ServiceLifecycle = "deprecated"
	// LifecycleRetired marks a service that no longer runs anywhere.
	// Retired services reject ownership transfers.
	LifecycleRetired ServiceLifecycle = "retired"
)

var lifecycleVariants = [3]ServiceLifecycle{
	LifecycleActive,
	LifecycleDeprecated,
	LifecycleRetired,
}

// Parse attempts to interpret a value as a string representation of a
// ServiceLifecycle.
func (l *ServiceLifecycle) Parse(val string) error {
	for _, variant := range lifecycleVariants {
		if string(variant) == val {
			*l = variant
			return nil
		}
	}
	return trace.BadParameter("unknown service lifecycle: %q", val)
}

// ApplicationService is the identity of a deployable service managed by
// the control plane. Instances report heartbeats against it and drift is
// classified per service and environment.
type ApplicationService struct {
	// ID is the immutable slug identifying the service.
	ID string `json:"id"`
	// DisplayName is the human-facing name, unique across the plane.
	DisplayName string `json:"display_name"`
	// OwnerTeamID is the owning team. Empty marks an orphan service,
	// which only ownership transfer or a SYS_ADMIN edit can adopt.
	OwnerTeamID string `json:"owner_team_id,omitempty"`
	// Environments is the non-empty set of environments the service
	// deploys to.
	Environments []string `json:"environments"`
	// Tags are free-form labels used for grouping and search.
	Tags []string `json:"tags,omitempty"`
	// Lifecycle is the lifecycle stage of the service.
	Lifecycle ServiceLifecycle `json:"lifecycle"`
	// CreatedAt is the creation timestamp.
	CreatedAt time.Time `json:"created_at,omitempty"`
	// CreatedBy is the actor that created the service.
	CreatedBy string `json:"created_by,omitempty"`
	// UpdatedAt is the last mutation timestamp.
	UpdatedAt time.Time `json:"updated_at,omitempty"`
	// UpdatedBy is the actor behind the last mutation.
	UpdatedBy string `json:"updated_by,omitempty"`
	// Revision is the storage revision used for optimistic locking.
	Revision string `json:"-"`
}

// NewApplicationService creates a new active service with the given
// identity and environments.
func NewApplicationService(id, displayName, ownerTeamID string, environments []string) (*ApplicationService, error) {
	svc := &ApplicationService{
		ID:           id,
		DisplayName:  displayName,
		OwnerTeamID:  ownerTeamID,
		Environments: environments,
	}
	if err := svc.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return svc, nil
}

// CheckAndSetDefaults does basic validation and default setting.
func (s *ApplicationService) CheckAndSetDefaults() error {
	if s.ID == "" {
		return trace.BadParameter("application service missing ID")
	}
	if s.DisplayName == "" {
		return trace.BadParameter("application service %q missing display name", s.ID)
	}
	if len(s.Environments) == 0 {
		return trace.BadParameter("application service %q must list at least one environment", s.ID)
	}
	for _, env := range s.Environments {
		if env == "" {
			return trace.BadParameter("application service %q lists an empty environment", s.ID)
		}
	}
	if s.Lifecycle == "" {
		s.Lifecycle = LifecycleActive
	}
	var lifecycle ServiceLifecycle
	if err := lifecycle.Parse(string(s.Lifecycle)); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// HasEnvironment reports whether the service deploys to the given
// environment.
func (s *ApplicationService) HasEnvironment(env string) bool {
	return slices.Contains(s.Environments, env)
}

// IsOrphan reports whether the service has no owning team.
func (s *ApplicationService) IsOrphan() bool {
	return s.OwnerTeamID == ""
}

// Clone returns a deep copy of the service.
func (s *ApplicationService) Clone() *ApplicationService {
	out := *s
	out.Environments = slices.Clone(s.Environments)
	out.Tags = slices.Clone(s.Tags)
	return &out
}

// ServiceFilter encodes filter params for application services.
type ServiceFilter struct {
	// ID matches the exact service ID when set.
	ID string
	// OwnerTeamID matches services owned by the team when set.
	OwnerTeamID string
	// Lifecycle matches services in the given lifecycle stage when set.
	Lifecycle ServiceLifecycle
	// Tag matches services carrying the tag when set.
	Tag string
}

// key values for map encoding of service filter.
const (
	serviceFilterKeyID          = "id"
	serviceFilterKeyOwnerTeamID = "owner_team_id"
	serviceFilterKeyLifecycle   = "lifecycle"
	serviceFilterKeyTag         = "tag"
)

// IntoMap copies ServiceFilter values into a map.
func (f *ServiceFilter) IntoMap() map[string]string {
	m := make(map[string]string)
	if f.ID != "" {
		m[serviceFilterKeyID] = f.ID
	}
	if f.OwnerTeamID != "" {
		m[serviceFilterKeyOwnerTeamID] = f.OwnerTeamID
	}
	if f.Lifecycle != "" {
		m[serviceFilterKeyLifecycle] = string(f.Lifecycle)
	}
	if f.Tag != "" {
		m[serviceFilterKeyTag] = f.Tag
	}
	return m
}

// FromMap copies values from a map into this ServiceFilter value.
func (f *ServiceFilter) FromMap(m map[string]string) error {
	for key, val := range m {
		switch key {
		case serviceFilterKeyID:
			f.ID = val
		case serviceFilterKeyOwnerTeamID:
			f.OwnerTeamID = val
		case serviceFilterKeyLifecycle:
			if err := f.Lifecycle.Parse(val); err != nil {
				return trace.Wrap(err)
			}
		case serviceFilterKeyTag:
			f.Tag = val
		default:
			return trace.BadParameter("unknown filter key %s", key)
		}
	}
	return nil
}

// Match checks if a given application service matches this filter.
func (f *ServiceFilter) Match(svc *ApplicationService) bool {
	if f.ID != "" && svc.ID != f.ID {
		return false
	}
	if f.OwnerTeamID != "" && svc.OwnerTeamID != f.OwnerTeamID {
		return false
	}
	if f.Lifecycle != "" && svc.Lifecycle != f.Lifecycle {
		return false
	}
	if f.Tag != "" && !slices.Contains(svc.Tags, f.Tag) {
		return false
	}
	return true
}
