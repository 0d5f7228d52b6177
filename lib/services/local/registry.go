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

// RegistryService manages application service records in the backend.
type RegistryService struct {
	backend.Backend
}

// NewRegistryService returns a new application service registry.
func NewRegistryService(bk backend.Backend) *RegistryService {
	return &RegistryService{Backend: bk}
}

// CreateApplicationService creates a new service, enforcing ID and
// display name uniqueness.
func (s *RegistryService) CreateApplicationService(ctx context.Context, svc *types.ApplicationService) (*types.ApplicationService, error) {
	value, err := services.MarshalApplicationService(svc)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	// The name marker is the displayName uniqueness index. Created
	// first so a concurrent create of the same name loses cleanly.
	if _, err := s.Create(ctx, backend.Item{
		Key:   serviceNameKey(svc.DisplayName),
		Value: []byte(svc.ID),
	}); err != nil {
		if trace.IsAlreadyExists(err) {
			return nil, trace.AlreadyExists("display name %q is already in use", svc.DisplayName)
		}
		return nil, trace.Wrap(err)
	}

	lease, err := s.Create(ctx, backend.Item{
		Key:   serviceKey(svc.ID),
		Value: value,
	})
	if err != nil {
		// Release the marker so the name is not leaked.
		_ = s.Delete(ctx, serviceNameKey(svc.DisplayName))
		if trace.IsAlreadyExists(err) {
			return nil, trace.AlreadyExists("service %q already exists", svc.ID)
		}
		return nil, trace.Wrap(err)
	}

	out := svc.Clone()
	out.Revision = lease.Revision
	return out, nil
}

// UpdateApplicationService updates an existing service guarded by its
// revision, maintaining the display name index when the name changes.
func (s *RegistryService) UpdateApplicationService(ctx context.Context, svc *types.ApplicationService) (*types.ApplicationService, error) {
	if svc.Revision == "" {
		return nil, trace.BadParameter("service %q is missing the storage revision", svc.ID)
	}
	existing, err := s.GetApplicationService(ctx, svc.ID)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	if existing.DisplayName != svc.DisplayName {
		if _, err := s.Create(ctx, backend.Item{
			Key:   serviceNameKey(svc.DisplayName),
			Value: []byte(svc.ID),
		}); err != nil {
			if trace.IsAlreadyExists(err) {
				return nil, trace.AlreadyExists("display name %q is already in use", svc.DisplayName)
			}
			return nil, trace.Wrap(err)
		}
	}

	value, err := services.MarshalApplicationService(svc)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	lease, err := s.ConditionalUpdate(ctx, backend.Item{
		Key:      serviceKey(svc.ID),
		Value:    value,
		Revision: svc.Revision,
	})
	if err != nil {
		if existing.DisplayName != svc.DisplayName {
			_ = s.Delete(ctx, serviceNameKey(svc.DisplayName))
		}
		return nil, trace.Wrap(err)
	}

	if existing.DisplayName != svc.DisplayName {
		if err := s.Delete(ctx, serviceNameKey(existing.DisplayName)); err != nil && !trace.IsNotFound(err) {
			return nil, trace.Wrap(err)
		}
	}

	out := svc.Clone()
	out.Revision = lease.Revision
	return out, nil
}

// GetApplicationService returns a service by ID.
func (s *RegistryService) GetApplicationService(ctx context.Context, id string) (*types.ApplicationService, error) {
	if id == "" {
		return nil, trace.BadParameter("missing parameter service ID")
	}
	item, err := s.Get(ctx, serviceKey(id))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("service %q is not found", id)
		}
		return nil, trace.Wrap(err)
	}
	return services.UnmarshalApplicationService(item.Value, item.Revision)
}

// GetApplicationServiceByName resolves a service by its unique display
// name.
func (s *RegistryService) GetApplicationServiceByName(ctx context.Context, displayName string) (*types.ApplicationService, error) {
	if displayName == "" {
		return nil, trace.BadParameter("missing parameter display name")
	}
	marker, err := s.Get(ctx, serviceNameKey(displayName))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("service named %q is not found", displayName)
		}
		return nil, trace.Wrap(err)
	}
	return s.GetApplicationService(ctx, string(marker.Value))
}

// ListApplicationServices returns services matching the filter.
func (s *RegistryService) ListApplicationServices(ctx context.Context, filter types.ServiceFilter) ([]*types.ApplicationService, error) {
	startKey := backend.ExactKey(servicesPrefix, serviceItemsInfix)
	items, err := getRange(s.GetRange(ctx, startKey, backend.RangeEnd(startKey), backend.NoLimit))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var out []*types.ApplicationService
	for _, item := range items {
		svc, err := services.UnmarshalApplicationService(item.Value, item.Revision)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if filter.Match(svc) {
			out = append(out, svc)
		}
	}
	return out, nil
}

// DeleteApplicationService removes a service and its display name
// marker.
func (s *RegistryService) DeleteApplicationService(ctx context.Context, id string) error {
	svc, err := s.GetApplicationService(ctx, id)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := s.Delete(ctx, serviceKey(id)); err != nil {
		return trace.Wrap(err)
	}
	if err := s.Delete(ctx, serviceNameKey(svc.DisplayName)); err != nil && !trace.IsNotFound(err) {
		return trace.Wrap(err)
	}
	return nil
}
