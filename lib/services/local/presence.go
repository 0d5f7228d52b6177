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

// PresenceService manages service instance projections in the backend.
type PresenceService struct {
	backend.Backend
}

// NewPresenceService returns a new instance presence service.
func NewPresenceService(bk backend.Backend) *PresenceService {
	return &PresenceService{Backend: bk}
}

// UpsertInstance creates or replaces an instance projection.
func (s *PresenceService) UpsertInstance(ctx context.Context, instance *types.ServiceInstance) (*types.ServiceInstance, error) {
	value, err := services.MarshalServiceInstance(instance)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if _, err := s.Put(ctx, backend.Item{
		Key:   instanceKey(instance.ServiceID, instance.InstanceID),
		Value: value,
	}); err != nil {
		return nil, trace.Wrap(err)
	}
	return instance.Clone(), nil
}

// GetInstance returns one instance projection.
func (s *PresenceService) GetInstance(ctx context.Context, serviceID, instanceID string) (*types.ServiceInstance, error) {
	if serviceID == "" {
		return nil, trace.BadParameter("missing parameter service ID")
	}
	if instanceID == "" {
		return nil, trace.BadParameter("missing parameter instance ID")
	}
	item, err := s.Get(ctx, instanceKey(serviceID, instanceID))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("instance %s/%s is not found", serviceID, instanceID)
		}
		return nil, trace.Wrap(err)
	}
	return services.UnmarshalServiceInstance(item.Value)
}

// ListInstances returns instances matching the filter. When the filter
// carries a service ID the scan is bounded to that service's range.
func (s *PresenceService) ListInstances(ctx context.Context, filter types.InstanceFilter) ([]*types.ServiceInstance, error) {
	var startKey backend.Key
	if filter.ServiceID != "" {
		startKey = backend.ExactKey(instancesPrefix, filter.ServiceID)
	} else {
		startKey = backend.ExactKey(instancesPrefix)
	}
	items, err := getRange(s.GetRange(ctx, startKey, backend.RangeEnd(startKey), backend.NoLimit))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var out []*types.ServiceInstance
	for _, item := range items {
		instance, err := services.UnmarshalServiceInstance(item.Value)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if filter.Match(instance) {
			out = append(out, instance)
		}
	}
	return out, nil
}

// DeleteInstance removes an instance projection.
func (s *PresenceService) DeleteInstance(ctx context.Context, serviceID, instanceID string) error {
	if serviceID == "" {
		return trace.BadParameter("missing parameter service ID")
	}
	if instanceID == "" {
		return trace.BadParameter("missing parameter instance ID")
	}
	if err := s.Delete(ctx, instanceKey(serviceID, instanceID)); err != nil {
		if trace.IsNotFound(err) {
			return trace.NotFound("instance %s/%s is not found", serviceID, instanceID)
		}
		return trace.Wrap(err)
	}
	return nil
}
