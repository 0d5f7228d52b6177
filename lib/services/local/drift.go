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

// DriftJournalService manages drift events in the backend. The
// open-episode marker at drift/open/<service>/<instance> is the "at
// most one non-terminal event per instance" index: opening an episode
// is an atomic Create of the marker.
type DriftJournalService struct {
	backend.Backend
}

// NewDriftJournalService returns a new drift journal.
func NewDriftJournalService(bk backend.Backend) *DriftJournalService {
	return &DriftJournalService{Backend: bk}
}

// CreateDriftEvent opens a new drift episode. A second non-terminal
// event for the same instance returns an AlreadyExists error.
func (s *DriftJournalService) CreateDriftEvent(ctx context.Context, event *types.DriftEvent) (*types.DriftEvent, error) {
	value, err := services.MarshalDriftEvent(event)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if event.Status.IsTerminal() {
		return nil, trace.BadParameter("drift event %s cannot open in terminal state %q", event.ID, event.Status)
	}

	if _, err := s.Create(ctx, backend.Item{
		Key:   driftOpenKey(event.ServiceID, event.InstanceID),
		Value: []byte(event.ID),
	}); err != nil {
		if trace.IsAlreadyExists(err) {
			return nil, trace.AlreadyExists("instance %s/%s already has an open drift event", event.ServiceID, event.InstanceID)
		}
		return nil, trace.Wrap(err)
	}

	if _, err := s.Create(ctx, backend.Item{
		Key:   driftEventKey(event.ID),
		Value: value,
	}); err != nil {
		_ = s.Delete(ctx, driftOpenKey(event.ServiceID, event.InstanceID))
		return nil, trace.Wrap(err)
	}
	return event.Clone(), nil
}

// GetDriftEvent returns an event by ID.
func (s *DriftJournalService) GetDriftEvent(ctx context.Context, id string) (*types.DriftEvent, error) {
	if id == "" {
		return nil, trace.BadParameter("missing parameter drift event ID")
	}
	item, err := s.Get(ctx, driftEventKey(id))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("drift event %q is not found", id)
		}
		return nil, trace.Wrap(err)
	}
	return services.UnmarshalDriftEvent(item.Value)
}

// GetOpenDriftEvent returns the non-terminal event for the instance.
func (s *DriftJournalService) GetOpenDriftEvent(ctx context.Context, serviceID, instanceID string) (*types.DriftEvent, error) {
	if serviceID == "" {
		return nil, trace.BadParameter("missing parameter service ID")
	}
	if instanceID == "" {
		return nil, trace.BadParameter("missing parameter instance ID")
	}
	marker, err := s.Get(ctx, driftOpenKey(serviceID, instanceID))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("instance %s/%s has no open drift event", serviceID, instanceID)
		}
		return nil, trace.Wrap(err)
	}
	return s.GetDriftEvent(ctx, string(marker.Value))
}

// UpdateDriftEvent replaces an event, dropping the open-episode marker
// when the event reaches a terminal state.
func (s *DriftJournalService) UpdateDriftEvent(ctx context.Context, event *types.DriftEvent) (*types.DriftEvent, error) {
	value, err := services.MarshalDriftEvent(event)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if _, err := s.Update(ctx, backend.Item{
		Key:   driftEventKey(event.ID),
		Value: value,
	}); err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("drift event %q is not found", event.ID)
		}
		return nil, trace.Wrap(err)
	}
	if event.Status.IsTerminal() {
		if err := s.Delete(ctx, driftOpenKey(event.ServiceID, event.InstanceID)); err != nil && !trace.IsNotFound(err) {
			return nil, trace.Wrap(err)
		}
	}
	return event.Clone(), nil
}

// ListDriftEvents returns events matching the filter.
func (s *DriftJournalService) ListDriftEvents(ctx context.Context, filter types.DriftEventFilter) ([]*types.DriftEvent, error) {
	startKey := backend.ExactKey(driftPrefix, driftEventsInfix)
	items, err := getRange(s.GetRange(ctx, startKey, backend.RangeEnd(startKey), backend.NoLimit))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var out []*types.DriftEvent
	for _, item := range items {
		event, err := services.UnmarshalDriftEvent(item.Value)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if filter.Match(event) {
			out = append(out, event)
		}
	}
	return out, nil
}
