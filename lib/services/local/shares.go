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

// SharesService manages service share grants in the backend. Shares
// with an expiry are stored with a matching item expiry, so revoked and
// lapsed grants disappear from reads without a sweeper.
type SharesService struct {
	backend.Backend
}

// NewSharesService returns a new shares service.
func NewSharesService(bk backend.Backend) *SharesService {
	return &SharesService{Backend: bk}
}

// CreateShare records a new grant.
func (s *SharesService) CreateShare(ctx context.Context, share *types.ServiceShare) (*types.ServiceShare, error) {
	value, err := services.MarshalServiceShare(share)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if _, err := s.Create(ctx, backend.Item{
		Key:     shareKey(share.ServiceID, share.ID),
		Value:   value,
		Expires: share.Expires,
	}); err != nil {
		if trace.IsAlreadyExists(err) {
			return nil, trace.AlreadyExists("share %q already exists", share.ID)
		}
		return nil, trace.Wrap(err)
	}
	return share.Clone(), nil
}

// GetShare returns a share by service and share ID.
func (s *SharesService) GetShare(ctx context.Context, serviceID, shareID string) (*types.ServiceShare, error) {
	if serviceID == "" {
		return nil, trace.BadParameter("missing parameter service ID")
	}
	if shareID == "" {
		return nil, trace.BadParameter("missing parameter share ID")
	}
	item, err := s.Get(ctx, shareKey(serviceID, shareID))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("share %q is not found", shareID)
		}
		return nil, trace.Wrap(err)
	}
	return services.UnmarshalServiceShare(item.Value)
}

// ListShares returns shares matching the filter. When the filter
// carries a service ID the scan is bounded to that service's range.
func (s *SharesService) ListShares(ctx context.Context, filter types.ShareFilter) ([]*types.ServiceShare, error) {
	var startKey backend.Key
	if filter.ServiceID != "" {
		startKey = backend.ExactKey(sharesPrefix, filter.ServiceID)
	} else {
		startKey = backend.ExactKey(sharesPrefix)
	}
	items, err := getRange(s.GetRange(ctx, startKey, backend.RangeEnd(startKey), backend.NoLimit))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var out []*types.ServiceShare
	for _, item := range items {
		share, err := services.UnmarshalServiceShare(item.Value)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if filter.Match(share) {
			out = append(out, share)
		}
	}
	return out, nil
}

// DeleteShare revokes a grant.
func (s *SharesService) DeleteShare(ctx context.Context, serviceID, shareID string) error {
	if serviceID == "" {
		return trace.BadParameter("missing parameter service ID")
	}
	if shareID == "" {
		return trace.BadParameter("missing parameter share ID")
	}
	if err := s.Delete(ctx, shareKey(serviceID, shareID)); err != nil {
		if trace.IsNotFound(err) {
			return trace.NotFound("share %q is not found", shareID)
		}
		return trace.Wrap(err)
	}
	return nil
}
