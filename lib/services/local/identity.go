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

// IdentityService stores projections of identity provider users and
// teams. The provider stays authoritative; these records only exist so
// approval snapshots and local development do not depend on it being
// reachable.
type IdentityService struct {
	backend.Backend
}

// NewIdentityService returns a new identity projection service.
func NewIdentityService(bk backend.Backend) *IdentityService {
	return &IdentityService{Backend: bk}
}

// UpsertUser stores a user projection.
func (s *IdentityService) UpsertUser(ctx context.Context, user *types.IamUser) (*types.IamUser, error) {
	value, err := services.MarshalIamUser(user)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if _, err := s.Put(ctx, backend.Item{
		Key:   userKey(user.ID),
		Value: value,
	}); err != nil {
		return nil, trace.Wrap(err)
	}
	return user.Clone(), nil
}

// GetUser returns a user projection by ID.
func (s *IdentityService) GetUser(ctx context.Context, id string) (*types.IamUser, error) {
	if id == "" {
		return nil, trace.BadParameter("missing parameter user ID")
	}
	item, err := s.Get(ctx, userKey(id))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("user %q is not found", id)
		}
		return nil, trace.Wrap(err)
	}
	return services.UnmarshalIamUser(item.Value)
}

// UpsertTeam stores a team projection.
func (s *IdentityService) UpsertTeam(ctx context.Context, team *types.IamTeam) (*types.IamTeam, error) {
	value, err := services.MarshalIamTeam(team)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if _, err := s.Put(ctx, backend.Item{
		Key:   teamKey(team.ID),
		Value: value,
	}); err != nil {
		return nil, trace.Wrap(err)
	}
	return team.Clone(), nil
}

// GetTeam returns a team projection by ID.
func (s *IdentityService) GetTeam(ctx context.Context, id string) (*types.IamTeam, error) {
	if id == "" {
		return nil, trace.BadParameter("missing parameter team ID")
	}
	item, err := s.Get(ctx, teamKey(id))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("team %q is not found", id)
		}
		return nil, trace.Wrap(err)
	}
	return services.UnmarshalIamTeam(item.Value)
}

// ListTeams returns all team projections.
func (s *IdentityService) ListTeams(ctx context.Context) ([]*types.IamTeam, error) {
	startKey := backend.ExactKey(identityPrefix, identityTeamsInfix)
	items, err := getRange(s.GetRange(ctx, startKey, backend.RangeEnd(startKey), backend.NoLimit))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var out []*types.IamTeam
	for _, item := range items {
		team, err := services.UnmarshalIamTeam(item.Value)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, team)
	}
	return out, nil
}
