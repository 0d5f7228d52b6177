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

package inventory

import (
	"context"
	"log/slog"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/confplane"
	"github.com/gravitational/confplane/api/types"
	"github.com/gravitational/confplane/lib/authz"
	"github.com/gravitational/confplane/lib/services"
)

// DriftServiceConfig configures a DriftService.
type DriftServiceConfig struct {
	// Journal persists drift events.
	Journal services.DriftJournal
	// Registry resolves service ownership for access decisions.
	Registry services.Registry
	// Evaluator gates every read and transition.
	Evaluator *authz.Evaluator
	// Clock overrides the clock in tests.
	Clock clockwork.Clock
	// Logger is the service logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults checks and sets default values.
func (c *DriftServiceConfig) CheckAndSetDefaults() error {
	if c.Journal == nil {
		return trace.BadParameter("missing parameter Journal")
	}
	if c.Registry == nil {
		return trace.BadParameter("missing parameter Registry")
	}
	if c.Evaluator == nil {
		return trace.BadParameter("missing parameter Evaluator")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(confplane.ComponentKey, confplane.ComponentDrift)
	}
	return nil
}

// DriftService exposes the operator-facing drift lifecycle:
// acknowledging, resolving and ignoring episodes, plus scoped listing
// and statistics. The ingest pipeline and the reaper transition
// episodes directly; everything actor-driven goes through here.
type DriftService struct {
	cfg DriftServiceConfig
}

// NewDriftService returns a new drift lifecycle service.
func NewDriftService(cfg DriftServiceConfig) (*DriftService, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &DriftService{cfg: cfg}, nil
}

// GetEvent returns one drift event the user may view.
func (s *DriftService) GetEvent(ctx context.Context, user types.UserContext, eventID string) (*types.DriftEvent, error) {
	event, err := s.cfg.Journal.GetDriftEvent(ctx, eventID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.authorize(ctx, user, types.PermissionViewDrift, event); err != nil {
		return nil, trace.Wrap(err)
	}
	return event, nil
}

// ListEvents returns the drift events matching the filter that fall
// within the user's visibility scope.
func (s *DriftService) ListEvents(ctx context.Context, user types.UserContext, filter types.DriftEventFilter) ([]*types.DriftEvent, error) {
	scope, err := s.cfg.Evaluator.ScopeFor(ctx, user, types.PermissionViewDrift)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if scope.Empty() {
		return nil, nil
	}
	events, err := s.cfg.Journal.ListDriftEvents(ctx, filter)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if scope.All {
		return events, nil
	}

	owners, err := s.ownerIndex(ctx)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := events[:0]
	for _, event := range events {
		if scope.Allows(event.ServiceID, owners[event.ServiceID], event.Environment) {
			out = append(out, event)
		}
	}
	return out, nil
}

// Statistics aggregates the drift events within the user's visibility
// scope.
func (s *DriftService) Statistics(ctx context.Context, user types.UserContext) (*types.DriftStatistics, error) {
	events, err := s.ListEvents(ctx, user, types.DriftEventFilter{})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	stats := &types.DriftStatistics{
		ByStatus:   make(map[types.DriftStatus]int),
		BySeverity: make(map[types.DriftSeverity]int),
	}
	affected := make(map[string]struct{})
	for _, event := range events {
		stats.Total++
		stats.ByStatus[event.Status]++
		stats.BySeverity[event.Severity]++
		if !event.Status.IsTerminal() {
			stats.Unresolved++
			affected[event.ServiceID+"/"+event.InstanceID] = struct{}{}
		}
	}
	stats.AffectedInstances = len(affected)
	return stats, nil
}

// Acknowledge marks an episode as seen by an operator.
func (s *DriftService) Acknowledge(ctx context.Context, user types.UserContext, eventID, notes string) (*types.DriftEvent, error) {
	return s.transition(ctx, user, eventID, types.DriftStatusAcknowledged, notes)
}

// StartResolving marks an episode as under remediation.
func (s *DriftService) StartResolving(ctx context.Context, user types.UserContext, eventID, notes string) (*types.DriftEvent, error) {
	return s.transition(ctx, user, eventID, types.DriftStatusResolving, notes)
}

// Resolve closes an episode by hand, attributed to the acting user.
func (s *DriftService) Resolve(ctx context.Context, user types.UserContext, eventID, notes string) (*types.DriftEvent, error) {
	return s.transition(ctx, user, eventID, types.DriftStatusResolved, notes)
}

// Ignore dismisses an episode.
func (s *DriftService) Ignore(ctx context.Context, user types.UserContext, eventID, notes string) (*types.DriftEvent, error) {
	return s.transition(ctx, user, eventID, types.DriftStatusIgnored, notes)
}

func (s *DriftService) transition(ctx context.Context, user types.UserContext, eventID string, next types.DriftStatus, notes string) (*types.DriftEvent, error) {
	event, err := s.cfg.Journal.GetDriftEvent(ctx, eventID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.authorize(ctx, user, types.PermissionEdit, event); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := event.Transition(next, user.UserID, s.cfg.Clock.Now().UTC()); err != nil {
		return nil, trace.Wrap(err)
	}
	if notes != "" {
		event.Notes = notes
	}
	updated, err := s.cfg.Journal.UpdateDriftEvent(ctx, event)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	s.cfg.Logger.InfoContext(ctx, "Drift event transitioned",
		"event", event.ID,
		"service", event.ServiceID,
		"instance", event.InstanceID,
		"status", next,
		"actor", user.UserID,
	)
	return updated, nil
}

func (s *DriftService) authorize(ctx context.Context, user types.UserContext, permission types.SharePermission, event *types.DriftEvent) error {
	resource := authz.Resource{
		ServiceID:   event.ServiceID,
		Environment: event.Environment,
	}
	// The owner on the event is a detection-time snapshot; access
	// follows the current owner.
	if svc, err := s.cfg.Registry.GetApplicationService(ctx, event.ServiceID); err == nil {
		resource.OwnerTeamID = svc.OwnerTeamID
	} else if !trace.IsNotFound(err) {
		return trace.Wrap(err)
	}
	return trace.Wrap(s.cfg.Evaluator.Authorize(ctx, user, permission, resource))
}

// ownerIndex maps service IDs to their current owner team.
func (s *DriftService) ownerIndex(ctx context.Context) (map[string]string, error) {
	svcs, err := s.cfg.Registry.ListApplicationServices(ctx, types.ServiceFilter{})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	owners := make(map[string]string, len(svcs))
	for _, svc := range svcs {
		owners[svc.ID] = svc.OwnerTeamID
	}
	return owners, nil
}
