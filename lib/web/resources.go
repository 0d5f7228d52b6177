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

package web

import (
	"net/http"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/gravitational/confplane/api/types"
	"github.com/gravitational/confplane/lib/authz"
)

func (h *Handler) listServices(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	user, err := callerFrom(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	scope, err := h.cfg.Evaluator.ScopeFor(r.Context(), user, types.PermissionViewService)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if scope.Empty() {
		return []*types.ApplicationService{}, nil
	}

	var filter types.ServiceFilter
	query := r.URL.Query()
	filter.OwnerTeamID = query.Get("ownerTeamId")
	filter.Tag = query.Get("tag")
	if val := query.Get("lifecycle"); val != "" {
		if err := filter.Lifecycle.Parse(val); err != nil {
			return nil, trace.Wrap(err)
		}
	}

	all, err := h.cfg.Registry.ListApplicationServices(r.Context(), filter)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if scope.All {
		return all, nil
	}
	out := all[:0]
	for _, svc := range all {
		if scope.Allows(svc.ID, svc.OwnerTeamID, "") {
			out = append(out, svc)
		}
	}
	return out, nil
}

func (h *Handler) createService(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	user, err := callerFrom(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var svc types.ApplicationService
	if err := readJSON(r, &svc); err != nil {
		return nil, trace.Wrap(err)
	}
	// Only administrators register services outside their own teams;
	// orphan registration is an administrator action too.
	if !user.IsSysAdmin() && !user.MemberOf(svc.OwnerTeamID) {
		return nil, trace.AccessDenied("user %q may not register a service owned by team %q", user.UserID, svc.OwnerTeamID)
	}
	if err := svc.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	svc.CreatedAt = h.cfg.Clock.Now().UTC()
	svc.CreatedBy = user.UserID
	svc.UpdatedAt = svc.CreatedAt
	svc.UpdatedBy = user.UserID

	created, err := h.cfg.Registry.CreateApplicationService(r.Context(), &svc)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	h.cfg.Logger.InfoContext(r.Context(), "Service registered",
		"service", created.ID,
		"owner_team", created.OwnerTeamID,
		"user", user.UserID,
	)
	return created, nil
}

func (h *Handler) getService(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	user, err := callerFrom(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	svc, err := h.cfg.Registry.GetApplicationService(r.Context(), p.ByName("id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := h.cfg.Evaluator.Authorize(r.Context(), user, types.PermissionViewService, authz.Resource{
		ServiceID:   svc.ID,
		OwnerTeamID: svc.OwnerTeamID,
	}); err != nil {
		return nil, trace.Wrap(err)
	}
	return svc, nil
}

func (h *Handler) updateService(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	user, err := callerFrom(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	current, err := h.cfg.Registry.GetApplicationService(r.Context(), p.ByName("id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := h.cfg.Evaluator.Authorize(r.Context(), user, types.PermissionEdit, authz.Resource{
		ServiceID:   current.ID,
		OwnerTeamID: current.OwnerTeamID,
	}); err != nil {
		return nil, trace.Wrap(err)
	}

	var update types.ApplicationService
	if err := readJSON(r, &update); err != nil {
		return nil, trace.Wrap(err)
	}
	if update.ID != "" && update.ID != current.ID {
		return nil, trace.BadParameter("service ID is immutable")
	}
	// Ownership moves through the approval workflow, never through a
	// plain edit. Administrators may adopt orphans directly.
	if update.OwnerTeamID != current.OwnerTeamID {
		if !user.IsSysAdmin() || !current.IsOrphan() {
			return nil, trace.BadParameter("service ownership changes require an approved transfer request")
		}
	}

	next := current.Clone()
	next.DisplayName = update.DisplayName
	next.OwnerTeamID = update.OwnerTeamID
	next.Environments = update.Environments
	next.Tags = update.Tags
	next.Lifecycle = update.Lifecycle
	if err := next.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	next.UpdatedAt = h.cfg.Clock.Now().UTC()
	next.UpdatedBy = user.UserID

	updated, err := h.cfg.Registry.UpdateApplicationService(r.Context(), next)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return updated, nil
}

func (h *Handler) deleteService(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	user, err := callerFrom(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if !user.IsSysAdmin() {
		return nil, trace.AccessDenied("service deletion requires the %s role", types.RoleSysAdmin)
	}
	serviceID := p.ByName("id")
	if _, err := h.cfg.Registry.GetApplicationService(r.Context(), serviceID); err != nil {
		return nil, trace.Wrap(err)
	}

	// A service with live instances or open drift is still in use.
	instances, err := h.cfg.Presence.ListInstances(r.Context(), types.InstanceFilter{ServiceID: serviceID})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if len(instances) > 0 {
		return nil, trace.BadParameter("service %q still has %d instances, retire it and let the reaper drain them first", serviceID, len(instances))
	}
	open, err := h.cfg.Drift.ListEvents(r.Context(), user, types.DriftEventFilter{ServiceID: serviceID, NonTerminal: true})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if len(open) > 0 {
		return nil, trace.BadParameter("service %q still has %d open drift events", serviceID, len(open))
	}

	if err := h.cfg.Registry.DeleteApplicationService(r.Context(), serviceID); err != nil {
		return nil, trace.Wrap(err)
	}
	h.cfg.Logger.InfoContext(r.Context(), "Service deleted",
		"service", serviceID,
		"user", user.UserID,
	)
	return ok(), nil
}

func (h *Handler) listInstances(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	user, err := callerFrom(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	svc, err := h.cfg.Registry.GetApplicationService(r.Context(), p.ByName("id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	query := r.URL.Query()
	filter := types.InstanceFilter{
		ServiceID:   svc.ID,
		Environment: query.Get("environment"),
	}
	if val := query.Get("status"); val != "" {
		if err := filter.Status.Parse(val); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	if err := h.cfg.Evaluator.Authorize(r.Context(), user, types.PermissionViewInstance, authz.Resource{
		ServiceID:   svc.ID,
		OwnerTeamID: svc.OwnerTeamID,
		Environment: filter.Environment,
	}); err != nil {
		return nil, trace.Wrap(err)
	}
	instances, err := h.cfg.Presence.ListInstances(r.Context(), filter)
	return instances, trace.Wrap(err)
}

func (h *Handler) listShares(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	user, err := callerFrom(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	shares, err := h.cfg.Shares.List(r.Context(), user, p.ByName("id"))
	return shares, trace.Wrap(err)
}

func (h *Handler) grantShare(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	user, err := callerFrom(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var share types.ServiceShare
	if err := readJSON(r, &share); err != nil {
		return nil, trace.Wrap(err)
	}
	share.ServiceID = p.ByName("id")
	created, err := h.cfg.Shares.Grant(r.Context(), user, &share)
	return created, trace.Wrap(err)
}

func (h *Handler) revokeShare(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	user, err := callerFrom(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := h.cfg.Shares.Revoke(r.Context(), user, p.ByName("id"), p.ByName("shareID")); err != nil {
		return nil, trace.Wrap(err)
	}
	return ok(), nil
}
