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
)

func (h *Handler) getDriftStatistics(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	user, err := callerFrom(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	stats, err := h.cfg.Drift.Statistics(r.Context(), user)
	return stats, trace.Wrap(err)
}

func (h *Handler) listDriftEvents(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	user, err := callerFrom(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	query := r.URL.Query()
	filter := types.DriftEventFilter{
		ServiceID:   query.Get("serviceId"),
		InstanceID:  query.Get("instanceId"),
		NonTerminal: query.Get("open") == "true",
	}
	if val := query.Get("status"); val != "" {
		if err := filter.Status.Parse(val); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	if val := query.Get("severity"); val != "" {
		if err := filter.Severity.Parse(val); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	events, err := h.cfg.Drift.ListEvents(r.Context(), user, filter)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if events == nil {
		events = []*types.DriftEvent{}
	}
	return events, nil
}

func (h *Handler) getDriftEvent(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	user, err := callerFrom(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	event, err := h.cfg.Drift.GetEvent(r.Context(), user, p.ByName("id"))
	return event, trace.Wrap(err)
}

// driftActionRequest carries the optional operator notes of a drift
// lifecycle transition.
type driftActionRequest struct {
	Notes string `json:"notes,omitempty"`
}

func (h *Handler) driftTransition(r *http.Request, p httprouter.Params,
	transition func(r *http.Request, user types.UserContext, eventID, notes string) (*types.DriftEvent, error),
) (any, error) {
	user, err := callerFrom(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var req driftActionRequest
	if r.ContentLength != 0 {
		if err := readJSON(r, &req); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	event, err := transition(r, user, p.ByName("id"), req.Notes)
	return event, trace.Wrap(err)
}

func (h *Handler) ackDriftEvent(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	return h.driftTransition(r, p, func(r *http.Request, user types.UserContext, eventID, notes string) (*types.DriftEvent, error) {
		return h.cfg.Drift.Acknowledge(r.Context(), user, eventID, notes)
	})
}

func (h *Handler) startDriftEvent(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	return h.driftTransition(r, p, func(r *http.Request, user types.UserContext, eventID, notes string) (*types.DriftEvent, error) {
		return h.cfg.Drift.StartResolving(r.Context(), user, eventID, notes)
	})
}

func (h *Handler) resolveDriftEvent(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	return h.driftTransition(r, p, func(r *http.Request, user types.UserContext, eventID, notes string) (*types.DriftEvent, error) {
		return h.cfg.Drift.Resolve(r.Context(), user, eventID, notes)
	})
}

func (h *Handler) ignoreDriftEvent(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	return h.driftTransition(r, p, func(r *http.Request, user types.UserContext, eventID, notes string) (*types.DriftEvent, error) {
		return h.cfg.Drift.Ignore(r.Context(), user, eventID, notes)
	})
}

// createApprovalRequest is the body of an ownership transfer request.
type createApprovalRequest struct {
	ServiceID    string `json:"service_id"`
	TargetTeamID string `json:"target_team_id"`
}

func (h *Handler) createApproval(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	user, err := callerFrom(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var req createApprovalRequest
	if err := readJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	created, err := h.cfg.Approvals.Create(r.Context(), user, req.ServiceID, req.TargetTeamID)
	return created, trace.Wrap(err)
}

func (h *Handler) listApprovals(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	if _, err := callerFrom(r); err != nil {
		return nil, trace.Wrap(err)
	}
	query := r.URL.Query()
	filter := types.ApprovalRequestFilter{
		ServiceID:       query.Get("serviceId"),
		RequesterUserID: query.Get("requester"),
	}
	if val := query.Get("state"); val != "" {
		if err := filter.State.Parse(val); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	requests, err := h.cfg.Approvals.List(r.Context(), filter)
	return requests, trace.Wrap(err)
}

// approvalResponse bundles a request with its recorded decisions.
type approvalResponse struct {
	Request   *types.ApprovalRequest   `json:"request"`
	Decisions []*types.ApprovalDecision `json:"decisions"`
}

func (h *Handler) getApproval(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	if _, err := callerFrom(r); err != nil {
		return nil, trace.Wrap(err)
	}
	req, decisions, err := h.cfg.Approvals.Get(r.Context(), p.ByName("id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return approvalResponse{Request: req, Decisions: decisions}, nil
}

// decideApprovalRequest is the body of a gate decision.
type decideApprovalRequest struct {
	Gate     types.Gate     `json:"gate"`
	Decision types.Decision `json:"decision"`
	Comment  string         `json:"comment,omitempty"`
}

func (h *Handler) decideApproval(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	user, err := callerFrom(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var req decideApprovalRequest
	if err := readJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	resolved, err := h.cfg.Approvals.Decide(r.Context(), user, p.ByName("id"), req.Gate, req.Decision, req.Comment)
	return resolved, trace.Wrap(err)
}

func (h *Handler) cancelApproval(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	user, err := callerFrom(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	cancelled, err := h.cfg.Approvals.Cancel(r.Context(), user, p.ByName("id"))
	return cancelled, trace.Wrap(err)
}
