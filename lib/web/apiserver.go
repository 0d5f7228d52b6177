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

// Package web implements the operational HTTP API of the control
// plane: heartbeat ingest, drift inspection and lifecycle, service and
// share management, the approval workflow and the cache and refresh
// operator endpoints.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gravitational/confplane"
	"github.com/gravitational/confplane/api/types"
	"github.com/gravitational/confplane/lib/approval"
	"github.com/gravitational/confplane/lib/authz"
	"github.com/gravitational/confplane/lib/cache"
	"github.com/gravitational/confplane/lib/events"
	"github.com/gravitational/confplane/lib/inventory"
	"github.com/gravitational/confplane/lib/services"
)

// UserResolver resolves an identity provider user ID into its
// projection. Implemented by the idp adapters.
type UserResolver interface {
	// User returns one user projection.
	User(ctx context.Context, userID string) (*types.IamUser, error)
}

// Probe checks the reachability of one dependency.
type Probe func(ctx context.Context) error

// HandlerConfig configures the API handler.
type HandlerConfig struct {
	// Ingestor accepts heartbeats.
	Ingestor *inventory.Ingestor
	// Drift exposes the drift lifecycle.
	Drift *inventory.DriftService
	// Registry manages application services.
	Registry services.Registry
	// Presence reads instance projections.
	Presence services.Presence
	// Shares manages share grants.
	Shares *authz.ShareService
	// Approvals runs the ownership transfer workflow.
	Approvals *approval.Service
	// Evaluator gates service-scoped operations.
	Evaluator *authz.Evaluator
	// Fabric serves the operator cache endpoints.
	Fabric *cache.Fabric
	// Refresh publishes targeted refresh signals. Optional.
	Refresh inventory.RefreshSink
	// Users resolves bearer identities. The fronting gateway validates
	// credentials and asserts the IdP user ID as the bearer token; the
	// plane resolves attributes from the identity provider per request.
	Users UserResolver
	// InstanceTokens authenticate the heartbeat endpoint. Opaque,
	// listed in the process configuration.
	InstanceTokens []string
	// Probes are named dependency reachability checks reported by the
	// health endpoint.
	Probes map[string]Probe
	// Clock overrides the clock in tests.
	Clock clockwork.Clock
	// Logger is the handler logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults checks and sets default values.
func (c *HandlerConfig) CheckAndSetDefaults() error {
	if c.Ingestor == nil {
		return trace.BadParameter("missing parameter Ingestor")
	}
	if c.Drift == nil {
		return trace.BadParameter("missing parameter Drift")
	}
	if c.Registry == nil {
		return trace.BadParameter("missing parameter Registry")
	}
	if c.Presence == nil {
		return trace.BadParameter("missing parameter Presence")
	}
	if c.Shares == nil {
		return trace.BadParameter("missing parameter Shares")
	}
	if c.Approvals == nil {
		return trace.BadParameter("missing parameter Approvals")
	}
	if c.Evaluator == nil {
		return trace.BadParameter("missing parameter Evaluator")
	}
	if c.Fabric == nil {
		return trace.BadParameter("missing parameter Fabric")
	}
	if c.Users == nil {
		return trace.BadParameter("missing parameter Users")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(confplane.ComponentKey, confplane.ComponentWeb)
	}
	return nil
}

// Handler is the operational API handler.
type Handler struct {
	httprouter.Router
	cfg    HandlerConfig
	tokens map[string]struct{}
}

// NewHandler returns a new API handler with all routes bound.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	h := &Handler{cfg: cfg, tokens: make(map[string]struct{}, len(cfg.InstanceTokens))}
	for _, token := range cfg.InstanceTokens {
		h.tokens[token] = struct{}{}
	}

	// Heartbeat ingest authenticates with an instance token, not a
	// user identity.
	h.POST("/v1/heartbeat", makeHandler(h.withInstanceToken(h.postHeartbeat)))

	h.POST("/v1/refresh", makeHandler(h.withAuth(h.postRefresh)))
	h.POST("/v1/cache/clear", makeHandler(h.withAuth(h.postCacheClear)))

	h.GET("/v1/drift/statistics", makeHandler(h.withAuth(h.getDriftStatistics)))
	h.GET("/v1/drift/events", makeHandler(h.withAuth(h.listDriftEvents)))
	h.GET("/v1/drift/events/:id", makeHandler(h.withAuth(h.getDriftEvent)))
	h.POST("/v1/drift/events/:id/ack", makeHandler(h.withAuth(h.ackDriftEvent)))
	h.POST("/v1/drift/events/:id/start", makeHandler(h.withAuth(h.startDriftEvent)))
	h.POST("/v1/drift/events/:id/resolve", makeHandler(h.withAuth(h.resolveDriftEvent)))
	h.POST("/v1/drift/events/:id/ignore", makeHandler(h.withAuth(h.ignoreDriftEvent)))

	h.GET("/v1/services", makeHandler(h.withAuth(h.listServices)))
	h.POST("/v1/services", makeHandler(h.withAuth(h.createService)))
	h.GET("/v1/services/:id", makeHandler(h.withAuth(h.getService)))
	h.PUT("/v1/services/:id", makeHandler(h.withAuth(h.updateService)))
	h.DELETE("/v1/services/:id", makeHandler(h.withAuth(h.deleteService)))
	h.GET("/v1/services/:id/instances", makeHandler(h.withAuth(h.listInstances)))
	h.GET("/v1/services/:id/shares", makeHandler(h.withAuth(h.listShares)))
	h.POST("/v1/services/:id/shares", makeHandler(h.withAuth(h.grantShare)))
	h.DELETE("/v1/services/:id/shares/:shareID", makeHandler(h.withAuth(h.revokeShare)))

	h.POST("/v1/approvals", makeHandler(h.withAuth(h.createApproval)))
	h.GET("/v1/approvals", makeHandler(h.withAuth(h.listApprovals)))
	h.GET("/v1/approvals/:id", makeHandler(h.withAuth(h.getApproval)))
	h.POST("/v1/approvals/:id/decision", makeHandler(h.withAuth(h.decideApproval)))
	h.POST("/v1/approvals/:id/cancel", makeHandler(h.withAuth(h.cancelApproval)))

	h.GET("/healthz", makeHandler(h.getHealth))
	h.Router.Handler(http.MethodGet, "/metrics", promhttp.Handler())

	return h, nil
}

// withAuth resolves the bearer identity into a UserContext before
// invoking the wrapped handler.
func (h *Handler) withAuth(fn handlerFunc) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
		token, err := bearerToken(r)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		user, err := h.cfg.Users.User(r.Context(), token)
		if err != nil {
			if trace.IsNotFound(err) {
				return nil, trace.AccessDenied("unknown identity")
			}
			return nil, trace.Wrap(err)
		}
		ctx := context.WithValue(r.Context(), userContextKey, user.Context())
		return fn(w, r.WithContext(ctx), p)
	}
}

// withInstanceToken authenticates the reporting instance.
func (h *Handler) withInstanceToken(fn handlerFunc) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
		token, err := bearerToken(r)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if _, found := h.tokens[token]; !found {
			return nil, trace.AccessDenied("invalid instance token")
		}
		return fn(w, r, p)
	}
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return "", trace.AccessDenied("missing bearer token")
	}
	return token, nil
}

func (h *Handler) postHeartbeat(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	var hb types.Heartbeat
	if err := readJSON(r, &hb); err != nil {
		return nil, trace.Wrap(err)
	}
	result, err := h.cfg.Ingestor.Ingest(r.Context(), hb, types.SystemUser("heartbeat"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return result, nil
}

func (h *Handler) postRefresh(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	user, err := callerFrom(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if h.cfg.Refresh == nil {
		return nil, trace.NotFound("refresh messaging is not configured")
	}
	dst, err := events.ParseDestination(r.URL.Query().Get("destination"))
	if err != nil {
		return nil, trace.Wrap(err)
	}

	if dst.ServiceID == events.Wildcard {
		if !user.IsSysAdmin() {
			return nil, trace.AccessDenied("broadcast refresh requires the %s role", types.RoleSysAdmin)
		}
	} else {
		svc, err := h.cfg.Registry.GetApplicationService(r.Context(), dst.ServiceID)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if err := h.cfg.Evaluator.Authorize(r.Context(), user, types.PermissionEdit, authz.Resource{
			ServiceID:   svc.ID,
			OwnerTeamID: svc.OwnerTeamID,
		}); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	if err := h.cfg.Refresh.Publish(r.Context(), dst); err != nil {
		return nil, trace.Wrap(err)
	}
	h.cfg.Logger.InfoContext(r.Context(), "Refresh signal published",
		"destination", dst.String(),
		"user", user.UserID,
	)
	return ok(), nil
}

func (h *Handler) postCacheClear(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	user, err := callerFrom(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if !user.IsSysAdmin() {
		return nil, trace.AccessDenied("cache administration requires the %s role", types.RoleSysAdmin)
	}

	name := r.URL.Query().Get("cacheName")
	if name == "" {
		if err := h.cfg.Fabric.InvalidateAll(r.Context()); err != nil {
			return nil, trace.Wrap(err)
		}
	} else {
		if _, err := h.cfg.Fabric.Named(name); err != nil {
			return nil, trace.Wrap(err)
		}
		if err := h.cfg.Fabric.Invalidate(r.Context(), name, ""); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	h.cfg.Logger.InfoContext(r.Context(), "Cache cleared",
		"cache", name,
		"user", user.UserID,
	)
	return ok(), nil
}

// healthResponse aggregates cache statistics and dependency probes.
type healthResponse struct {
	Status       string                 `json:"status"`
	Caches       map[string]cache.Stats `json:"caches"`
	Dependencies map[string]string      `json:"dependencies,omitempty"`
}

func (h *Handler) getHealth(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	resp := healthResponse{
		Status: "ok",
		Caches: h.cfg.Fabric.Stats(),
	}
	if len(h.cfg.Probes) > 0 {
		resp.Dependencies = make(map[string]string, len(h.cfg.Probes))
		for name, probe := range h.cfg.Probes {
			if err := probe(r.Context()); err != nil {
				resp.Status = "degraded"
				resp.Dependencies[name] = trace.UserMessage(err)
				continue
			}
			resp.Dependencies[name] = "ok"
		}
	}
	return resp, nil
}
