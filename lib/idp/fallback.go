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

package idp

import (
	"context"
	"log/slog"

	"github.com/gravitational/trace"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gravitational/confplane"
	"github.com/gravitational/confplane/api/types"
	"github.com/gravitational/confplane/lib/cache"
	"github.com/gravitational/confplane/lib/services"
	"github.com/gravitational/confplane/lib/utils"
)

var fallbackUsed = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: confplane.MetricNamespace,
		Name:      "idp_fallback_used_total",
		Help:      "Identity reads served from the degraded-mode fallback cache",
	},
)

// FallbackConfig configures the fallback decorator.
type FallbackConfig struct {
	// Provider is the decorated identity provider.
	Provider Provider
	// Fabric holds the idp-fallback cache.
	Fabric *cache.Fabric
	// Logger is the decorator logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults checks and sets default values.
func (c *FallbackConfig) CheckAndSetDefaults() error {
	if c.Provider == nil {
		return trace.BadParameter("missing parameter Provider")
	}
	if c.Fabric == nil {
		return trace.BadParameter("missing parameter Fabric")
	}
	if c.Logger == nil {
		c.Logger = slog.With(confplane.ComponentKey, confplane.ComponentIdP)
	}
	return nil
}

// Fallback decorates a Provider with the degraded-mode identity cache:
// successful reads refresh the cache, provider outages are served from
// it. Lookups the provider answers with NotFound pass through
// unchanged.
type Fallback struct {
	cfg FallbackConfig
}

// NewFallback returns a new fallback decorator.
func NewFallback(cfg FallbackConfig) (*Fallback, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := utils.RegisterPrometheusCollectors(fallbackUsed); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Fallback{cfg: cfg}, nil
}

// User returns one user projection, from the provider or, during an
// outage, from the fallback cache.
func (f *Fallback) User(ctx context.Context, userID string) (*types.IamUser, error) {
	user, err := f.cfg.Provider.User(ctx, userID)
	if err == nil {
		if data, merr := utils.FastMarshal(user); merr == nil {
			if cerr := f.cfg.Fabric.Put(ctx, cache.IdPFallback, userKey(userID), data); cerr != nil {
				f.cfg.Logger.DebugContext(ctx, "Failed to refresh identity fallback", "user", userID, "error", cerr)
			}
		}
		return user, nil
	}
	if trace.IsNotFound(err) {
		return nil, trace.Wrap(err)
	}

	data, ferr := f.cfg.Fabric.Get(ctx, cache.IdPFallback, userKey(userID))
	if ferr != nil {
		return nil, trace.Wrap(err)
	}
	var cached types.IamUser
	if uerr := utils.FastUnmarshal(data, &cached); uerr != nil {
		return nil, trace.Wrap(err)
	}
	fallbackUsed.Inc()
	f.cfg.Logger.WarnContext(ctx, "Serving identity from fallback cache", "user", userID)
	return &cached, nil
}

// Team returns one team projection, from the provider or, during an
// outage, from the fallback cache.
func (f *Fallback) Team(ctx context.Context, teamID string) (*types.IamTeam, error) {
	team, err := f.cfg.Provider.Team(ctx, teamID)
	if err == nil {
		if data, merr := utils.FastMarshal(team); merr == nil {
			if cerr := f.cfg.Fabric.Put(ctx, cache.IdPFallback, teamKey(teamID), data); cerr != nil {
				f.cfg.Logger.DebugContext(ctx, "Failed to refresh identity fallback", "team", teamID, "error", cerr)
			}
		}
		return team, nil
	}
	if trace.IsNotFound(err) {
		return nil, trace.Wrap(err)
	}

	data, ferr := f.cfg.Fabric.Get(ctx, cache.IdPFallback, teamKey(teamID))
	if ferr != nil {
		return nil, trace.Wrap(err)
	}
	var cached types.IamTeam
	if uerr := utils.FastUnmarshal(data, &cached); uerr != nil {
		return nil, trace.Wrap(err)
	}
	fallbackUsed.Inc()
	f.cfg.Logger.WarnContext(ctx, "Serving identity from fallback cache", "team", teamID)
	return &cached, nil
}

// TeamMembers returns the user IDs belonging to a team.
func (f *Fallback) TeamMembers(ctx context.Context, teamID string) ([]string, error) {
	team, err := f.Team(ctx, teamID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return team.MemberIDs, nil
}

func userKey(userID string) string {
	return cache.Key("user", userID)
}

func teamKey(teamID string) string {
	return cache.Key("team", teamID)
}

// LocalProvider serves identity projections from the repository, used
// in development and tests and as the sync target of the projection
// repository.
type LocalProvider struct {
	identity services.Identity
}

// NewLocalProvider returns a provider over stored projections.
func NewLocalProvider(identity services.Identity) *LocalProvider {
	return &LocalProvider{identity: identity}
}

// User returns one user projection.
func (p *LocalProvider) User(ctx context.Context, userID string) (*types.IamUser, error) {
	user, err := p.identity.GetUser(ctx, userID)
	return user, trace.Wrap(err)
}

// Team returns one team projection.
func (p *LocalProvider) Team(ctx context.Context, teamID string) (*types.IamTeam, error) {
	team, err := p.identity.GetTeam(ctx, teamID)
	return team, trace.Wrap(err)
}

// TeamMembers returns the user IDs belonging to a team.
func (p *LocalProvider) TeamMembers(ctx context.Context, teamID string) ([]string, error) {
	team, err := p.identity.GetTeam(ctx, teamID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return team.MemberIDs, nil
}
