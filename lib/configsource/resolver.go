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

package configsource

import (
	"context"
	"log/slog"

	"github.com/gravitational/trace"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gravitational/confplane"
	"github.com/gravitational/confplane/lib/cache"
	"github.com/gravitational/confplane/lib/utils"
)

var fallbackUsed = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: confplane.MetricNamespace,
		Name:      "csot_fallback_used_total",
		Help:      "Expected hash reads served from the degraded-mode fallback cache",
	},
)

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// Fabric holds the expected-hash and csot-fallback caches.
	Fabric *cache.Fabric
	// Client is the source of truth adapter.
	Client Client
	// Logger is the resolver logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults checks and sets default values.
func (c *ResolverConfig) CheckAndSetDefaults() error {
	if c.Fabric == nil {
		return trace.BadParameter("missing parameter Fabric")
	}
	if c.Client == nil {
		return trace.BadParameter("missing parameter Client")
	}
	if c.Logger == nil {
		c.Logger = slog.With(confplane.ComponentKey, confplane.ComponentCSoT)
	}
	return nil
}

// Resolver answers expected hash lookups through the cache fabric:
// expected-hash cache first, then the source of truth, then the
// long-TTL fallback cache when the source is unreachable. Successful
// source reads refresh the fallback so a later outage is survivable.
type Resolver struct {
	cfg    ResolverConfig
	loader *cache.Loader
}

// NewResolver returns a new expected hash resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := utils.RegisterPrometheusCollectors(fallbackUsed); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Resolver{
		cfg:    cfg,
		loader: cache.NewLoader(cfg.Fabric, cache.ExpectedHash),
	}, nil
}

// ExpectedHash resolves the expected hash for (serviceID, environment).
// Returns NotFound when the source of truth has no entry, and
// ConnectionProblem when the source is down and no fallback entry
// exists; the ingest pipeline classifies the instance UNKNOWN in both
// cases.
func (r *Resolver) ExpectedHash(ctx context.Context, serviceID, environment string) (string, error) {
	key := cache.Key(serviceID, environment)
	value, err := r.loader.Get(ctx, key, func(ctx context.Context) ([]byte, error) {
		hash, err := r.cfg.Client.ExpectedHash(ctx, serviceID, environment)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		// Refresh the degraded-mode copy on every successful read.
		if err := r.cfg.Fabric.Put(ctx, cache.CSoTFallback, key, []byte(hash)); err != nil {
			r.cfg.Logger.DebugContext(ctx, "Failed to refresh fallback entry", "key", key, "error", err)
		}
		return []byte(hash), nil
	})
	if err == nil {
		return string(value), nil
	}
	if trace.IsNotFound(err) {
		return "", trace.Wrap(err)
	}

	// Source of truth unavailable: serve the stale copy when one
	// exists.
	fallback, ferr := r.cfg.Fabric.Get(ctx, cache.CSoTFallback, key)
	if ferr != nil {
		return "", trace.Wrap(err)
	}
	fallbackUsed.Inc()
	r.cfg.Logger.WarnContext(ctx, "Serving expected hash from fallback cache",
		"service", serviceID,
		"environment", environment,
	)
	return string(fallback), nil
}
