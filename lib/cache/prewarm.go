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

package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/confplane"
	"github.com/gravitational/confplane/api/types"
	"github.com/gravitational/confplane/lib/defaults"
)

// ServiceLister lists the application services to pre-warm.
type ServiceLister interface {
	ListApplicationServices(ctx context.Context, filter types.ServiceFilter) ([]*types.ApplicationService, error)
}

// HashSource resolves the expected configuration hash of a service and
// environment from the source of truth.
type HashSource interface {
	ExpectedHash(ctx context.Context, serviceID, environment string) (string, error)
}

// PreWarmerConfig configures the startup cache pre-warmer.
type PreWarmerConfig struct {
	// Fabric receives the warmed entries.
	Fabric *Fabric
	// Services lists the services to warm.
	Services ServiceLister
	// Source produces expected hashes.
	Source HashSource
	// Delay postpones the warm-up after startup.
	Delay time.Duration
	// Clock overrides the clock in tests.
	Clock clockwork.Clock
	// Logger is the pre-warmer logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults checks and sets default values.
func (c *PreWarmerConfig) CheckAndSetDefaults() error {
	if c.Fabric == nil {
		return trace.BadParameter("missing parameter Fabric")
	}
	if c.Services == nil {
		return trace.BadParameter("missing parameter Services")
	}
	if c.Source == nil {
		return trace.BadParameter("missing parameter Source")
	}
	if c.Delay == 0 {
		c.Delay = defaults.WarmupDelay
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(confplane.ComponentKey, confplane.ComponentPreWarmer)
	}
	return nil
}

// PreWarmer populates the expected-hash cache once at startup,
// iterating every service and environment. Failures are logged and
// counted, never fatal: readiness does not wait for the warm-up.
type PreWarmer struct {
	cfg  PreWarmerConfig
	done chan struct{}
}

// NewPreWarmer returns a new pre-warmer.
func NewPreWarmer(cfg PreWarmerConfig) (*PreWarmer, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &PreWarmer{cfg: cfg, done: make(chan struct{})}, nil
}

// Done is closed once the warm-up pass has finished.
func (p *PreWarmer) Done() <-chan struct{} {
	return p.done
}

// Run waits for the configured delay, performs one warm-up pass and
// returns. Blocks; callers run it in a goroutine.
func (p *PreWarmer) Run(ctx context.Context) {
	defer close(p.done)

	select {
	case <-p.cfg.Clock.After(p.cfg.Delay):
	case <-ctx.Done():
		return
	}

	services, err := p.cfg.Services.ListApplicationServices(ctx, types.ServiceFilter{})
	if err != nil {
		p.cfg.Logger.WarnContext(ctx, "Pre-warm aborted, cannot list services", "error", err)
		prewarmFailures.Inc()
		return
	}

	var warmed int
	for _, svc := range services {
		for _, env := range svc.Environments {
			if ctx.Err() != nil {
				return
			}
			hash, err := p.cfg.Source.ExpectedHash(ctx, svc.ID, env)
			if err != nil {
				prewarmFailures.Inc()
				p.cfg.Logger.DebugContext(ctx, "Pre-warm lookup failed",
					"service", svc.ID,
					"environment", env,
					"error", err,
				)
				continue
			}
			if err := p.cfg.Fabric.Put(ctx, ExpectedHash, Key(svc.ID, env), []byte(hash)); err != nil {
				prewarmFailures.Inc()
				continue
			}
			prewarmedEntries.Inc()
			warmed++
		}
	}
	p.cfg.Logger.InfoContext(ctx, "Cache pre-warm finished",
		"services", len(services),
		"entries", warmed,
	)
}
