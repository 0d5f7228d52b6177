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

package approval

import (
	"context"
	"log/slog"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/confplane"
	"github.com/gravitational/confplane/api/types"
	"github.com/gravitational/confplane/lib/defaults"
	"github.com/gravitational/confplane/lib/services"
	"github.com/gravitational/confplane/lib/utils/interval"
	"github.com/gravitational/confplane/lib/utils/retryutils"
)

// PrunerConfig configures a Pruner.
type PrunerConfig struct {
	// Approvals reads and removes terminal requests.
	Approvals services.Approvals
	// Retention is how long terminal requests are kept after
	// resolution.
	Retention time.Duration
	// Interval is the scan period.
	Interval time.Duration
	// Clock overrides the clock in tests.
	Clock clockwork.Clock
	// Logger is the pruner logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults checks and sets default values.
func (c *PrunerConfig) CheckAndSetDefaults() error {
	if c.Approvals == nil {
		return trace.BadParameter("missing parameter Approvals")
	}
	if c.Retention == 0 {
		c.Retention = defaults.ApprovalRetention
	}
	if c.Interval == 0 {
		c.Interval = defaults.ApprovalPruneInterval
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(confplane.ComponentKey, confplane.ComponentApproval)
	}
	return nil
}

// Pruner removes terminal approval requests, and their decisions, once
// they age out of the retention window. Approved requests with the
// ownership side effect still pending are kept regardless of age so
// the compensating loop can finish its work.
type Pruner struct {
	cfg PrunerConfig
}

// NewPruner returns a new terminal-request pruner.
func NewPruner(cfg PrunerConfig) (*Pruner, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Pruner{cfg: cfg}, nil
}

// Run scans on the configured interval until the context is cancelled.
// Blocks; callers run it in a goroutine.
func (p *Pruner) Run(ctx context.Context) {
	ivl := interval.New(interval.Config{
		Duration: p.cfg.Interval,
		Jitter:   retryutils.SeventhJitter,
		Clock:    p.cfg.Clock,
	})
	defer ivl.Stop()

	for {
		select {
		case <-ivl.Next():
			if _, err := p.Prune(ctx); err != nil {
				p.cfg.Logger.WarnContext(ctx, "Prune pass failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Prune performs one pass, returning the number of requests removed.
func (p *Pruner) Prune(ctx context.Context) (int, error) {
	requests, err := p.cfg.Approvals.ListApprovalRequests(ctx, types.ApprovalRequestFilter{})
	if err != nil {
		return 0, trace.Wrap(err)
	}

	cutoff := p.cfg.Clock.Now().Add(-p.cfg.Retention)
	var pruned int
	for _, req := range requests {
		if !req.State.IsTerminal() || req.SideEffectPending() {
			continue
		}
		if req.ResolvedAt.IsZero() || req.ResolvedAt.After(cutoff) {
			continue
		}
		if err := p.cfg.Approvals.DeleteApprovalRequest(ctx, req.ID); err != nil {
			if trace.IsNotFound(err) {
				continue
			}
			return pruned, trace.Wrap(err)
		}
		pruned++
		requestsPruned.Inc()
	}
	if pruned > 0 {
		p.cfg.Logger.InfoContext(ctx, "Pruned terminal approval requests", "count", pruned)
	}
	return pruned, nil
}
