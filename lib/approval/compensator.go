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
	"github.com/gravitational/confplane/lib/utils/interval"
	"github.com/gravitational/confplane/lib/utils/retryutils"
)

// CompensatorConfig configures a Compensator.
type CompensatorConfig struct {
	// Service applies pending side effects.
	Service *Service
	// Interval is the scan period.
	Interval time.Duration
	// Clock overrides the clock in tests.
	Clock clockwork.Clock
	// Logger is the compensator logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults checks and sets default values.
func (c *CompensatorConfig) CheckAndSetDefaults() error {
	if c.Service == nil {
		return trace.BadParameter("missing parameter Service")
	}
	if c.Interval == 0 {
		c.Interval = defaults.CompensateInterval
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(confplane.ComponentKey, confplane.ComponentCompensator)
	}
	return nil
}

// Compensator re-attempts the ownership transfer of approved requests
// whose side effect has not been durably applied yet. An approval is
// never rolled back: the transfer is retried until it sticks.
type Compensator struct {
	cfg CompensatorConfig
}

// NewCompensator returns a new ownership side-effect compensator.
func NewCompensator(cfg CompensatorConfig) (*Compensator, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Compensator{cfg: cfg}, nil
}

// Run scans on the configured interval until the context is cancelled.
// Blocks; callers run it in a goroutine.
func (c *Compensator) Run(ctx context.Context) {
	ivl := interval.New(interval.Config{
		Duration: c.cfg.Interval,
		Jitter:   retryutils.SeventhJitter,
		Clock:    c.cfg.Clock,
	})
	defer ivl.Stop()

	for {
		select {
		case <-ivl.Next():
			if _, err := c.Compensate(ctx); err != nil {
				c.cfg.Logger.WarnContext(ctx, "Compensation pass failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Compensate performs one pass, returning the number of transfers
// applied.
func (c *Compensator) Compensate(ctx context.Context) (int, error) {
	pending, err := c.cfg.Service.List(ctx, types.ApprovalRequestFilter{State: types.ApprovalStateApproved})
	if err != nil {
		return 0, trace.Wrap(err)
	}

	var applied int
	for _, req := range pending {
		if !req.SideEffectPending() {
			continue
		}
		sideEffectsRetried.Inc()
		if err := c.cfg.Service.ApplySideEffect(ctx, req); err != nil {
			c.cfg.Logger.WarnContext(ctx, "Ownership transfer still failing",
				"request", req.ID,
				"service", req.ServiceID,
				"error", err,
			)
			continue
		}
		applied++
	}
	return applied, nil
}
