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

// ReaperConfig configures a Reaper.
type ReaperConfig struct {
	// Presence reads and prunes instance projections.
	Presence services.Presence
	// Drift closes drift episodes of deleted instances.
	Drift services.DriftJournal
	// StaleAfter is the age past which an instance is marked
	// unhealthy. An instance exactly at the threshold is not stale.
	StaleAfter time.Duration
	// DeleteAfter is the age past which an instance record is removed.
	DeleteAfter time.Duration
	// Interval is the scan period.
	Interval time.Duration
	// Clock overrides the clock in tests.
	Clock clockwork.Clock
	// Logger is the reaper logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults checks and sets default values.
func (c *ReaperConfig) CheckAndSetDefaults() error {
	if c.Presence == nil {
		return trace.BadParameter("missing parameter Presence")
	}
	if c.Drift == nil {
		return trace.BadParameter("missing parameter Drift")
	}
	if c.StaleAfter == 0 {
		c.StaleAfter = defaults.StaleThreshold()
	}
	if c.DeleteAfter == 0 {
		c.DeleteAfter = defaults.InstanceDeleteThreshold
	}
	if c.DeleteAfter < c.StaleAfter {
		return trace.BadParameter("delete threshold %v is below the stale threshold %v", c.DeleteAfter, c.StaleAfter)
	}
	if c.Interval == 0 {
		c.Interval = defaults.ReapInterval
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(confplane.ComponentKey, confplane.ComponentReaper)
	}
	return nil
}

// SweepStats summarizes one reaper pass.
type SweepStats struct {
	// Scanned is the number of instances examined.
	Scanned int
	// Marked is the number of instances marked unhealthy.
	Marked int
	// Deleted is the number of instances removed.
	Deleted int
}

// Reaper periodically marks instances that stopped reporting as
// unhealthy and removes those silent past the delete threshold,
// force-closing their open drift episodes first so no episode is
// orphaned. Sweeps are schedule driven rather than storage TTLs so the
// journal update always precedes the instance removal.
type Reaper struct {
	cfg ReaperConfig
}

// NewReaper returns a new stale instance reaper.
func NewReaper(cfg ReaperConfig) (*Reaper, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := registerMetrics(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Reaper{cfg: cfg}, nil
}

// Run sweeps on the configured interval until the context is
// cancelled. Blocks; callers run it in a goroutine.
func (r *Reaper) Run(ctx context.Context) {
	ivl := interval.New(interval.Config{
		Duration: r.cfg.Interval,
		Jitter:   retryutils.SeventhJitter,
		Clock:    r.cfg.Clock,
	})
	defer ivl.Stop()

	for {
		select {
		case <-ivl.Next():
			stats, err := r.Sweep(ctx)
			if err != nil {
				r.cfg.Logger.WarnContext(ctx, "Reaper sweep failed", "error", err)
				continue
			}
			if stats.Marked > 0 || stats.Deleted > 0 {
				r.cfg.Logger.InfoContext(ctx, "Reaper sweep finished",
					"scanned", stats.Scanned,
					"marked", stats.Marked,
					"deleted", stats.Deleted,
				)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Sweep performs one pass over every instance projection.
func (r *Reaper) Sweep(ctx context.Context) (SweepStats, error) {
	instances, err := r.cfg.Presence.ListInstances(ctx, types.InstanceFilter{})
	if err != nil {
		return SweepStats{}, trace.Wrap(err)
	}

	now := r.cfg.Clock.Now()
	var stats SweepStats
	for _, instance := range instances {
		stats.Scanned++
		age := now.Sub(instance.LastSeenAt)
		switch {
		case age > r.cfg.DeleteAfter:
			if err := r.delete(ctx, instance, now); err != nil {
				r.cfg.Logger.WarnContext(ctx, "Failed to delete stale instance",
					"service", instance.ServiceID,
					"instance", instance.InstanceID,
					"error", err,
				)
				continue
			}
			stats.Deleted++
			staleDeleted.Inc()

		case age > r.cfg.StaleAfter:
			if instance.Status == types.InstanceStatusUnhealthy {
				continue
			}
			if err := r.mark(ctx, instance, now); err != nil {
				r.cfg.Logger.WarnContext(ctx, "Failed to mark stale instance",
					"service", instance.ServiceID,
					"instance", instance.InstanceID,
					"error", err,
				)
				continue
			}
			stats.Marked++
			staleMarked.Inc()
		}
	}
	return stats, nil
}

// mark flips a silent instance to unhealthy. Its open drift episode,
// if any, stays open: the instance may come back still drifting.
func (r *Reaper) mark(ctx context.Context, instance *types.ServiceInstance, now time.Time) error {
	instance.Status = types.InstanceStatusUnhealthy
	instance.HasDrift = false
	instance.DriftDetectedAt = time.Time{}
	instance.UpdatedAt = now.UTC()
	_, err := r.cfg.Presence.UpsertInstance(ctx, instance)
	return trace.Wrap(err)
}

// delete removes an instance record, force-closing its open drift
// episode first.
func (r *Reaper) delete(ctx context.Context, instance *types.ServiceInstance, now time.Time) error {
	event, err := r.cfg.Drift.GetOpenDriftEvent(ctx, instance.ServiceID, instance.InstanceID)
	if err == nil {
		if err := event.Transition(types.DriftStatusResolved, "system-reap", now.UTC()); err != nil {
			return trace.Wrap(err)
		}
		if _, err := r.cfg.Drift.UpdateDriftEvent(ctx, event); err != nil {
			return trace.Wrap(err)
		}
	} else if !trace.IsNotFound(err) {
		return trace.Wrap(err)
	}
	return trace.Wrap(r.cfg.Presence.DeleteInstance(ctx, instance.ServiceID, instance.InstanceID))
}
