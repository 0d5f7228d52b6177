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
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/confplane/api/types"
	"github.com/gravitational/confplane/lib/backend/memory"
	"github.com/gravitational/confplane/lib/defaults"
	"github.com/gravitational/confplane/lib/services/local"
)

type reapEnv struct {
	clock    *clockwork.FakeClock
	presence *local.PresenceService
	journal  *local.DriftJournalService
	reaper   *Reaper
}

func newReapEnv(t *testing.T) *reapEnv {
	t.Helper()
	clock := clockwork.NewFakeClock()
	bk, err := memory.New(memory.Config{Clock: clock})
	require.NoError(t, err)
	t.Cleanup(func() { bk.Close() })

	env := &reapEnv{
		clock:    clock,
		presence: local.NewPresenceService(bk),
		journal:  local.NewDriftJournalService(bk),
	}
	env.reaper, err = NewReaper(ReaperConfig{
		Presence:    env.presence,
		Drift:       env.journal,
		StaleAfter:  90 * time.Second,
		DeleteAfter: time.Hour,
		Clock:       clock,
	})
	require.NoError(t, err)
	return env
}

func (e *reapEnv) seedInstance(t *testing.T, instanceID string, lastSeen time.Time, status types.InstanceStatus) {
	t.Helper()
	_, err := e.presence.UpsertInstance(context.Background(), &types.ServiceInstance{
		ServiceID:   "svc_payments",
		InstanceID:  instanceID,
		Environment: "dev",
		Status:      status,
		HasDrift:    status == types.InstanceStatusDrift,
		LastSeenAt:  lastSeen,
	})
	require.NoError(t, err)
}

func TestReaperMarksStale(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newReapEnv(t)
	now := env.clock.Now()

	env.seedInstance(t, "i-fresh", now.Add(-30*time.Second), types.InstanceStatusHealthy)
	env.seedInstance(t, "i-stale", now.Add(-5*time.Minute), types.InstanceStatusHealthy)

	stats, err := env.reaper.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, SweepStats{Scanned: 2, Marked: 1}, stats)

	fresh, err := env.presence.GetInstance(ctx, "svc_payments", "i-fresh")
	require.NoError(t, err)
	require.Equal(t, types.InstanceStatusHealthy, fresh.Status)

	stale, err := env.presence.GetInstance(ctx, "svc_payments", "i-stale")
	require.NoError(t, err)
	require.Equal(t, types.InstanceStatusUnhealthy, stale.Status)

	// A second sweep does not re-mark already unhealthy instances.
	stats, err = env.reaper.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, SweepStats{Scanned: 2}, stats)
}

func TestReaperStaleBoundary(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newReapEnv(t)

	// An instance exactly at the stale threshold is not reaped this
	// tick.
	env.seedInstance(t, "i-edge", env.clock.Now().Add(-90*time.Second), types.InstanceStatusHealthy)

	stats, err := env.reaper.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, SweepStats{Scanned: 1}, stats)

	edge, err := env.presence.GetInstance(ctx, "svc_payments", "i-edge")
	require.NoError(t, err)
	require.Equal(t, types.InstanceStatusHealthy, edge.Status)
}

func TestReaperStaleKeepsOpenDrift(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newReapEnv(t)
	now := env.clock.Now()

	env.seedInstance(t, "i-drift", now.Add(-5*time.Minute), types.InstanceStatusDrift)
	_, err := env.journal.CreateDriftEvent(ctx, &types.DriftEvent{
		ID:           "d1",
		ServiceID:    "svc_payments",
		InstanceID:   "i-drift",
		Environment:  "dev",
		ExpectedHash: hashA,
		AppliedHash:  hashB,
		Status:       types.DriftStatusDetected,
		DetectedAt:   now.Add(-5 * time.Minute),
		DetectedBy:   "system",
	})
	require.NoError(t, err)

	stats, err := env.reaper.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, SweepStats{Scanned: 1, Marked: 1}, stats)

	// The episode stays open: the instance may come back drifting.
	open, err := env.journal.GetOpenDriftEvent(ctx, "svc_payments", "i-drift")
	require.NoError(t, err)
	require.Equal(t, "d1", open.ID)
}

func TestReaperDeletesAndForceResolves(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newReapEnv(t)
	now := env.clock.Now()

	env.seedInstance(t, "i-2", now.Add(-2*time.Hour), types.InstanceStatusDrift)
	_, err := env.journal.CreateDriftEvent(ctx, &types.DriftEvent{
		ID:           "d2",
		ServiceID:    "svc_payments",
		InstanceID:   "i-2",
		Environment:  "dev",
		ExpectedHash: hashA,
		AppliedHash:  hashB,
		Status:       types.DriftStatusDetected,
		DetectedAt:   now.Add(-2 * time.Hour),
		DetectedBy:   "system",
	})
	require.NoError(t, err)

	stats, err := env.reaper.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, SweepStats{Scanned: 1, Deleted: 1}, stats)

	_, err = env.presence.GetInstance(ctx, "svc_payments", "i-2")
	require.True(t, trace.IsNotFound(err))

	event, err := env.journal.GetDriftEvent(ctx, "d2")
	require.NoError(t, err)
	require.Equal(t, types.DriftStatusResolved, event.Status)
	require.Equal(t, "system-reap", event.ResolvedBy)
	_, err = env.journal.GetOpenDriftEvent(ctx, "svc_payments", "i-2")
	require.True(t, trace.IsNotFound(err))
}

func TestReaperRunLoop(t *testing.T) {
	t.Parallel()
	env := newReapEnv(t)
	env.seedInstance(t, "i-old", env.clock.Now().Add(-5*time.Minute), types.InstanceStatusHealthy)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.reaper.Run(ctx)

	// The interval timer arms before the first tick fires.
	env.clock.BlockUntil(1)
	env.clock.Advance(defaults.ReapInterval)

	require.Eventually(t, func() bool {
		instance, err := env.presence.GetInstance(context.Background(), "svc_payments", "i-old")
		return err == nil && instance.Status == types.InstanceStatusUnhealthy
	}, 5*time.Second, 10*time.Millisecond)
}
