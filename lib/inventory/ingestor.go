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

// Package inventory implements the heartbeat ingest pipeline, the
// stale instance reaper and the drift lifecycle service.
package inventory

import (
	"context"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/confplane"
	"github.com/gravitational/confplane/api/types"
	"github.com/gravitational/confplane/lib/cache"
	"github.com/gravitational/confplane/lib/defaults"
	"github.com/gravitational/confplane/lib/events"
	"github.com/gravitational/confplane/lib/services"
)

// HashResolver answers expected hash lookups. Implemented by the
// configsource resolver, which layers the expected-hash cache and the
// degraded-mode fallback over the source of truth.
type HashResolver interface {
	// ExpectedHash returns the expected configuration hash for a
	// service in an environment.
	ExpectedHash(ctx context.Context, serviceID, environment string) (string, error)
}

// RefreshSink emits targeted refresh signals. Implemented by the bus
// refresh publisher.
type RefreshSink interface {
	// Publish emits a refresh signal for the destination.
	Publish(ctx context.Context, dst events.Destination) error
}

// IngestResult is the outcome of one accepted heartbeat.
type IngestResult struct {
	// Status is the instance classification after the heartbeat.
	Status types.InstanceStatus `json:"status"`
	// DriftDetected is true when this heartbeat opened a new drift
	// episode.
	DriftDetected bool `json:"drift_detected"`
	// Deduplicated is true when the heartbeat collapsed into a
	// previous identical one and produced no writes.
	Deduplicated bool `json:"deduplicated,omitempty"`
}

// IngestorConfig configures an Ingestor.
type IngestorConfig struct {
	// Registry resolves and, when auto-registration is on, creates
	// application services.
	Registry services.Registry
	// Presence persists instance projections.
	Presence services.Presence
	// Drift persists drift events.
	Drift services.DriftJournal
	// Hashes resolves expected hashes.
	Hashes HashResolver
	// Refresh emits refresh signals on newly opened drift. Optional;
	// without it drift is recorded but not signalled.
	Refresh RefreshSink
	// Fabric holds the service-resolution and heartbeat-dedup caches.
	Fabric *cache.Fabric
	// AutoRegister creates an application service on the first
	// heartbeat of an unknown name instead of rejecting it.
	AutoRegister bool
	// DedupWindow collapses identical (instance, hash) heartbeats.
	DedupWindow time.Duration
	// Concurrency bounds the number of heartbeats in flight.
	Concurrency int
	// Severities maps environments to the severity of drift detected
	// there. Environments not listed use DefaultSeverity.
	Severities map[string]types.DriftSeverity
	// DefaultSeverity is the severity of drift in unlisted
	// environments.
	DefaultSeverity types.DriftSeverity
	// Clock overrides the clock in tests.
	Clock clockwork.Clock
	// Logger is the ingestor logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults checks and sets default values.
func (c *IngestorConfig) CheckAndSetDefaults() error {
	if c.Registry == nil {
		return trace.BadParameter("missing parameter Registry")
	}
	if c.Presence == nil {
		return trace.BadParameter("missing parameter Presence")
	}
	if c.Drift == nil {
		return trace.BadParameter("missing parameter Drift")
	}
	if c.Hashes == nil {
		return trace.BadParameter("missing parameter Hashes")
	}
	if c.Fabric == nil {
		return trace.BadParameter("missing parameter Fabric")
	}
	if c.DedupWindow == 0 {
		c.DedupWindow = defaults.HeartbeatDedupWindow
	}
	if c.Concurrency == 0 {
		c.Concurrency = defaults.IngestConcurrency()
	}
	if c.Severities == nil {
		c.Severities = map[string]types.DriftSeverity{
			"prod": types.SeverityHigh,
		}
	}
	if c.DefaultSeverity == "" {
		c.DefaultSeverity = types.SeverityMedium
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(confplane.ComponentKey, confplane.ComponentIngest)
	}
	return nil
}

// Ingestor accepts heartbeats, maintains instance projections, opens
// and resolves drift episodes and emits refresh signals on newly
// detected drift. Heartbeats of the same instance are serialized by a
// striped lock so arrival order is preserved; across instances
// processing is concurrent up to the configured bound.
type Ingestor struct {
	cfg     IngestorConfig
	sem     chan struct{}
	locks   [defaults.InstanceLockShards]sync.Mutex
	resolve *cache.Loader
}

// NewIngestor returns a new heartbeat ingestor.
func NewIngestor(cfg IngestorConfig) (*Ingestor, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := registerMetrics(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Ingestor{
		cfg:     cfg,
		sem:     make(chan struct{}, cfg.Concurrency),
		resolve: cache.NewLoader(cfg.Fabric, cache.ServiceResolution),
	}, nil
}

// Ingest processes one heartbeat on behalf of the author. Returns a
// LimitExceeded error when the worker pool is saturated; the sender
// retries on its next ping cycle. The refresh emission is best effort
// and never fails the ingestion.
func (g *Ingestor) Ingest(ctx context.Context, hb types.Heartbeat, author types.UserContext) (IngestResult, error) {
	if err := hb.CheckAndSetDefaults(); err != nil {
		return IngestResult{}, trace.Wrap(err)
	}

	select {
	case g.sem <- struct{}{}:
		defer func() { <-g.sem }()
	default:
		heartbeatsRejected.Inc()
		return IngestResult{}, trace.LimitExceeded("heartbeat ingestion is saturated, retry on the next ping cycle")
	}
	if err := checkDeadline(ctx); err != nil {
		return IngestResult{}, trace.Wrap(err)
	}

	svc, err := g.resolveService(ctx, hb, author)
	if err != nil {
		return IngestResult{}, trace.Wrap(err)
	}

	// Serialize per instance so concurrent heartbeats apply in arrival
	// order and no update is lost.
	lock := &g.locks[shardFor(svc.ID, hb.InstanceID)]
	lock.Lock()
	defer lock.Unlock()

	dedupKey := cache.Key(svc.ID, hb.InstanceID)
	if cached, err := g.cfg.Fabric.Get(ctx, cache.HeartbeatDedup, dedupKey); err == nil && string(cached) == hb.ConfigHash {
		// The instance can be gone despite a live dedup entry when the
		// reaper won a race; fall through and process normally then.
		if instance, err := g.cfg.Presence.GetInstance(ctx, svc.ID, hb.InstanceID); err == nil {
			heartbeatsDeduped.Inc()
			return IngestResult{Status: instance.Status, Deduplicated: true}, nil
		} else if !trace.IsNotFound(err) {
			return IngestResult{}, trace.Wrap(err)
		}
	}

	if err := checkDeadline(ctx); err != nil {
		return IngestResult{}, trace.Wrap(err)
	}

	// Expected hash lookup degrades softly: a missing entry or an
	// unreachable source of truth classifies the instance unknown but
	// still records the heartbeat.
	expected, err := g.cfg.Hashes.ExpectedHash(ctx, svc.ID, hb.Environment)
	if err != nil {
		if !trace.IsNotFound(err) && !trace.IsConnectionProblem(err) {
			return IngestResult{}, trace.Wrap(err)
		}
		expected = ""
	}

	result, err := g.apply(ctx, svc, hb, expected)
	if err != nil {
		return IngestResult{}, trace.Wrap(err)
	}
	heartbeatsReceived.Inc()

	if err := g.cfg.Fabric.PutWithTTL(ctx, cache.HeartbeatDedup, dedupKey, []byte(hb.ConfigHash), g.cfg.DedupWindow); err != nil {
		g.cfg.Logger.DebugContext(ctx, "Failed to record dedup entry", "error", err)
	}
	return result, nil
}

// resolveService maps the reported service name to its registration,
// creating one when auto-registration is enabled.
func (g *Ingestor) resolveService(ctx context.Context, hb types.Heartbeat, author types.UserContext) (*types.ApplicationService, error) {
	id, err := g.resolve.Get(ctx, hb.ServiceName, func(ctx context.Context) ([]byte, error) {
		svc, err := g.cfg.Registry.GetApplicationServiceByName(ctx, hb.ServiceName)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return []byte(svc.ID), nil
	})
	if err == nil {
		svc, err := g.cfg.Registry.GetApplicationService(ctx, string(id))
		return svc, trace.Wrap(err)
	}
	if !trace.IsNotFound(err) {
		return nil, trace.Wrap(err)
	}
	if !g.cfg.AutoRegister {
		return nil, trace.NotFound("unknown service %q and auto-registration is disabled", hb.ServiceName)
	}

	svc, err := types.NewApplicationService(slugify(hb.ServiceName), hb.ServiceName, "", []string{hb.Environment})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	svc.CreatedAt = g.cfg.Clock.Now().UTC()
	svc.CreatedBy = author.UserID
	created, err := g.cfg.Registry.CreateApplicationService(ctx, svc)
	if err != nil {
		// A concurrent heartbeat registered the service first.
		if trace.IsAlreadyExists(err) {
			svc, err := g.cfg.Registry.GetApplicationServiceByName(ctx, hb.ServiceName)
			return svc, trace.Wrap(err)
		}
		return nil, trace.Wrap(err)
	}
	g.cfg.Logger.InfoContext(ctx, "Auto-registered service on first heartbeat",
		"service", created.ID,
		"environment", hb.Environment,
	)
	return created, nil
}

// apply updates the instance projection and the drift journal under
// the per-instance lock.
func (g *Ingestor) apply(ctx context.Context, svc *types.ApplicationService, hb types.Heartbeat, expected string) (IngestResult, error) {
	now := g.cfg.Clock.Now().UTC()

	instance, err := g.cfg.Presence.GetInstance(ctx, svc.ID, hb.InstanceID)
	if err != nil {
		if !trace.IsNotFound(err) {
			return IngestResult{}, trace.Wrap(err)
		}
		instance = &types.ServiceInstance{
			ServiceID:  svc.ID,
			InstanceID: hb.InstanceID,
			Status:     types.InstanceStatusUnknown,
			CreatedAt:  now,
		}
	}

	instance.Host = hb.Host
	instance.Port = hb.Port
	instance.Environment = hb.Environment
	instance.Version = hb.Version
	instance.AppliedHash = hb.ConfigHash
	instance.ExpectedHash = expected
	instance.Metadata = hb.Metadata
	// The sender clock never overrides the receiver clock; it is kept
	// as metadata only.
	if !hb.Timestamp.IsZero() {
		if instance.Metadata == nil {
			instance.Metadata = make(map[string]string)
		}
		instance.Metadata["reported_at"] = hb.Timestamp.UTC().Format(time.RFC3339)
	}
	if now.After(instance.LastSeenAt) {
		instance.LastSeenAt = now
	}
	instance.UpdatedAt = now

	var result IngestResult
	switch {
	case expected == "":
		instance.Status = types.InstanceStatusUnknown
		instance.HasDrift = false
		instance.DriftDetectedAt = time.Time{}
		result.Status = types.InstanceStatusUnknown

	case hb.ConfigHash == expected:
		if err := g.resolveOpenDrift(ctx, svc.ID, hb.InstanceID, now); err != nil {
			return IngestResult{}, trace.Wrap(err)
		}
		instance.Status = types.InstanceStatusHealthy
		instance.HasDrift = false
		instance.DriftDetectedAt = time.Time{}
		result.Status = types.InstanceStatusHealthy

	default:
		opened, detectedAt, err := g.recordDrift(ctx, svc, hb, expected, now)
		if err != nil {
			return IngestResult{}, trace.Wrap(err)
		}
		instance.Status = types.InstanceStatusDrift
		instance.HasDrift = true
		instance.DriftDetectedAt = detectedAt
		result.Status = types.InstanceStatusDrift
		result.DriftDetected = opened
	}

	if _, err := g.cfg.Presence.UpsertInstance(ctx, instance); err != nil {
		return IngestResult{}, trace.Wrap(err)
	}

	if result.DriftDetected && g.cfg.Refresh != nil {
		// Best effort: a failed emission is dropped, the drift record
		// stays behind for an operator to re-trigger.
		_ = g.cfg.Refresh.Publish(ctx, events.NewDestination(svc.ID, hb.InstanceID))
	}
	return result, nil
}

// resolveOpenDrift closes the open drift episode of an instance whose
// applied hash matches the expected hash again.
func (g *Ingestor) resolveOpenDrift(ctx context.Context, serviceID, instanceID string, now time.Time) error {
	event, err := g.cfg.Drift.GetOpenDriftEvent(ctx, serviceID, instanceID)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil
		}
		return trace.Wrap(err)
	}
	if err := event.Transition(types.DriftStatusResolved, "system", now); err != nil {
		return trace.Wrap(err)
	}
	if _, err := g.cfg.Drift.UpdateDriftEvent(ctx, event); err != nil {
		return trace.Wrap(err)
	}
	driftResolved.Inc()
	g.cfg.Logger.InfoContext(ctx, "Drift resolved",
		"service", serviceID,
		"instance", instanceID,
		"event", event.ID,
	)
	return nil
}

// recordDrift opens a drift episode, or updates the applied hash of
// the already open one. Returns whether a new episode was opened and
// the episode detection time.
func (g *Ingestor) recordDrift(ctx context.Context, svc *types.ApplicationService, hb types.Heartbeat, expected string, now time.Time) (bool, time.Time, error) {
	if event, err := g.cfg.Drift.GetOpenDriftEvent(ctx, svc.ID, hb.InstanceID); err == nil {
		if event.AppliedHash != hb.ConfigHash || event.ExpectedHash != expected {
			event.AppliedHash = hb.ConfigHash
			event.ExpectedHash = expected
			if _, err := g.cfg.Drift.UpdateDriftEvent(ctx, event); err != nil {
				return false, time.Time{}, trace.Wrap(err)
			}
		}
		return false, event.DetectedAt, nil
	} else if !trace.IsNotFound(err) {
		return false, time.Time{}, trace.Wrap(err)
	}

	event := &types.DriftEvent{
		ID:           uuid.NewString(),
		ServiceID:    svc.ID,
		InstanceID:   hb.InstanceID,
		TeamID:       svc.OwnerTeamID,
		Environment:  hb.Environment,
		ExpectedHash: expected,
		AppliedHash:  hb.ConfigHash,
		Severity:     g.severityFor(hb.Environment),
		Status:       types.DriftStatusDetected,
		DetectedAt:   now,
		DetectedBy:   "system",
	}
	if _, err := g.cfg.Drift.CreateDriftEvent(ctx, event); err != nil {
		// A concurrent heartbeat opened the episode; fold into it.
		if trace.IsAlreadyExists(err) {
			existing, gerr := g.cfg.Drift.GetOpenDriftEvent(ctx, svc.ID, hb.InstanceID)
			if gerr != nil {
				return false, time.Time{}, trace.Wrap(gerr)
			}
			return false, existing.DetectedAt, nil
		}
		return false, time.Time{}, trace.Wrap(err)
	}
	driftOpened.Inc()
	g.cfg.Logger.WarnContext(ctx, "Drift detected",
		"service", svc.ID,
		"instance", hb.InstanceID,
		"environment", hb.Environment,
		"severity", event.Severity,
		"expected", expected,
		"applied", hb.ConfigHash,
	)
	return true, now, nil
}

// severityFor grades drift by the environment it was detected in.
// Re-opened episodes are graded from the current environment, never
// inherited from a prior closed event.
func (g *Ingestor) severityFor(environment string) types.DriftSeverity {
	if severity, ok := g.cfg.Severities[environment]; ok {
		return severity
	}
	return g.cfg.DefaultSeverity
}

// shardFor picks the striped lock of an instance.
func shardFor(serviceID, instanceID string) int {
	h := fnv.New32a()
	h.Write([]byte(serviceID))
	h.Write([]byte{0})
	h.Write([]byte(instanceID))
	return int(h.Sum32() % defaults.InstanceLockShards)
}

// slugify derives a service ID from a reported service name.
func slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// checkDeadline fails fast before a blocking hop when the request
// deadline already expired.
func checkDeadline(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return trace.LimitExceeded("request deadline exceeded: %v", err)
	}
	return nil
}
