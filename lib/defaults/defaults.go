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

// Package defaults contains default constants used across the control plane.
package defaults

import (
	"runtime"
	"time"
)

const (
	// HTTPListenPort is the port the operational API binds to.
	HTTPListenPort = 3580

	// BindIP is the address the operational API binds to by default.
	BindIP = "0.0.0.0"

	// BackendType selects the storage backend when no explicit
	// configuration is provided.
	BackendType = "memory"
)

// Heartbeat pipeline defaults.
const (
	// PingInterval is the interval instances are expected to report
	// heartbeats at. Reaping thresholds derive from it.
	PingInterval = 30 * time.Second

	// HeartbeatDedupWindow collapses identical (instance, hash) heartbeats
	// arriving within this window into a single write.
	HeartbeatDedupWindow = 5 * time.Second

	// InstanceLockShards is the number of striped per-instance locks used to
	// serialize concurrent heartbeats for the same instance.
	InstanceLockShards = 128

	// StaleThresholdFactor scales PingInterval into the staleness cutoff.
	StaleThresholdFactor = 3

	// InstanceDeleteThreshold is the age past which instance records are
	// removed outright.
	InstanceDeleteThreshold = time.Hour

	// ReapInterval is the reaper scan period.
	ReapInterval = time.Minute
)

// IngestConcurrency returns the default size of the heartbeat worker pool.
func IngestConcurrency() int {
	return 2 * runtime.NumCPU()
}

// StaleThreshold returns the default instance staleness cutoff.
func StaleThreshold() time.Duration {
	return StaleThresholdFactor * PingInterval
}

// Cache fabric defaults.
const (
	// ExpectedHashTTL bounds how long an expected configuration hash is
	// served from cache before the CSoT is consulted again.
	ExpectedHashTTL = time.Minute

	// ServiceResolutionTTL bounds the serviceName -> serviceID cache.
	ServiceResolutionTTL = 5 * time.Minute

	// PermissionTTL bounds cached access-control sub-decisions.
	PermissionTTL = 30 * time.Second

	// CSoTFallbackTTL bounds the degraded-mode expected hash cache.
	CSoTFallbackTTL = 24 * time.Hour

	// IdPFallbackTTL bounds the degraded-mode identity cache.
	IdPFallbackTTL = 5 * time.Minute

	// DedupCacheTTL bounds the heartbeat dedup tracking cache. It only needs
	// to outlive HeartbeatDedupWindow.
	DedupCacheTTL = 2 * HeartbeatDedupWindow

	// CacheSize is the per-cache L1 entry bound.
	CacheSize = 16384

	// WarmupDelay postpones cache pre-warming after startup so that the
	// process is serving before the CSoT scan begins.
	WarmupDelay = 30 * time.Second
)

// Approval workflow defaults.
const (
	// ApprovalCASRetries bounds optimistic-lock retry loops on approval
	// state transitions.
	ApprovalCASRetries = 5

	// ApprovalRetention is how long terminal approval requests are kept
	// before the pruner removes them.
	ApprovalRetention = 90 * 24 * time.Hour

	// CompensateInterval is the period of the ownership side-effect
	// compensation loop.
	CompensateInterval = 30 * time.Second

	// ApprovalPruneInterval is the period of the terminal-request pruner.
	ApprovalPruneInterval = time.Hour
)

// Outbound adapter defaults.
const (
	// DefaultDialTimeout is the TCP dial timeout for outbound clients.
	DefaultDialTimeout = 10 * time.Second

	// DefaultRequestTimeout caps a single outbound HTTP exchange.
	DefaultRequestTimeout = 5 * time.Second

	// DefaultDeadline is applied to inbound requests that do not carry an
	// explicit deadline.
	DefaultDeadline = 15 * time.Second

	// BreakerRecoveryInterval is how long a tripped circuit breaker stays
	// open before probing.
	BreakerRecoveryInterval = 15 * time.Second

	// BreakerConsecutiveFailures trips the breaker once reached.
	BreakerConsecutiveFailures = 5
)
