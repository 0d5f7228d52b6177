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

// Package cache implements the cache fabric: a size and TTL bounded
// in-process tier, an optional distributed redis tier, and the
// two-level composite used by the hot read paths of the control plane.
// Invalidation fans out across replicas over the bus.
package cache

import (
	"context"
	"time"

	"github.com/gravitational/confplane/lib/defaults"
)

// Cache is a byte-value cache with per-entry TTL. A miss is reported
// as a NotFound error so callers can fall through to the source.
type Cache interface {
	// Get returns the cached value or a NotFound error.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores a value with the given TTL. A zero TTL stores the
	// value until evicted.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete drops an entry. Deleting an absent entry is not an error.
	Delete(ctx context.Context, key string) error

	// Clear drops every entry.
	Clear(ctx context.Context) error
}

// Named cache names. Every named cache carries its own TTL and shows up
// individually in metrics and health output.
const (
	// ExpectedHash caches (serviceID:env) -> expected configuration
	// hash for drift comparison.
	ExpectedHash = "expected-hash"

	// ServiceResolution caches serviceName -> serviceID.
	ServiceResolution = "service-resolution"

	// Permissions caches (userID:serviceID) -> effective permissions.
	Permissions = "permissions"

	// CSoTFallback holds last known expected hashes for degraded mode
	// when the source of truth is unreachable.
	CSoTFallback = "csot-fallback"

	// IdPFallback holds last known identities for degraded mode when
	// the identity provider is unreachable.
	IdPFallback = "idp-fallback"

	// HeartbeatDedup tracks recently seen (instanceID, hash) tuples to
	// collapse duplicate heartbeats.
	HeartbeatDedup = "heartbeat-dedup"
)

// Names lists every named cache.
func Names() []string {
	return []string{
		ExpectedHash,
		ServiceResolution,
		Permissions,
		CSoTFallback,
		IdPFallback,
		HeartbeatDedup,
	}
}

// TTL returns the default TTL of a named cache.
func TTL(name string) time.Duration {
	switch name {
	case ExpectedHash:
		return defaults.ExpectedHashTTL
	case ServiceResolution:
		return defaults.ServiceResolutionTTL
	case Permissions:
		return defaults.PermissionTTL
	case CSoTFallback:
		return defaults.CSoTFallbackTTL
	case IdPFallback:
		return defaults.IdPFallbackTTL
	case HeartbeatDedup:
		return defaults.DedupCacheTTL
	default:
		return defaults.ExpectedHashTTL
	}
}

// Key joins key parts with the ":" separator used by the fabric key
// schema, e.g. Key("svc_payments", "dev") -> "svc_payments:dev".
func Key(parts ...string) string {
	out := ""
	for i, part := range parts {
		if i > 0 {
			out += ":"
		}
		out += part
	}
	return out
}
