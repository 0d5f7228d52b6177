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

package types

import (
	"time"

	"github.com/gravitational/trace"
)

// Heartbeat is the payload a service instance reports on every ping
// cycle. The control plane compares AppliedHash against the expected
// hash published by the configuration source of truth.
type Heartbeat struct {
	// ServiceName is the display name the instance registered under.
	ServiceName string `json:"serviceName"`
	// InstanceID identifies the reporting process.
	InstanceID string `json:"instanceId"`
	// ConfigHash is the lowercase hex SHA-256 of the canonical form of
	// the configuration currently applied by the instance.
	ConfigHash string `json:"configHash"`
	// Host is the optional host the instance runs on.
	Host string `json:"host,omitempty"`
	// Port is the optional port the instance serves on.
	Port int `json:"port,omitempty"`
	// Environment is the environment the instance runs in.
	Environment string `json:"environment"`
	// Version is the optional build version of the instance.
	Version string `json:"version,omitempty"`
	// Metadata carries opaque key/value pairs stored on the instance
	// projection.
	Metadata map[string]string `json:"metadata,omitempty"`
	// Timestamp is the optional sender-clock time of the report. It is
	// recorded as metadata only; the receiver clock drives staleness.
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// CheckAndSetDefaults does basic validation and default setting.
func (h *Heartbeat) CheckAndSetDefaults() error {
	if h.ServiceName == "" {
		return trace.BadParameter("heartbeat missing serviceName")
	}
	if h.InstanceID == "" {
		return trace.BadParameter("heartbeat missing instanceId")
	}
	if h.Environment == "" {
		return trace.BadParameter("heartbeat missing environment")
	}
	if h.ConfigHash == "" {
		return trace.BadParameter("heartbeat missing configHash")
	}
	if !IsConfigHash(h.ConfigHash) {
		return trace.BadParameter("heartbeat configHash must be lowercase hex, got %q", h.ConfigHash)
	}
	if h.Port < 0 || h.Port > 65535 {
		return trace.BadParameter("heartbeat port %d out of range", h.Port)
	}
	return nil
}

// IsConfigHash reports whether a value is a plausible canonical
// configuration hash: non-empty lowercase hex.
func IsConfigHash(val string) bool {
	if val == "" {
		return false
	}
	for _, r := range val {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}
