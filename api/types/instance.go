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
	"maps"
	"time"

	"github.com/gravitational/trace"
)

// InstanceStatus is the health/drift status of a service instance as
// observed by the control plane.
type InstanceStatus string

const (
	// InstanceStatusHealthy means the instance reports the expected
	// configuration hash.
	InstanceStatusHealthy InstanceStatus = "healthy"
	// InstanceStatusUnhealthy means the instance stopped reporting
	// heartbeats within the stale threshold.
	InstanceStatusUnhealthy InstanceStatus = "unhealthy"
	// InstanceStatusDrift means the applied hash deviates from the
	// expected hash.
	InstanceStatusDrift InstanceStatus = "drift"
	// InstanceStatusUnknown means the expected hash could not be
	// determined, so drift cannot be classified.
	InstanceStatusUnknown InstanceStatus = "unknown"
)

var instanceStatusVariants = [4]InstanceStatus{
	InstanceStatusHealthy,
	InstanceStatusUnhealthy,
	InstanceStatusDrift,
	InstanceStatusUnknown,
}

// Parse attempts to interpret a value as a string representation of an
// InstanceStatus.
func (s *InstanceStatus) Parse(val string) error {
	for _, variant := range instanceStatusVariants {
		if string(variant) == val {
			*s = variant
			return nil
		}
	}
	return trace.BadParameter("unknown instance status: %q", val)
}

// ServiceInstance is the projection of a running process reporting
// heartbeats for an application service. Identity is the composite
// (ServiceID, InstanceID).
type ServiceInstance struct {
	// ServiceID is the owning application service.
	ServiceID string `json:"service_id"`
	// InstanceID identifies the reporting process within the service.
	InstanceID string `json:"instance_id"`
	// Host is the host reported by the instance.
	Host string `json:"host,omitempty"`
	// Port is the port reported by the instance.
	Port int `json:"port,omitempty"`
	// Environment is the environment the instance runs in.
	Environment string `json:"environment"`
	// Version is the build version reported by the instance.
	Version string `json:"version,omitempty"`
	// AppliedHash is the configuration hash the instance last reported.
	AppliedHash string `json:"applied_hash,omitempty"`
	// ExpectedHash is the hash the control plane compared against at
	// the last classification.
	ExpectedHash string `json:"expected_hash,omitempty"`
	// Status is the current classification of the instance.
	Status InstanceStatus `json:"status"`
	// HasDrift mirrors Status == drift.
	HasDrift bool `json:"has_drift"`
	// DriftDetectedAt is when the current drift episode started. Zero
	// when the instance has no drift.
	DriftDetectedAt time.Time `json:"drift_detected_at,omitempty"`
	// LastSeenAt is the receiver-clock timestamp of the last heartbeat.
	// Monotonically non-decreasing per instance.
	LastSeenAt time.Time `json:"last_seen_at"`
	// Metadata carries opaque key/value pairs from the heartbeat.
	Metadata map[string]string `json:"metadata,omitempty"`
	// CreatedAt is when the instance was first seen.
	CreatedAt time.Time `json:"created_at,omitempty"`
	// UpdatedAt is the last projection update timestamp.
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// CheckAndSetDefaults does basic validation and default setting.
func (i *ServiceInstance) CheckAndSetDefaults() error {
	if i.ServiceID == "" {
		return trace.BadParameter("service instance missing service ID")
	}
	if i.InstanceID == "" {
		return trace.BadParameter("service instance missing instance ID")
	}
	if i.Environment == "" {
		return trace.BadParameter("service instance %s/%s missing environment", i.ServiceID, i.InstanceID)
	}
	if i.Status == "" {
		i.Status = InstanceStatusUnknown
	}
	var status InstanceStatus
	if err := status.Parse(string(i.Status)); err != nil {
		return trace.Wrap(err)
	}
	if i.HasDrift != (i.Status == InstanceStatusDrift) {
		return trace.BadParameter("service instance %s/%s drift flag disagrees with status %q", i.ServiceID, i.InstanceID, i.Status)
	}
	return nil
}

// Clone returns a deep copy of the instance.
func (i *ServiceInstance) Clone() *ServiceInstance {
	out := *i
	out.Metadata = maps.Clone(i.Metadata)
	return &out
}

// InstanceFilter encodes filter params for service instances.
type InstanceFilter struct {
	// ServiceID matches instances of the service when set.
	ServiceID string
	// InstanceID matches the exact instance when set.
	InstanceID string
	// Environment matches instances in the environment when set.
	Environment string
	// Status matches instances with the status when set.
	Status InstanceStatus
}

// key values for map encoding of instance filter.
const (
	instanceFilterKeyServiceID   = "service_id"
	instanceFilterKeyInstanceID  = "instance_id"
	instanceFilterKeyEnvironment = "environment"
	instanceFilterKeyStatus      = "status"
)

// IntoMap copies InstanceFilter values into a map.
func (f *InstanceFilter) IntoMap() map[string]string {
	m := make(map[string]string)
	if f.ServiceID != "" {
		m[instanceFilterKeyServiceID] = f.ServiceID
	}
	if f.InstanceID != "" {
		m[instanceFilterKeyInstanceID] = f.InstanceID
	}
	if f.Environment != "" {
		m[instanceFilterKeyEnvironment] = f.Environment
	}
	if f.Status != "" {
		m[instanceFilterKeyStatus] = string(f.Status)
	}
	return m
}

// FromMap copies values from a map into this InstanceFilter value.
func (f *InstanceFilter) FromMap(m map[string]string) error {
	for key, val := range m {
		switch key {
		case instanceFilterKeyServiceID:
			f.ServiceID = val
		case instanceFilterKeyInstanceID:
			f.InstanceID = val
		case instanceFilterKeyEnvironment:
			f.Environment = val
		case instanceFilterKeyStatus:
			if err := f.Status.Parse(val); err != nil {
				return trace.Wrap(err)
			}
		default:
			return trace.BadParameter("unknown filter key %s", key)
		}
	}
	return nil
}

// Match checks if a given service instance matches this filter.
func (f *InstanceFilter) Match(instance *ServiceInstance) bool {
	if f.ServiceID != "" && instance.ServiceID != f.ServiceID {
		return false
	}
	if f.InstanceID != "" && instance.InstanceID != f.InstanceID {
		return false
	}
	if f.Environment != "" && instance.Environment != f.Environment {
		return false
	}
	if f.Status != "" && instance.Status != f.Status {
		return false
	}
	return true
}
