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

// Package events defines the message grammar of the control plane bus:
// refresh destinations and cache invalidation envelopes.
package events

import (
	"strings"

	"github.com/gravitational/trace"

	"github.com/gravitational/confplane/lib/utils"
)

// Bus topics.
const (
	// TopicRefresh carries targeted configuration refresh signals.
	TopicRefresh = "refresh"
	// TopicInvalidation carries cache invalidation fan-out.
	TopicInvalidation = "cache-invalidation"
)

// Wildcard matches any service or instance in a destination.
const Wildcard = "*"

// Destination addresses a refresh signal: a single instance
// ("serviceID:instanceID"), every instance of a service ("serviceID" or
// "serviceID:*"), or everything ("*" or "*:*").
type Destination struct {
	// ServiceID is the targeted service, or Wildcard.
	ServiceID string
	// InstanceID is the targeted instance, or Wildcard.
	InstanceID string
}

// NewDestination addresses a single instance of a service.
func NewDestination(serviceID, instanceID string) Destination {
	return Destination{ServiceID: serviceID, InstanceID: instanceID}
}

// ServiceDestination addresses every instance of a service.
func ServiceDestination(serviceID string) Destination {
	return Destination{ServiceID: serviceID, InstanceID: Wildcard}
}

// Broadcast addresses every instance of every service.
func Broadcast() Destination {
	return Destination{ServiceID: Wildcard, InstanceID: Wildcard}
}

// ParseDestination parses the "<serviceID>[:<instanceID>]" grammar. A
// missing instance part means every instance of the service.
func ParseDestination(val string) (Destination, error) {
	if val == "" {
		return Destination{}, trace.BadParameter("missing refresh destination")
	}
	serviceID, instanceID, found := strings.Cut(val, ":")
	if !found {
		instanceID = Wildcard
	}
	if serviceID == "" || instanceID == "" || strings.Contains(instanceID, ":") {
		return Destination{}, trace.BadParameter("malformed refresh destination %q, expected <serviceID>[:<instanceID>]", val)
	}
	return Destination{ServiceID: serviceID, InstanceID: instanceID}, nil
}

// String encodes the destination in the wire grammar.
func (d Destination) String() string {
	return d.ServiceID + ":" + d.InstanceID
}

// Matches reports whether the destination covers the given instance.
func (d Destination) Matches(serviceID, instanceID string) bool {
	if d.ServiceID != Wildcard && d.ServiceID != serviceID {
		return false
	}
	return d.InstanceID == Wildcard || d.InstanceID == instanceID
}

// Refresh is the refresh signal published on TopicRefresh. The body
// carries no configuration content; receivers reconcile via their own
// pull.
type Refresh struct {
	// Destination selects the receiving instances.
	Destination string `json:"destination"`
}

// MarshalRefresh encodes a refresh signal for the wire.
func MarshalRefresh(dst Destination) ([]byte, error) {
	return utils.FastMarshal(Refresh{Destination: dst.String()})
}

// UnmarshalRefresh decodes a refresh signal from the wire.
func UnmarshalRefresh(data []byte) (Destination, error) {
	var msg Refresh
	if err := utils.FastUnmarshal(data, &msg); err != nil {
		return Destination{}, trace.Wrap(err)
	}
	dst, err := ParseDestination(msg.Destination)
	if err != nil {
		return Destination{}, trace.Wrap(err)
	}
	return dst, nil
}

// Invalidation asks every replica to drop cached entries. An empty Key
// clears the whole named cache; an empty Cache clears every cache.
type Invalidation struct {
	// Cache is the named cache to clear.
	Cache string `json:"cache,omitempty"`
	// Key is the entry to drop within the cache.
	Key string `json:"key,omitempty"`
}

// MarshalInvalidation encodes an invalidation for the wire.
func MarshalInvalidation(inv Invalidation) ([]byte, error) {
	return utils.FastMarshal(inv)
}

// UnmarshalInvalidation decodes an invalidation from the wire.
func UnmarshalInvalidation(data []byte) (Invalidation, error) {
	var inv Invalidation
	if err := utils.FastUnmarshal(data, &inv); err != nil {
		return Invalidation{}, trace.Wrap(err)
	}
	return inv, nil
}
