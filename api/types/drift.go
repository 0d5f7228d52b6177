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

// DriftSeverity grades how serious a drift episode is, derived from the
// environment of the drifting instance at detection time.
type DriftSeverity string

const (
	// SeverityLow marks drift that carries no operational risk.
	SeverityLow DriftSeverity = "low"
	// SeverityMedium is the default severity for non-production drift.
	SeverityMedium DriftSeverity = "medium"
	// SeverityHigh is the default severity for production drift.
	SeverityHigh DriftSeverity = "high"
	// SeverityCritical marks drift requiring immediate operator action.
	SeverityCritical DriftSeverity = "critical"
)

var driftSeverityVariants = [4]DriftSeverity{
	SeverityLow,
	SeverityMedium,
	SeverityHigh,
	SeverityCritical,
}

// Parse attempts to interpret a value as a string representation of a
// DriftSeverity.
func (s *DriftSeverity) Parse(val string) error {
	for _, variant := range driftSeverityVariants {
		if string(variant) == val {
			*s = variant
			return nil
		}
	}
	return trace.BadParameter("unknown drift severity: %q", val)
}

// DriftStatus is the lifecycle state of a drift event.
type DriftStatus string

const (
	// DriftStatusDetected is the initial state of a freshly opened
	// drift event.
	DriftStatusDetected DriftStatus = "detected"
	// DriftStatusAcknowledged means an operator has seen the event.
	DriftStatusAcknowledged DriftStatus = "acknowledged"
	// DriftStatusResolving means remediation is in progress.
	DriftStatusResolving DriftStatus = "resolving"
	// DriftStatusResolved is terminal: the applied hash matches the
	// expected hash again, or the episode was closed by the reaper.
	DriftStatusResolved DriftStatus = "resolved"
	// DriftStatusIgnored is terminal: an operator dismissed the event.
	DriftStatusIgnored DriftStatus = "ignored"
)

var driftStatusVariants = [5]DriftStatus{
	DriftStatusDetected,
	DriftStatusAcknowledged,
	DriftStatusResolving,
	DriftStatusResolved,
	DriftStatusIgnored,
}

// Parse attempts to interpret a value as a string representation of a
// DriftStatus.
func (s *DriftStatus) Parse(val string) error {
	for _, variant := range driftStatusVariants {
		if string(variant) == val {
			*s = variant
			return nil
		}
	}
	return trace.BadParameter("unknown drift status: %q", val)
}

// IsTerminal reports whether the status permits no further transitions.
func (s DriftStatus) IsTerminal() bool {
	return s == DriftStatusResolved || s == DriftStatusIgnored
}

// driftTransitions lists the permitted lifecycle transitions.
var driftTransitions = map[DriftStatus][]DriftStatus{
	DriftStatusDetected:     {DriftStatusAcknowledged, DriftStatusResolving, DriftStatusResolved, DriftStatusIgnored},
	DriftStatusAcknowledged: {DriftStatusResolving, DriftStatusResolved, DriftStatusIgnored},
	DriftStatusResolving:    {DriftStatusResolved, DriftStatusIgnored},
}

// CanTransition reports whether the lifecycle permits moving from this
// status to next.
func (s DriftStatus) CanTransition(next DriftStatus) bool {
	for _, allowed := range driftTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// DriftEvent records one drift episode for a service instance. At most
// one non-terminal event exists per (ServiceID, InstanceID) at any time.
type DriftEvent struct {
	// ID is the unique event ID.
	ID string `json:"id"`
	// ServiceID is the drifting service.
	ServiceID string `json:"service_id"`
	// InstanceID is the drifting instance.
	InstanceID string `json:"instance_id"`
	// TeamID snapshots the service owner team at detection time.
	TeamID string `json:"team_id,omitempty"`
	// Environment is the environment of the drifting instance.
	Environment string `json:"environment"`
	// ExpectedHash is the hash published by the source of truth.
	ExpectedHash string `json:"expected_hash"`
	// AppliedHash is the hash the instance reported. Updated in place
	// while the episode stays open.
	AppliedHash string `json:"applied_hash"`
	// Severity grades the episode.
	Severity DriftSeverity `json:"severity"`
	// Status is the lifecycle state.
	Status DriftStatus `json:"status"`
	// DetectedAt is when the episode was opened.
	DetectedAt time.Time `json:"detected_at"`
	// ResolvedAt is set exactly when Status is resolved.
	ResolvedAt time.Time `json:"resolved_at,omitempty"`
	// DetectedBy is the actor that opened the episode, "system" for
	// the ingest pipeline.
	DetectedBy string `json:"detected_by,omitempty"`
	// ResolvedBy is the actor that closed the episode.
	ResolvedBy string `json:"resolved_by,omitempty"`
	// Notes carries operator annotations.
	Notes string `json:"notes,omitempty"`
}

// CheckAndSetDefaults does basic validation and default setting.
func (e *DriftEvent) CheckAndSetDefaults() error {
	if e.ID == "" {
		return trace.BadParameter("drift event missing ID")
	}
	if e.ServiceID == "" {
		return trace.BadParameter("drift event %s missing service ID", e.ID)
	}
	if e.InstanceID == "" {
		return trace.BadParameter("drift event %s missing instance ID", e.ID)
	}
	if e.Status == "" {
		e.Status = DriftStatusDetected
	}
	var status DriftStatus
	if err := status.Parse(string(e.Status)); err != nil {
		return trace.Wrap(err)
	}
	if e.Severity == "" {
		e.Severity = SeverityMedium
	}
	var severity DriftSeverity
	if err := severity.Parse(string(e.Severity)); err != nil {
		return trace.Wrap(err)
	}
	if (e.Status == DriftStatusResolved) != !e.ResolvedAt.IsZero() {
		return trace.BadParameter("drift event %s resolution timestamp disagrees with status %q", e.ID, e.Status)
	}
	return nil
}

// Transition moves the event to the next lifecycle state, stamping
// resolution fields when the episode closes. Terminal events return a
// CompareFailed error.
func (e *DriftEvent) Transition(next DriftStatus, actor string, now time.Time) error {
	if e.Status.IsTerminal() {
		return trace.CompareFailed("drift event %s is already terminal (%s)", e.ID, e.Status)
	}
	if !e.Status.CanTransition(next) {
		return trace.BadParameter("drift event %s cannot transition from %s to %s", e.ID, e.Status, next)
	}
	e.Status = next
	if next == DriftStatusResolved {
		e.ResolvedAt = now
		e.ResolvedBy = actor
	}
	return nil
}

// Clone returns a deep copy of the event.
func (e *DriftEvent) Clone() *DriftEvent {
	out := *e
	return &out
}

// DriftEventFilter encodes filter params for drift events.
type DriftEventFilter struct {
	// ServiceID matches events of the service when set.
	ServiceID string
	// InstanceID matches events of the instance when set.
	InstanceID string
	// Status matches events in the lifecycle state when set.
	Status DriftStatus
	// Severity matches events of the severity when set.
	Severity DriftSeverity
	// NonTerminal matches only open events when true.
	NonTerminal bool
}

// key values for map encoding of drift event filter.
const (
	driftFilterKeyServiceID   = "service_id"
	driftFilterKeyInstanceID  = "instance_id"
	driftFilterKeyStatus      = "status"
	driftFilterKeySeverity    = "severity"
	driftFilterKeyNonTerminal = "non_terminal"
)

// IntoMap copies DriftEventFilter values into a map.
func (f *DriftEventFilter) IntoMap() map[string]string {
	m := make(map[string]string)
	if f.ServiceID != "" {
		m[driftFilterKeyServiceID] = f.ServiceID
	}
	if f.InstanceID != "" {
		m[driftFilterKeyInstanceID] = f.InstanceID
	}
	if f.Status != "" {
		m[driftFilterKeyStatus] = string(f.Status)
	}
	if f.Severity != "" {
		m[driftFilterKeySeverity] = string(f.Severity)
	}
	if f.NonTerminal {
		m[driftFilterKeyNonTerminal] = "true"
	}
	return m
}

// FromMap copies values from a map into this DriftEventFilter value.
func (f *DriftEventFilter) FromMap(m map[string]string) error {
	for key, val := range m {
		switch key {
		case driftFilterKeyServiceID:
			f.ServiceID = val
		case driftFilterKeyInstanceID:
			f.InstanceID = val
		case driftFilterKeyStatus:
			if err := f.Status.Parse(val); err != nil {
				return trace.Wrap(err)
			}
		case driftFilterKeySeverity:
			if err := f.Severity.Parse(val); err != nil {
				return trace.Wrap(err)
			}
		case driftFilterKeyNonTerminal:
			f.NonTerminal = val == "true"
		default:
			return trace.BadParameter("unknown filter key %s", key)
		}
	}
	return nil
}

// Match checks if a given drift event matches this filter.
func (f *DriftEventFilter) Match(event *DriftEvent) bool {
	if f.ServiceID != "" && event.ServiceID != f.ServiceID {
		return false
	}
	if f.InstanceID != "" && event.InstanceID != f.InstanceID {
		return false
	}
	if f.Status != "" && event.Status != f.Status {
		return false
	}
	if f.Severity != "" && event.Severity != f.Severity {
		return false
	}
	if f.NonTerminal && event.Status.IsTerminal() {
		return false
	}
	return true
}

// DriftStatistics aggregates drift events for reporting.
type DriftStatistics struct {
	// Total counts all events in scope.
	Total int `json:"total"`
	// Unresolved counts non-terminal events.
	Unresolved int `json:"unresolved"`
	// ByStatus counts events per lifecycle state.
	ByStatus map[DriftStatus]int `json:"by_status"`
	// BySeverity counts events per severity.
	BySeverity map[DriftSeverity]int `json:"by_severity"`
	// AffectedInstances counts distinct instances with a non-terminal
	// event.
	AffectedInstances int `json:"affected_instances"`
}
