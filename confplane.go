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

// Package confplane holds the constants shared across the configuration
// control plane.
package confplane

// ComponentKey is the logging attribute key holding the component name.
const ComponentKey = "component"

// MetricNamespace is the prometheus namespace of every control plane
// metric.
const MetricNamespace = "confplane"

const (
	// ComponentIngest is the heartbeat ingest pipeline.
	ComponentIngest = "ingest"

	// ComponentReaper is the stale instance reaper.
	ComponentReaper = "reaper"

	// ComponentDrift is the drift lifecycle service.
	ComponentDrift = "drift"

	// ComponentAuthz is the access control evaluator.
	ComponentAuthz = "authz"

	// ComponentApproval is the approval workflow.
	ComponentApproval = "approval"

	// ComponentCompensator is the ownership side-effect retry loop.
	ComponentCompensator = "compensator"

	// ComponentCache is the cache fabric.
	ComponentCache = "cache"

	// ComponentPreWarmer is the startup cache pre-warmer.
	ComponentPreWarmer = "prewarmer"

	// ComponentBus is the refresh and invalidation bus.
	ComponentBus = "bus"

	// ComponentCSoT is the configuration source of truth adapter.
	ComponentCSoT = "csot"

	// ComponentIdP is the identity provider adapter.
	ComponentIdP = "idp"

	// ComponentBackend is the storage backend.
	ComponentBackend = "backend"

	// ComponentWeb is the operational HTTP API.
	ComponentWeb = "web"

	// ComponentProcess is the supervisor wiring everything together.
	ComponentProcess = "process"
)

// Version is the control plane release version.
const Version = "0.3.0"
