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

// Package local implements the repository ports on top of the storage
// backend. Uniqueness constraints are realized as key layouts: every
// "unique index" of the data model is a key whose atomic Create stands
// in for the index insert.
package local

import (
	"github.com/gravitational/trace"

	"github.com/gravitational/confplane/lib/backend"
)

// Key prefixes of the persisted state layout.
const (
	// servicesPrefix holds application service records by ID.
	servicesPrefix = "services"
	// serviceItemsInfix separates service records from the name index.
	serviceItemsInfix = "items"
	// serviceNamesInfix holds the display name uniqueness markers.
	serviceNamesInfix = "names"

	// instancesPrefix holds instance projections by (service, instance).
	instancesPrefix = "instances"

	// driftPrefix holds drift events and the open-episode index.
	driftPrefix = "drift"
	// driftEventsInfix holds events by ID.
	driftEventsInfix = "events"
	// driftOpenInfix holds the open-episode markers by (service, instance).
	driftOpenInfix = "open"

	// sharesPrefix holds shares by (service, share).
	sharesPrefix = "shares"

	// approvalsPrefix holds approval requests and decisions.
	approvalsPrefix = "approvals"
	// approvalRequestsInfix holds requests by ID.
	approvalRequestsInfix = "requests"
	// approvalDecisionsInfix holds decisions by (request, approver, gate).
	approvalDecisionsInfix = "decisions"

	// identityPrefix holds user and team projections.
	identityPrefix = "identity"
	// identityUsersInfix holds user projections by ID.
	identityUsersInfix = "users"
	// identityTeamsInfix holds team projections by ID.
	identityTeamsInfix = "teams"
)

func serviceKey(id string) backend.Key {
	return backend.NewKey(servicesPrefix, serviceItemsInfix, id)
}

func serviceNameKey(displayName string) backend.Key {
	return backend.NewKey(servicesPrefix, serviceNamesInfix, displayName)
}

func instanceKey(serviceID, instanceID string) backend.Key {
	return backend.NewKey(instancesPrefix, serviceID, instanceID)
}

func driftEventKey(id string) backend.Key {
	return backend.NewKey(driftPrefix, driftEventsInfix, id)
}

func driftOpenKey(serviceID, instanceID string) backend.Key {
	return backend.NewKey(driftPrefix, driftOpenInfix, serviceID, instanceID)
}

func shareKey(serviceID, shareID string) backend.Key {
	return backend.NewKey(sharesPrefix, serviceID, shareID)
}

func approvalRequestKey(id string) backend.Key {
	return backend.NewKey(approvalsPrefix, approvalRequestsInfix, id)
}

func approvalDecisionKey(requestID, approverUserID string, gate string) backend.Key {
	return backend.NewKey(approvalsPrefix, approvalDecisionsInfix, requestID, approverUserID, gate)
}

func userKey(id string) backend.Key {
	return backend.NewKey(identityPrefix, identityUsersInfix, id)
}

func teamKey(id string) backend.Key {
	return backend.NewKey(identityPrefix, identityTeamsInfix, id)
}

// getRange pages through [startKey, RangeEnd(startKey)] collecting all
// items.
func getRange(items *backend.GetResult, err error) ([]backend.Item, error) {
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return items.Items, nil
}
