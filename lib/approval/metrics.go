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

package approval

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gravitational/confplane"
	"github.com/gravitational/confplane/lib/utils"
)

var (
	requestsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: confplane.MetricNamespace,
			Name:      "approval_requests_created_total",
			Help:      "Approval requests opened",
		},
	)
	requestsResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: confplane.MetricNamespace,
			Name:      "approval_requests_resolved_total",
			Help:      "Approval requests resolved, by terminal state",
		},
		[]string{"state"},
	)
	decisionsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: confplane.MetricNamespace,
			Name:      "approval_decisions_recorded_total",
			Help:      "Gate decisions recorded, by verdict",
		},
		[]string{"decision"},
	)
	sideEffectsApplied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: confplane.MetricNamespace,
			Name:      "approval_side_effects_applied_total",
			Help:      "Ownership transfers durably applied",
		},
	)
	sideEffectsRetried = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: confplane.MetricNamespace,
			Name:      "approval_side_effects_retried_total",
			Help:      "Ownership transfers re-attempted by the compensating loop",
		},
	)
	requestsPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: confplane.MetricNamespace,
			Name:      "approval_requests_pruned_total",
			Help:      "Terminal approval requests removed by the pruner",
		},
	)
)

func registerMetrics() error {
	return utils.RegisterPrometheusCollectors(
		requestsCreated,
		requestsResolved,
		decisionsRecorded,
		sideEffectsApplied,
		sideEffectsRetried,
		requestsPruned,
	)
}
