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

package inventory

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gravitational/confplane"
	"github.com/gravitational/confplane/lib/utils"
)

var (
	heartbeatsReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: confplane.MetricNamespace,
			Name:      "heartbeats_received_total",
			Help:      "Heartbeats accepted by the ingest pipeline",
		},
	)
	heartbeatsDeduped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: confplane.MetricNamespace,
			Name:      "heartbeats_deduped_total",
			Help:      "Heartbeats collapsed by the dedup window",
		},
	)
	heartbeatsRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: confplane.MetricNamespace,
			Name:      "heartbeats_rejected_total",
			Help:      "Heartbeats rejected because the worker pool was saturated",
		},
	)
	driftOpened = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: confplane.MetricNamespace,
			Name:      "drift_events_opened_total",
			Help:      "Drift episodes opened by the ingest pipeline",
		},
	)
	driftResolved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: confplane.MetricNamespace,
			Name:      "drift_events_resolved_total",
			Help:      "Drift episodes resolved by the ingest pipeline",
		},
	)
	staleMarked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: confplane.MetricNamespace,
			Name:      "stale_instances_marked_total",
			Help:      "Instances marked unhealthy by the reaper",
		},
	)
	staleDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: confplane.MetricNamespace,
			Name:      "stale_instances_deleted_total",
			Help:      "Instances deleted by the reaper",
		},
	)
)

func registerMetrics() error {
	return utils.RegisterPrometheusCollectors(
		heartbeatsReceived,
		heartbeatsDeduped,
		heartbeatsRejected,
		driftOpened,
		driftResolved,
		staleMarked,
		staleDeleted,
	)
}
