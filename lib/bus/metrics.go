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

package bus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gravitational/confplane"
	"github.com/gravitational/confplane/lib/utils"
)

var (
	droppedMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: confplane.MetricNamespace,
			Name:      "bus_dropped_messages_total",
			Help:      "Messages dropped because a subscriber buffer was full",
		},
		[]string{"topic"},
	)

	refreshPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: confplane.MetricNamespace,
			Name:      "refresh_published_total",
			Help:      "Refresh signals published on the bus",
		},
	)

	refreshDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: confplane.MetricNamespace,
			Name:      "refresh_dropped_total",
			Help:      "Refresh signals dropped due to publish failures or an open circuit breaker",
		},
	)
)

func registerMetrics() error {
	return utils.RegisterPrometheusCollectors(
		droppedMessages,
		refreshPublished,
		refreshDropped,
	)
}
