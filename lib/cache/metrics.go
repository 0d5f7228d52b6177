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

package cache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gravitational/confplane"
	"github.com/gravitational/confplane/lib/utils"
)

// Metric tier labels.
const (
	tierL1 = "l1"
	tierL2 = "l2"
)

var (
	hits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: confplane.MetricNamespace,
			Name:      "cache_hits_total",
			Help:      "Cache hits per named cache and tier",
		},
		[]string{"cache", "tier"},
	)

	misses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: confplane.MetricNamespace,
			Name:      "cache_misses_total",
			Help:      "Cache misses per named cache and tier",
		},
		[]string{"cache", "tier"},
	)

	tierErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: confplane.MetricNamespace,
			Name:      "cache_errors_total",
			Help:      "Cache tier errors per named cache and tier",
		},
		[]string{"cache", "tier"},
	)

	invalidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: confplane.MetricNamespace,
			Name:      "cache_invalidations_total",
			Help:      "Invalidation events applied per named cache",
		},
		[]string{"cache"},
	)

	prewarmedEntries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: confplane.MetricNamespace,
			Name:      "cache_prewarmed_entries_total",
			Help:      "Expected hash entries populated by the pre-warmer",
		},
	)

	prewarmFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: confplane.MetricNamespace,
			Name:      "cache_prewarm_failures_total",
			Help:      "Pre-warm lookups that failed",
		},
	)
)

func registerMetrics() error {
	return utils.RegisterPrometheusCollectors(
		hits,
		misses,
		tierErrors,
		invalidations,
		prewarmedEntries,
		prewarmFailures,
	)
}
