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

package backend

import (
	"context"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
)

// ReporterConfig configures the reporter wrapper.
type ReporterConfig struct {
	// Backend is the backend to wrap.
	Backend Backend
}

// CheckAndSetDefaults checks and sets default values.
func (r *ReporterConfig) CheckAndSetDefaults() error {
	if r.Backend == nil {
		return trace.BadParameter("missing parameter Backend")
	}
	return nil
}

// Reporter wraps a Backend implementation and reports statistics about
// the backend operations.
type Reporter struct {
	ReporterConfig
}

// NewReporter returns a new Reporter.
func NewReporter(cfg ReporterConfig) (*Reporter, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := registerReporterMetrics(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Reporter{ReporterConfig: cfg}, nil
}

// Create creates the item if it does not exist.
func (s *Reporter) Create(ctx context.Context, i Item) (*Lease, error) {
	start := s.Clock().Now()
	lease, err := s.Backend.Create(ctx, i)
	writeLatencies.Observe(time.Since(start).Seconds())
	writeRequests.Inc()
	if err != nil && !trace.IsAlreadyExists(err) {
		writeRequestsFailed.Inc()
	}
	return lease, err
}

// Put puts a value into the backend.
func (s *Reporter) Put(ctx context.Context, i Item) (*Lease, error) {
	start := s.Clock().Now()
	lease, err := s.Backend.Put(ctx, i)
	writeLatencies.Observe(time.Since(start).Seconds())
	writeRequests.Inc()
	if err != nil {
		writeRequestsFailed.Inc()
	}
	return lease, err
}

// Update updates the value in the backend.
func (s *Reporter) Update(ctx context.Context, i Item) (*Lease, error) {
	start := s.Clock().Now()
	lease, err := s.Backend.Update(ctx, i)
	writeLatencies.Observe(time.Since(start).Seconds())
	writeRequests.Inc()
	if err != nil && !trace.IsNotFound(err) {
		writeRequestsFailed.Inc()
	}
	return lease, err
}

// ConditionalUpdate updates the value if the stored revision matches.
func (s *Reporter) ConditionalUpdate(ctx context.Context, i Item) (*Lease, error) {
	start := s.Clock().Now()
	lease, err := s.Backend.ConditionalUpdate(ctx, i)
	writeLatencies.Observe(time.Since(start).Seconds())
	writeRequests.Inc()
	if err != nil && !trace.IsNotFound(err) && !trace.IsCompareFailed(err) {
		writeRequestsFailed.Inc()
	}
	return lease, err
}

// CompareAndSwap replaces the existing item with replaceWith if its
// value matches the value of expected.
func (s *Reporter) CompareAndSwap(ctx context.Context, expected Item, replaceWith Item) (*Lease, error) {
	start := s.Clock().Now()
	lease, err := s.Backend.CompareAndSwap(ctx, expected, replaceWith)
	writeLatencies.Observe(time.Since(start).Seconds())
	writeRequests.Inc()
	if err != nil && !trace.IsNotFound(err) && !trace.IsCompareFailed(err) {
		writeRequestsFailed.Inc()
	}
	return lease, err
}

// Get returns a single item or a NotFound error.
func (s *Reporter) Get(ctx context.Context, key Key) (*Item, error) {
	start := s.Clock().Now()
	item, err := s.Backend.Get(ctx, key)
	readLatencies.Observe(time.Since(start).Seconds())
	readRequests.Inc()
	if err != nil && !trace.IsNotFound(err) {
		readRequestsFailed.Inc()
	}
	return item, err
}

// GetRange returns items in the range [startKey, endKey].
func (s *Reporter) GetRange(ctx context.Context, startKey, endKey Key, limit int) (*GetResult, error) {
	start := s.Clock().Now()
	res, err := s.Backend.GetRange(ctx, startKey, endKey, limit)
	batchReadLatencies.Observe(time.Since(start).Seconds())
	batchReadRequests.Inc()
	if err != nil {
		batchReadRequestsFailed.Inc()
	}
	return res, err
}

// Delete deletes the item by key.
func (s *Reporter) Delete(ctx context.Context, key Key) error {
	start := s.Clock().Now()
	err := s.Backend.Delete(ctx, key)
	writeLatencies.Observe(time.Since(start).Seconds())
	writeRequests.Inc()
	if err != nil && !trace.IsNotFound(err) {
		writeRequestsFailed.Inc()
	}
	return err
}

// ConditionalDelete deletes the item if the stored revision matches.
func (s *Reporter) ConditionalDelete(ctx context.Context, key Key, revision string) error {
	start := s.Clock().Now()
	err := s.Backend.ConditionalDelete(ctx, key, revision)
	writeLatencies.Observe(time.Since(start).Seconds())
	writeRequests.Inc()
	if err != nil && !trace.IsNotFound(err) && !trace.IsCompareFailed(err) {
		writeRequestsFailed.Inc()
	}
	return err
}

// DeleteRange deletes the items in the range [startKey, endKey].
func (s *Reporter) DeleteRange(ctx context.Context, startKey, endKey Key) error {
	start := s.Clock().Now()
	err := s.Backend.DeleteRange(ctx, startKey, endKey)
	batchWriteLatencies.Observe(time.Since(start).Seconds())
	batchWriteRequests.Inc()
	if err != nil && !trace.IsNotFound(err) {
		batchWriteRequestsFailed.Inc()
	}
	return err
}

// Close releases the resources taken up by this backend.
func (s *Reporter) Close() error {
	return s.Backend.Close()
}

// Clock returns the clock used by this backend.
func (s *Reporter) Clock() clockwork.Clock {
	return s.Backend.Clock()
}

var (
	writeRequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "confplane_backend_write_requests_total",
			Help: "Number of write requests to the backend",
		},
	)
	writeRequestsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "confplane_backend_write_requests_failed_total",
			Help: "Number of failed write requests to the backend",
		},
	)
	batchWriteRequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "confplane_backend_batch_write_requests_total",
			Help: "Number of batch write requests to the backend",
		},
	)
	batchWriteRequestsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "confplane_backend_batch_write_requests_failed_total",
			Help: "Number of failed batch write requests to the backend",
		},
	)
	readRequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "confplane_backend_read_requests_total",
			Help: "Number of read requests to the backend",
		},
	)
	readRequestsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "confplane_backend_read_requests_failed_total",
			Help: "Number of failed read requests to the backend",
		},
	)
	batchReadRequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "confplane_backend_batch_read_requests_total",
			Help: "Number of batch read requests to the backend",
		},
	)
	batchReadRequestsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "confplane_backend_batch_read_requests_failed_total",
			Help: "Number of failed batch read requests to the backend",
		},
	)
	writeLatencies = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "confplane_backend_write_seconds",
			Help: "Latency for backend write operations",
			// lowest bucket start of upper bound 0.001 sec (1 ms) with factor 2
			// highest bucket start of 0.001 sec * 2^15 == 32.768 sec
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		},
	)
	batchWriteLatencies = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "confplane_backend_batch_write_seconds",
			Help:    "Latency for backend batch write operations",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		},
	)
	readLatencies = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "confplane_backend_read_seconds",
			Help:    "Latency for backend read operations",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		},
	)
	batchReadLatencies = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "confplane_backend_batch_read_seconds",
			Help:    "Latency for backend batch read operations",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		},
	)
)

func registerReporterMetrics() error {
	for _, c := range []prometheus.Collector{
		writeRequests, writeRequestsFailed,
		batchWriteRequests, batchWriteRequestsFailed,
		readRequests, readRequestsFailed,
		batchReadRequests, batchReadRequestsFailed,
		writeLatencies, batchWriteLatencies,
		readLatencies, batchReadLatencies,
	} {
		if err := prometheus.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return trace.Wrap(err)
		}
	}
	return nil
}
