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
	"context"
	"log/slog"

	"github.com/gravitational/trace"
	"github.com/sony/gobreaker"

	"github.com/gravitational/confplane"
	"github.com/gravitational/confplane/lib/defaults"
	"github.com/gravitational/confplane/lib/events"
)

// RefreshPublisherConfig configures a RefreshPublisher.
type RefreshPublisherConfig struct {
	// Publisher is the underlying bus.
	Publisher Publisher
	// Logger is the publisher logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults checks and sets default values.
func (c *RefreshPublisherConfig) CheckAndSetDefaults() error {
	if c.Publisher == nil {
		return trace.BadParameter("missing parameter Publisher")
	}
	if c.Logger == nil {
		c.Logger = slog.With(confplane.ComponentKey, confplane.ComponentBus)
	}
	return nil
}

// RefreshPublisher emits targeted refresh signals. Publishing is fire
// and forget: failures and an open circuit breaker drop the signal and
// bump a counter, the drift record stays behind so an operator can
// re-trigger the refresh by hand.
type RefreshPublisher struct {
	cfg     RefreshPublisherConfig
	breaker *gobreaker.CircuitBreaker
}

// NewRefreshPublisher returns a new refresh publisher.
func NewRefreshPublisher(cfg RefreshPublisherConfig) (*RefreshPublisher, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := registerMetrics(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &RefreshPublisher{
		cfg: cfg,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "refresh-publisher",
			Timeout: defaults.BreakerRecoveryInterval,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= defaults.BreakerConsecutiveFailures
			},
		}),
	}, nil
}

// Publish emits a refresh signal for the destination. The returned
// error is informational: callers must not fail their business
// operation on it.
func (p *RefreshPublisher) Publish(ctx context.Context, dst events.Destination) error {
	payload, err := events.MarshalRefresh(dst)
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = p.breaker.Execute(func() (any, error) {
		return nil, p.cfg.Publisher.Publish(ctx, events.TopicRefresh, payload)
	})
	if err != nil {
		refreshDropped.Inc()
		p.cfg.Logger.WarnContext(ctx, "Dropped refresh signal",
			"destination", dst.String(),
			"error", err,
		)
		return trace.Wrap(err)
	}
	refreshPublished.Inc()
	return nil
}
