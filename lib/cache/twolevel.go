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
	"context"
	"log/slog"
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/confplane"
)

// TwoLevelConfig configures a two-level composite cache.
type TwoLevelConfig struct {
	// Name is the named cache this composite serves, used for metrics.
	Name string
	// L1 is the in-process tier.
	L1 Cache
	// L2 is the optional distributed tier. When nil the composite is
	// L1 alone.
	L2 Cache
	// WriteThrough propagates puts to L2. Disabled, L2 is only
	// populated by promotion from other replicas' writes.
	WriteThrough bool
	// Counters receives per-tier hit/miss/error counts for health
	// reporting, in addition to the prometheus metrics. Optional.
	Counters *Counters
	// Logger is the cache logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults checks and sets default values.
func (c *TwoLevelConfig) CheckAndSetDefaults() error {
	if c.Name == "" {
		return trace.BadParameter("missing parameter Name")
	}
	if c.L1 == nil {
		return trace.BadParameter("missing parameter L1")
	}
	if c.Logger == nil {
		c.Logger = slog.With(confplane.ComponentKey, confplane.ComponentCache)
	}
	return nil
}

// TwoLevel reads L1 first, falls through to L2 on a miss and promotes
// hits back into L1. L2 errors degrade the composite to L1-only
// behavior instead of failing the read. Eviction of a key removes it
// from both tiers.
type TwoLevel struct {
	cfg TwoLevelConfig
}

// NewTwoLevel returns a new two-level composite cache.
func NewTwoLevel(cfg TwoLevelConfig) (*TwoLevel, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &TwoLevel{cfg: cfg}, nil
}

// Get returns the cached value or a NotFound error.
func (t *TwoLevel) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := t.cfg.L1.Get(ctx, key)
	if err == nil {
		t.hit(tierL1)
		return value, nil
	}
	if !trace.IsNotFound(err) {
		return nil, trace.Wrap(err)
	}
	t.miss(tierL1)

	if t.cfg.L2 == nil {
		return nil, trace.NotFound("key %q is not cached", key)
	}
	value, err = t.cfg.L2.Get(ctx, key)
	if err != nil {
		if trace.IsNotFound(err) {
			t.miss(tierL2)
			return nil, trace.Wrap(err)
		}
		t.tierError(tierL2)
		t.cfg.Logger.DebugContext(ctx, "L2 read failed, degrading to L1 only",
			"cache", t.cfg.Name,
			"error", err,
		)
		return nil, trace.NotFound("key %q is not cached", key)
	}
	t.hit(tierL2)

	// Promote with the named cache TTL: the remaining L2 TTL is not
	// knowable cheaply, a full TTL only delays refresh by one period.
	if err := t.cfg.L1.Put(ctx, key, value, TTL(t.cfg.Name)); err != nil {
		t.cfg.Logger.DebugContext(ctx, "L1 promotion failed", "cache", t.cfg.Name, "error", err)
	}
	return value, nil
}

// Put stores a value in L1 and, when write-through is enabled, in L2.
func (t *TwoLevel) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := t.cfg.L1.Put(ctx, key, value, ttl); err != nil {
		return trace.Wrap(err)
	}
	if t.cfg.L2 == nil || !t.cfg.WriteThrough {
		return nil
	}
	if err := t.cfg.L2.Put(ctx, key, value, ttl); err != nil {
		t.tierError(tierL2)
		t.cfg.Logger.DebugContext(ctx, "L2 write failed", "cache", t.cfg.Name, "error", err)
	}
	return nil
}

// Delete drops an entry from both tiers.
func (t *TwoLevel) Delete(ctx context.Context, key string) error {
	if err := t.cfg.L1.Delete(ctx, key); err != nil {
		return trace.Wrap(err)
	}
	if t.cfg.L2 == nil {
		return nil
	}
	if err := t.cfg.L2.Delete(ctx, key); err != nil {
		t.tierError(tierL2)
		t.cfg.Logger.DebugContext(ctx, "L2 delete failed", "cache", t.cfg.Name, "error", err)
	}
	return nil
}

// Clear drops every entry from both tiers.
func (t *TwoLevel) Clear(ctx context.Context) error {
	if err := t.cfg.L1.Clear(ctx); err != nil {
		return trace.Wrap(err)
	}
	if t.cfg.L2 == nil {
		return nil
	}
	if err := t.cfg.L2.Clear(ctx); err != nil {
		t.tierError(tierL2)
		t.cfg.Logger.DebugContext(ctx, "L2 clear failed", "cache", t.cfg.Name, "error", err)
	}
	return nil
}

func (t *TwoLevel) hit(tier string) {
	hits.WithLabelValues(t.cfg.Name, tier).Inc()
	if t.cfg.Counters != nil {
		t.cfg.Counters.hit(tier)
	}
}

func (t *TwoLevel) miss(tier string) {
	misses.WithLabelValues(t.cfg.Name, tier).Inc()
	if t.cfg.Counters != nil {
		t.cfg.Counters.miss(tier)
	}
}

func (t *TwoLevel) tierError(tier string) {
	tierErrors.WithLabelValues(t.cfg.Name, tier).Inc()
	if t.cfg.Counters != nil {
		t.cfg.Counters.tierError(tier)
	}
}
