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
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/gravitational/confplane"
	"github.com/gravitational/confplane/lib/bus"
	"github.com/gravitational/confplane/lib/defaults"
	"github.com/gravitational/confplane/lib/events"
)

// FabricConfig configures the cache fabric.
type FabricConfig struct {
	// Redis enables the distributed L2 tier when set. The caller owns
	// the client lifecycle.
	Redis redis.UniversalClient
	// Bus fans invalidations out across replicas. Without a bus,
	// invalidation stays local to this process.
	Bus bus.Bus
	// MaxSize bounds every L1 cache.
	MaxSize int
	// Clock overrides the clock in tests.
	Clock clockwork.Clock
	// Logger is the fabric logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults checks and sets default values.
func (c *FabricConfig) CheckAndSetDefaults() error {
	if c.MaxSize == 0 {
		c.MaxSize = defaults.CacheSize
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(confplane.ComponentKey, confplane.ComponentCache)
	}
	return nil
}

type namedCache struct {
	name     string
	local    *Local
	cache    *TwoLevel
	counters *Counters
}

// Fabric owns the named caches of the control plane and replicates
// invalidation across replicas via the bus.
type Fabric struct {
	cfg    FabricConfig
	caches map[string]*namedCache
	sub    bus.Subscription
	done   chan struct{}
}

// NewFabric builds the named caches and, when a bus is configured,
// subscribes to the invalidation topic.
func NewFabric(ctx context.Context, cfg FabricConfig) (*Fabric, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := registerMetrics(); err != nil {
		return nil, trace.Wrap(err)
	}

	f := &Fabric{
		cfg:    cfg,
		caches: make(map[string]*namedCache, len(Names())),
		done:   make(chan struct{}),
	}
	for _, name := range Names() {
		local, err := NewLocal(LocalConfig{MaxSize: cfg.MaxSize, Clock: cfg.Clock})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		var l2 Cache
		if cfg.Redis != nil && distributed(name) {
			l2, err = NewRedis(RedisConfig{
				Client:    cfg.Redis,
				Namespace: "confplane:cache:" + name,
			})
			if err != nil {
				return nil, trace.Wrap(err)
			}
		}
		counters := &Counters{}
		two, err := NewTwoLevel(TwoLevelConfig{
			Name:         name,
			L1:           local,
			L2:           l2,
			WriteThrough: true,
			Counters:     counters,
			Logger:       cfg.Logger,
		})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		f.caches[name] = &namedCache{
			name:     name,
			local:    local,
			cache:    two,
			counters: counters,
		}
	}

	if cfg.Bus != nil {
		sub, err := cfg.Bus.Subscribe(ctx, events.TopicInvalidation)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		f.sub = sub
		go f.replicate(ctx)
	}
	return f, nil
}

// distributed reports whether a named cache uses the L2 tier. The
// heartbeat dedup cache is deliberately process-local: deduplication is
// an ingestion-path optimization, not shared state.
func distributed(name string) bool {
	return name != HeartbeatDedup
}

// Named returns a named cache.
func (f *Fabric) Named(name string) (Cache, error) {
	nc, ok := f.caches[name]
	if !ok {
		return nil, trace.NotFound("cache %q is not known", name)
	}
	return nc.cache, nil
}

// Get reads a key from a named cache.
func (f *Fabric) Get(ctx context.Context, name, key string) ([]byte, error) {
	nc, ok := f.caches[name]
	if !ok {
		return nil, trace.NotFound("cache %q is not known", name)
	}
	return nc.cache.Get(ctx, key)
}

// Put writes a key to a named cache with the cache's default TTL.
func (f *Fabric) Put(ctx context.Context, name, key string, value []byte) error {
	return f.PutWithTTL(ctx, name, key, value, TTL(name))
}

// PutWithTTL writes a key to a named cache with an explicit TTL.
func (f *Fabric) PutWithTTL(ctx context.Context, name, key string, value []byte, ttl time.Duration) error {
	nc, ok := f.caches[name]
	if !ok {
		return trace.NotFound("cache %q is not known", name)
	}
	return nc.cache.Put(ctx, key, value, ttl)
}

// Invalidate drops a key locally and broadcasts the invalidation to
// every replica. An empty key clears the whole named cache.
func (f *Fabric) Invalidate(ctx context.Context, name, key string) error {
	if err := f.apply(ctx, events.Invalidation{Cache: name, Key: key}); err != nil {
		return trace.Wrap(err)
	}
	return f.broadcast(ctx, events.Invalidation{Cache: name, Key: key})
}

// InvalidateAll clears every named cache on every replica.
func (f *Fabric) InvalidateAll(ctx context.Context) error {
	if err := f.apply(ctx, events.Invalidation{}); err != nil {
		return trace.Wrap(err)
	}
	return f.broadcast(ctx, events.Invalidation{})
}

func (f *Fabric) broadcast(ctx context.Context, inv events.Invalidation) error {
	if f.cfg.Bus == nil {
		return nil
	}
	payload, err := events.MarshalInvalidation(inv)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := f.cfg.Bus.Publish(ctx, events.TopicInvalidation, payload); err != nil {
		// Best effort: the local clear already happened and remote
		// entries still expire by TTL.
		f.cfg.Logger.WarnContext(ctx, "Failed to broadcast cache invalidation",
			"cache", inv.Cache,
			"error", err,
		)
	}
	return nil
}

// apply executes one invalidation against the local tiers.
func (f *Fabric) apply(ctx context.Context, inv events.Invalidation) error {
	if inv.Cache == "" {
		for _, nc := range f.caches {
			if err := nc.cache.Clear(ctx); err != nil {
				return trace.Wrap(err)
			}
			invalidations.WithLabelValues(nc.name).Inc()
		}
		return nil
	}
	nc, ok := f.caches[inv.Cache]
	if !ok {
		return trace.NotFound("cache %q is not known", inv.Cache)
	}
	invalidations.WithLabelValues(nc.name).Inc()
	if inv.Key == "" {
		return trace.Wrap(nc.cache.Clear(ctx))
	}
	return trace.Wrap(nc.cache.Delete(ctx, inv.Key))
}

// replicate consumes the invalidation topic. Messages published by
// this replica are applied twice, which is harmless.
func (f *Fabric) replicate(ctx context.Context) {
	for {
		select {
		case msg, ok := <-f.sub.Events():
			if !ok {
				return
			}
			inv, err := events.UnmarshalInvalidation(msg.Payload)
			if err != nil {
				f.cfg.Logger.WarnContext(ctx, "Dropping malformed invalidation", "error", err)
				continue
			}
			if err := f.apply(ctx, inv); err != nil && !trace.IsNotFound(err) {
				f.cfg.Logger.WarnContext(ctx, "Failed to apply invalidation",
					"cache", inv.Cache,
					"error", err,
				)
			}
		case <-f.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stats snapshots every named cache for health reporting.
func (f *Fabric) Stats() map[string]Stats {
	out := make(map[string]Stats, len(f.caches))
	for name, nc := range f.caches {
		out[name] = nc.counters.Snapshot(nc.local.Len())
	}
	return out
}

// Close stops invalidation replication. Cached entries remain readable
// until process exit.
func (f *Fabric) Close() error {
	select {
	case <-f.done:
	default:
		close(f.done)
	}
	if f.sub != nil {
		return trace.Wrap(f.sub.Close())
	}
	return nil
}
