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
	"errors"
	"time"

	"github.com/gravitational/trace"
	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the distributed cache tier.
type RedisConfig struct {
	// Client is the redis client. The caller owns its lifecycle.
	Client redis.UniversalClient
	// Namespace prefixes every key, isolating named caches sharing one
	// redis deployment.
	Namespace string
}

// CheckAndSetDefaults checks and sets default values.
func (c *RedisConfig) CheckAndSetDefaults() error {
	if c.Client == nil {
		return trace.BadParameter("missing parameter Client")
	}
	if c.Namespace == "" {
		c.Namespace = "confplane:cache"
	}
	return nil
}

// Redis is the L2 cache tier shared across control plane replicas.
type Redis struct {
	cfg RedisConfig
}

// NewRedis returns a new distributed cache tier.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Redis{cfg: cfg}, nil
}

func (r *Redis) storageKey(key string) string {
	return r.cfg.Namespace + ":" + key
}

// Get returns the cached value or a NotFound error.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.cfg.Client.Get(ctx, r.storageKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, trace.NotFound("key %q is not cached", key)
		}
		return nil, trace.ConnectionProblem(err, "reading key %q from redis", key)
	}
	return val, nil
}

// Put stores a value with the given TTL.
func (r *Redis) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.cfg.Client.Set(ctx, r.storageKey(key), value, ttl).Err(); err != nil {
		return trace.ConnectionProblem(err, "writing key %q to redis", key)
	}
	return nil
}

// Delete drops an entry.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.cfg.Client.Del(ctx, r.storageKey(key)).Err(); err != nil {
		return trace.ConnectionProblem(err, "deleting key %q from redis", key)
	}
	return nil
}

// Clear drops every entry under the namespace, scanning to avoid
// blocking redis on large keyspaces.
func (r *Redis) Clear(ctx context.Context) error {
	iter := r.cfg.Client.Scan(ctx, 0, r.cfg.Namespace+":*", 512).Iterator()
	for iter.Next(ctx) {
		if err := r.cfg.Client.Del(ctx, iter.Val()).Err(); err != nil {
			return trace.ConnectionProblem(err, "clearing redis namespace %q", r.cfg.Namespace)
		}
	}
	if err := iter.Err(); err != nil {
		return trace.ConnectionProblem(err, "scanning redis namespace %q", r.cfg.Namespace)
	}
	return nil
}
