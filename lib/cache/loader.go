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

	"github.com/gravitational/trace"
	"golang.org/x/sync/singleflight"
)

// LoadFunc fetches a value from the source on a cache miss.
type LoadFunc func(ctx context.Context) ([]byte, error)

// Loader is a read-through helper over one named cache. Concurrent
// misses of the same key collapse into a single source fetch.
type Loader struct {
	fabric *Fabric
	name   string
	group  singleflight.Group
}

// NewLoader returns a read-through loader over the named cache.
func NewLoader(fabric *Fabric, name string) *Loader {
	return &Loader{fabric: fabric, name: name}
}

// Get returns the cached value, loading and caching it on a miss.
func (l *Loader) Get(ctx context.Context, key string, load LoadFunc) ([]byte, error) {
	value, err := l.fabric.Get(ctx, l.name, key)
	if err == nil {
		return value, nil
	}
	if !trace.IsNotFound(err) {
		return nil, trace.Wrap(err)
	}

	out, err, _ := l.group.Do(key, func() (any, error) {
		// A concurrent loader may have filled the entry already.
		if value, err := l.fabric.Get(ctx, l.name, key); err == nil {
			return value, nil
		}
		value, err := load(ctx)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if err := l.fabric.Put(ctx, l.name, key, value); err != nil {
			return nil, trace.Wrap(err)
		}
		return value, nil
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return out.([]byte), nil
}
