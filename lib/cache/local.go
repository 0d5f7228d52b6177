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
	"container/list"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
)

// LocalConfig configures the in-process cache tier.
type LocalConfig struct {
	// MaxSize bounds the number of entries; the least recently used
	// entry is evicted at the bound.
	MaxSize int
	// Clock overrides the clock in tests.
	Clock clockwork.Clock
}

// CheckAndSetDefaults checks and sets default values.
func (c *LocalConfig) CheckAndSetDefaults() error {
	if c.MaxSize < 0 {
		return trace.BadParameter("MaxSize cannot be negative")
	}
	if c.MaxSize == 0 {
		c.MaxSize = 16384
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Local is the L1 cache tier: in-process, size bounded with LRU
// eviction and per-entry expiry. Safe for concurrent use; no lock is
// held across I/O because there is none.
type Local struct {
	cfg LocalConfig

	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
}

type localEntry struct {
	key     string
	value   []byte
	expires time.Time
}

// NewLocal returns a new in-process cache.
func NewLocal(cfg LocalConfig) (*Local, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Local{
		cfg:     cfg,
		entries: make(map[string]*list.Element),
		lru:     list.New(),
	}, nil
}

// Get returns the cached value or a NotFound error.
func (l *Local) Get(ctx context.Context, key string) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	el, ok := l.entries[key]
	if !ok {
		return nil, trace.NotFound("key %q is not cached", key)
	}
	entry := el.Value.(*localEntry)
	if !entry.expires.IsZero() && !l.cfg.Clock.Now().Before(entry.expires) {
		l.removeLocked(el)
		return nil, trace.NotFound("key %q is not cached", key)
	}
	l.lru.MoveToFront(el)
	return slices.Clone(entry.value), nil
}

// Put stores a value with the given TTL.
func (l *Local) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expires time.Time
	if ttl > 0 {
		expires = l.cfg.Clock.Now().Add(ttl)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.entries[key]; ok {
		entry := el.Value.(*localEntry)
		entry.value = slices.Clone(value)
		entry.expires = expires
		l.lru.MoveToFront(el)
		return nil
	}
	l.entries[key] = l.lru.PushFront(&localEntry{
		key:     key,
		value:   slices.Clone(value),
		expires: expires,
	})
	for len(l.entries) > l.cfg.MaxSize {
		l.removeLocked(l.lru.Back())
	}
	return nil
}

// Delete drops an entry.
func (l *Local) Delete(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.entries[key]; ok {
		l.removeLocked(el)
	}
	return nil
}

// Clear drops every entry.
func (l *Local) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]*list.Element)
	l.lru.Init()
	return nil
}

// Len returns the number of live entries, counting expired entries
// that have not been touched yet.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Local) removeLocked(el *list.Element) {
	entry := el.Value.(*localEntry)
	delete(l.entries, entry.key)
	l.lru.Remove(el)
}
