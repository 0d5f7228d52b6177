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

// Package memory implements the storage backend on top of a sorted
// in-process btree. It is the backend used by tests and single-node
// deployments.
package memory

import (
	"bytes"
	"context"
	"log/slog"
	"sync"

	"github.com/google/btree"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/confplane/lib/backend"
)

// BTreeDegree of 8 is standard for in-memory btrees.
const BTreeDegree = 8

// Config holds memory backend configuration.
type Config struct {
	// Clock overrides the clock in tests.
	Clock clockwork.Clock
	// Mirror turns the backend into a non-authoritative mirror that
	// accepts writes with pre-assigned revisions.
	Mirror bool
}

// CheckAndSetDefaults checks and sets default values.
func (c *Config) CheckAndSetDefaults() error {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// New creates a new memory backend.
func New(cfg Config) (*Memory, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Memory{
		cfg: cfg,
		tree: btree.NewG(BTreeDegree, func(a, b *btreeItem) bool {
			return a.Less(b)
		}),
		heap:   newMinHeap(),
		logger: slog.With("component", "backend:memory"),
	}, nil
}

// Memory is a sorted in-process key/value store with per-item expiry.
// Expired items are collected lazily before every operation.
type Memory struct {
	mu     sync.Mutex
	cfg    Config
	logger *slog.Logger
	// tree orders live items by key.
	tree *btree.BTreeG[*btreeItem]
	// heap orders live items by expiry, soonest first.
	heap *minHeap
}

// Close closes the backend.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree.Clear(false)
	m.heap = newMinHeap()
	return nil
}

// Clock returns the clock used by this backend.
func (m *Memory) Clock() clockwork.Clock {
	return m.cfg.Clock
}

// Create creates the item if it does not exist, and returns an
// AlreadyExists error otherwise.
func (m *Memory) Create(ctx context.Context, i backend.Item) (*backend.Lease, error) {
	if i.Key.IsZero() {
		return nil, trace.BadParameter("missing parameter key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeExpired()
	if _, found := m.tree.Get(&btreeItem{Item: i}); found {
		return nil, trace.AlreadyExists("key %q already exists", i.Key)
	}
	if !m.cfg.Mirror {
		i.Revision = backend.CreateRevision()
	}
	m.set(i)
	return m.lease(i), nil
}

// Get returns a single item or a NotFound error.
func (m *Memory) Get(ctx context.Context, key backend.Key) (*backend.Item, error) {
	if key.IsZero() {
		return nil, trace.BadParameter("missing parameter key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeExpired()
	item, found := m.tree.Get(&btreeItem{Item: backend.Item{Key: key}})
	if !found {
		return nil, trace.NotFound("key %q is not found", key)
	}
	out := item.Item
	return &out, nil
}

// Update updates the item, and returns a NotFound error if it does not
// exist.
func (m *Memory) Update(ctx context.Context, i backend.Item) (*backend.Lease, error) {
	if i.Key.IsZero() {
		return nil, trace.BadParameter("missing parameter key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeExpired()
	if _, found := m.tree.Get(&btreeItem{Item: i}); !found {
		return nil, trace.NotFound("key %q is not found", i.Key)
	}
	if !m.cfg.Mirror {
		i.Revision = backend.CreateRevision()
	}
	m.set(i)
	return m.lease(i), nil
}

// Put puts a value into the backend (creates it if it does not exist,
// updates it otherwise).
func (m *Memory) Put(ctx context.Context, i backend.Item) (*backend.Lease, error) {
	if i.Key.IsZero() {
		return nil, trace.BadParameter("missing parameter key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeExpired()
	if !m.cfg.Mirror {
		i.Revision = backend.CreateRevision()
	}
	m.set(i)
	return m.lease(i), nil
}

// ConditionalUpdate updates the item if the stored revision matches,
// and returns a CompareFailed error otherwise.
func (m *Memory) ConditionalUpdate(ctx context.Context, i backend.Item) (*backend.Lease, error) {
	if i.Key.IsZero() {
		return nil, trace.BadParameter("missing parameter key")
	}
	if i.Revision == "" {
		return nil, trace.BadParameter("missing parameter revision")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeExpired()
	existing, found := m.tree.Get(&btreeItem{Item: i})
	if !found {
		return nil, trace.NotFound("key %q is not found", i.Key)
	}
	if existing.Revision != i.Revision {
		return nil, trace.CompareFailed("current revision of %q does not match", i.Key)
	}
	if !m.cfg.Mirror {
		i.Revision = backend.CreateRevision()
	}
	m.set(i)
	return m.lease(i), nil
}

// CompareAndSwap replaces the existing item with replaceWith if its
// value matches the value of expected, and returns a CompareFailed
// error otherwise.
func (m *Memory) CompareAndSwap(ctx context.Context, expected backend.Item, replaceWith backend.Item) (*backend.Lease, error) {
	if expected.Key.IsZero() {
		return nil, trace.BadParameter("missing parameter Key")
	}
	if replaceWith.Key.IsZero() {
		return nil, trace.BadParameter("missing parameter Key")
	}
	if expected.Key.Compare(replaceWith.Key) != 0 {
		return nil, trace.BadParameter("expected and replaceWith keys should match")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeExpired()
	existing, found := m.tree.Get(&btreeItem{Item: expected})
	if !found {
		return nil, trace.CompareFailed("key %q is not found", expected.Key)
	}
	if !bytes.Equal(existing.Value, expected.Value) {
		return nil, trace.CompareFailed("current value does not match expected for %q", expected.Key)
	}
	if !m.cfg.Mirror {
		replaceWith.Revision = backend.CreateRevision()
	}
	m.set(replaceWith)
	return m.lease(replaceWith), nil
}

// Delete deletes the item by key, and returns a NotFound error if the
// item does not exist.
func (m *Memory) Delete(ctx context.Context, key backend.Key) error {
	if key.IsZero() {
		return trace.BadParameter("missing parameter key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeExpired()
	if _, found := m.tree.Get(&btreeItem{Item: backend.Item{Key: key}}); !found {
		return trace.NotFound("key %q is not found", key)
	}
	m.deleteKey(key)
	return nil
}

// ConditionalDelete deletes the item if the stored revision matches,
// and returns a CompareFailed error otherwise.
func (m *Memory) ConditionalDelete(ctx context.Context, key backend.Key, revision string) error {
	if key.IsZero() {
		return trace.BadParameter("missing parameter key")
	}
	if revision == "" {
		return trace.BadParameter("missing parameter revision")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeExpired()
	existing, found := m.tree.Get(&btreeItem{Item: backend.Item{Key: key}})
	if !found {
		return trace.NotFound("key %q is not found", key)
	}
	if existing.Revision != revision {
		return trace.CompareFailed("current revision of %q does not match", key)
	}
	m.deleteKey(key)
	return nil
}

// DeleteRange deletes the items in the range [startKey, endKey].
func (m *Memory) DeleteRange(ctx context.Context, startKey, endKey backend.Key) error {
	if startKey.IsZero() {
		return trace.BadParameter("missing parameter startKey")
	}
	if endKey.IsZero() {
		return trace.BadParameter("missing parameter endKey")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeExpired()
	var keys []backend.Key
	m.tree.AscendRange(
		&btreeItem{Item: backend.Item{Key: startKey}},
		&btreeItem{Item: backend.Item{Key: endKey}},
		func(item *btreeItem) bool {
			keys = append(keys, item.Key)
			return true
		},
	)
	for _, key := range keys {
		m.deleteKey(key)
	}
	return nil
}

// GetRange returns items in the range [startKey, endKey), ordered by
// key, up to limit items when limit is not NoLimit.
func (m *Memory) GetRange(ctx context.Context, startKey, endKey backend.Key, limit int) (*backend.GetResult, error) {
	if startKey.IsZero() {
		return nil, trace.BadParameter("missing parameter startKey")
	}
	if endKey.IsZero() {
		return nil, trace.BadParameter("missing parameter endKey")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeExpired()
	var res backend.GetResult
	m.tree.AscendRange(
		&btreeItem{Item: backend.Item{Key: startKey}},
		&btreeItem{Item: backend.Item{Key: endKey}},
		func(item *btreeItem) bool {
			res.Items = append(res.Items, item.Item)
			return limit == backend.NoLimit || len(res.Items) < limit
		},
	)
	return &res, nil
}

// lease builds a write acknowledgement for the item.
func (m *Memory) lease(i backend.Item) *backend.Lease {
	return &backend.Lease{Key: i.Key, Revision: i.Revision}
}

// set stores the item in both indexes, replacing any previous version.
// Callers must hold the lock.
func (m *Memory) set(i backend.Item) {
	item := &btreeItem{Item: i, index: -1}
	if existing, found := m.tree.Get(item); found {
		m.heap.remove(existing)
	}
	m.tree.ReplaceOrInsert(item)
	if !i.Expires.IsZero() {
		m.heap.push(item)
	}
}

// deleteKey removes the item from both indexes. Callers must hold the
// lock.
func (m *Memory) deleteKey(key backend.Key) {
	item, found := m.tree.Get(&btreeItem{Item: backend.Item{Key: key}})
	if !found {
		return
	}
	if item.index >= 0 {
		m.heap.remove(item)
	}
	m.tree.Delete(item)
}

// removeExpired collects items that have expired by now. Callers must
// hold the lock.
func (m *Memory) removeExpired() int {
	removed := 0
	now := m.cfg.Clock.Now().UTC()
	for {
		item := m.heap.peek()
		if item == nil {
			break
		}
		if now.Before(item.Expires) {
			break
		}
		m.heap.pop()
		m.tree.Delete(item)
		removed++
	}
	return removed
}
