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

// Package backend provides the storage abstraction the repositories are
// built on: a sorted key/value store with per-item expiry and revision
// based optimistic concurrency.
package backend

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	// Forever means that the item will not expire unless deleted.
	Forever time.Duration = 0

	// NoLimit disables the limit on range queries.
	NoLimit = 0

	// DefaultRangeLimit is the batch ceiling background sweeps assume
	// when paging through large ranges.
	DefaultRangeLimit = 10000
)

// Backend implements an abstraction over local or remote storage.
// Item keys are assumed to be valid UTF8, which may be enforced by the
// various Backend implementations.
type Backend interface {
	// Create creates the item if it does not exist, and returns
	// an AlreadyExists error otherwise.
	Create(ctx context.Context, i Item) (*Lease, error)

	// Put puts a value into the backend (creates it if it does not
	// exist, updates it otherwise).
	Put(ctx context.Context, i Item) (*Lease, error)

	// Update updates the value in the backend, and returns a NotFound
	// error if the item does not exist.
	Update(ctx context.Context, i Item) (*Lease, error)

	// ConditionalUpdate updates the value in the backend if the
	// revision of the stored item matches the revision of i, and
	// returns a CompareFailed error otherwise.
	ConditionalUpdate(ctx context.Context, i Item) (*Lease, error)

	// CompareAndSwap replaces the existing item with replaceWith if
	// its value matches the value of expected, and returns a
	// CompareFailed error otherwise.
	CompareAndSwap(ctx context.Context, expected Item, replaceWith Item) (*Lease, error)

	// Get returns a single item or a NotFound error.
	Get(ctx context.Context, key Key) (*Item, error)

	// GetRange returns items in the range [startKey, endKey], up to
	// limit items when limit is not NoLimit.
	GetRange(ctx context.Context, startKey, endKey Key, limit int) (*GetResult, error)

	// Delete deletes the item by key, and returns a NotFound error if
	// the item does not exist.
	Delete(ctx context.Context, key Key) error

	// ConditionalDelete deletes the item by key if the revision of the
	// stored item matches, and returns a CompareFailed error otherwise.
	ConditionalDelete(ctx context.Context, key Key, revision string) error

	// DeleteRange deletes the items in the range [startKey, endKey].
	DeleteRange(ctx context.Context, startKey, endKey Key) error

	// Close closes the backend and all associated resources.
	Close() error

	// Clock returns the clock used by this backend.
	Clock() clockwork.Clock
}

// Item is a key/value item with optional expiry.
type Item struct {
	// Key is the unique key of the item.
	Key Key
	// Value is the opaque stored value.
	Value []byte
	// Expires is an optional expiry time. Zero means the item never
	// expires.
	Expires time.Time
	// Revision identifies the stored version of the item. Backends
	// assign a fresh revision on every write.
	Revision string
}

// Lease acknowledges a completed write and carries the revision the
// write produced.
type Lease struct {
	// Key is the key of the written item.
	Key Key
	// Revision is the revision assigned by the write.
	Revision string
}

// GetResult provides the result of a GetRange request.
type GetResult struct {
	// Items is the list of items, ordered by key.
	Items []Item
}

// CreateRevision generates a new storage revision.
func CreateRevision() string {
	return uuid.NewString()
}

// Separator separates key parts.
const Separator = '/'

// Key is the unique identifier of a stored item, a path of parts
// joined by Separator.
type Key []byte

// NewKey joins parts into a path separated by Separator, making sure
// the path always starts with Separator.
func NewKey(parts ...string) Key {
	return internalKey("", parts...)
}

// ExactKey is like NewKey but adds a trailing Separator, matching
// exactly the children of the path on range queries.
func ExactKey(parts ...string) Key {
	return append(NewKey(parts...), Separator)
}

func internalKey(internalPrefix string, parts ...string) Key {
	return Key(strings.Join(append([]string{internalPrefix}, parts...), string(Separator)))
}

// String returns the key as a string.
func (k Key) String() string {
	return string(k)
}

// IsZero reports whether the key is empty.
func (k Key) IsZero() bool {
	return len(k) == 0
}

// HasPrefix reports whether the key starts with the given prefix.
func (k Key) HasPrefix(prefix Key) bool {
	return bytes.HasPrefix(k, prefix)
}

// Compare orders keys lexicographically.
func (k Key) Compare(other Key) int {
	return bytes.Compare(k, other)
}

// RangeEnd returns the end of the range for the given key: the
// smallest key that is lexicographically larger than any key sharing
// the given prefix.
func RangeEnd(key Key) Key {
	end := make(Key, len(key))
	copy(end, key)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i] = end[i] + 1
			end = end[:i+1]
			return end
		}
	}
	// next key does not exist (e.g. 0xffff)
	return noEnd
}

var noEnd = Key{0}

// TTL returns the remaining TTL in duration units, rounded up to one
// second.
func TTL(clock clockwork.Clock, expires time.Time) time.Duration {
	ttl := expires.Sub(clock.Now())
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}

// Expiry converts a ttl to an expiry time. A zero ttl returns the zero
// time, meaning no expiry.
func Expiry(clock clockwork.Clock, ttl time.Duration) time.Time {
	if ttl == 0 {
		return time.Time{}
	}
	return clock.Now().UTC().Add(ttl)
}
