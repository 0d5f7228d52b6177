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

package memory

import (
	"container/heap"

	"github.com/gravitational/confplane/lib/backend"
)

// btreeItem is a btree item with an intrusive expiry-heap index.
// index == -1 means the item is not tracked by the heap.
type btreeItem struct {
	backend.Item
	index int
}

// Less orders items by key.
func (i *btreeItem) Less(other *btreeItem) bool {
	return i.Key.Compare(other.Key) < 0
}

// expiryItems implements heap.Interface ordered by soonest expiry.
type expiryItems []*btreeItem

func (c expiryItems) Len() int { return len(c) }

func (c expiryItems) Less(i, j int) bool {
	return c[i].Expires.Before(c[j].Expires)
}

func (c expiryItems) Swap(i, j int) {
	c[i], c[j] = c[j], c[i]
	c[i].index = i
	c[j].index = j
}

func (c *expiryItems) Push(x any) {
	item := x.(*btreeItem)
	item.index = len(*c)
	*c = append(*c, item)
}

func (c *expiryItems) Pop() any {
	old := *c
	n := len(old)
	item := old[n-1]
	item.index = -1
	*c = old[:n-1]
	return item
}

// minHeap tracks items with expiry, soonest first.
type minHeap struct {
	items expiryItems
}

func newMinHeap() *minHeap {
	h := &minHeap{}
	heap.Init(&h.items)
	return h
}

func (h *minHeap) push(item *btreeItem) {
	heap.Push(&h.items, item)
}

func (h *minHeap) pop() *btreeItem {
	return heap.Pop(&h.items).(*btreeItem)
}

func (h *minHeap) remove(item *btreeItem) {
	if item.index < 0 || item.index >= len(h.items) {
		return
	}
	heap.Remove(&h.items, item.index)
}

func (h *minHeap) peek() *btreeItem {
	if len(h.items) == 0 {
		return nil
	}
	return h.items[0]
}
