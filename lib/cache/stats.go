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

import "sync/atomic"

// Counters tracks per-tier hits, misses and errors of one named cache
// for health reporting.
type Counters struct {
	l1Hits   atomic.Int64
	l1Misses atomic.Int64
	l2Hits   atomic.Int64
	l2Misses atomic.Int64
	l2Errors atomic.Int64
}

func (c *Counters) hit(tier string) {
	if tier == tierL1 {
		c.l1Hits.Add(1)
	} else {
		c.l2Hits.Add(1)
	}
}

func (c *Counters) miss(tier string) {
	if tier == tierL1 {
		c.l1Misses.Add(1)
	} else {
		c.l2Misses.Add(1)
	}
}

func (c *Counters) tierError(tier string) {
	if tier == tierL2 {
		c.l2Errors.Add(1)
	}
}

// Stats is a point-in-time snapshot of one named cache.
type Stats struct {
	// Entries is the current L1 entry count.
	Entries int `json:"entries"`
	// L1HitRatio is hits/(hits+misses) of the in-process tier.
	L1HitRatio float64 `json:"l1_hit_ratio"`
	// L2HitRatio is hits/(hits+misses) of the distributed tier, zero
	// when no L2 is configured.
	L2HitRatio float64 `json:"l2_hit_ratio"`
	// OverallHitRatio counts a hit in either tier against all reads.
	OverallHitRatio float64 `json:"overall_hit_ratio"`
	// Errors is the number of L2 errors observed.
	Errors int64 `json:"errors"`
}

func ratio(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Snapshot derives a Stats value from the counters.
func (c *Counters) Snapshot(entries int) Stats {
	l1Hits, l1Misses := c.l1Hits.Load(), c.l1Misses.Load()
	l2Hits, l2Misses := c.l2Hits.Load(), c.l2Misses.Load()
	return Stats{
		Entries:    entries,
		L1HitRatio: ratio(l1Hits, l1Misses),
		L2HitRatio: ratio(l2Hits, l2Misses),
		// Every read starts at L1; an L1 miss resolved by L2 is still
		// an overall hit.
		OverallHitRatio: ratio(l1Hits+l2Hits, l1Misses-l2Hits),
		Errors:          c.l2Errors.Load(),
	}
}
