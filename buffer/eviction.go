// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package buffer

import (
	"slices"
	"sync"
)

// clockEvictor implements spec §4.1's second-chance clock sweep over
// floating (unpinned, in-memory) segments: a candidate with its clockRef
// bit set is given one more lap before being chosen as a victim.
//
// Each sweep starts from the candidates ordered by id, so among segments
// that tie on clockRef state the lowest id is evicted first.
type clockEvictor struct {
	mgr       *BufferManager
	watermark float64

	mu   sync.Mutex
	ring []uint64
}

func newClockEvictor(mgr *BufferManager, watermark float64) *clockEvictor {
	return &clockEvictor{mgr: mgr, watermark: watermark}
}

// offer enqueues id as an eviction candidate. Called whenever a buffer's
// pin count drops to zero while it remains resident in memory.
func (c *clockEvictor) offer(id uint64) {
	c.mu.Lock()
	c.ring = append(c.ring, id)
	c.mu.Unlock()
}

// tryEvictOne sweeps the candidate ring, spilling the first true victim to
// disk and returning its id. Entries that turn out to be stale (re-pinned
// or already spilled since being offered) are dropped rather than
// evicted, since ring membership is only ever a hint, not a lock.
func (c *clockEvictor) tryEvictOne() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	slices.Sort(c.ring)
	c.ring = slices.Compact(c.ring)
	for len(c.ring) > 0 {
		id := c.ring[0]
		c.ring = c.ring[1:]

		cb := c.mgr.blockByID(id)
		cb.mu.Lock()
		if cb.refcount > 0 || cb.loc != locInMemory {
			cb.mu.Unlock()
			continue
		}
		if cb.clockRef {
			cb.clockRef = false
			cb.mu.Unlock()
			c.ring = append(c.ring, id)
			continue
		}
		cb.mu.Unlock()

		if err := c.mgr.arena.spill(c.mgr, cb); err != nil {
			c.mgr.log.Warnf("buffer: spill of segment %d failed: %v", id, err)
			continue
		}
		return id, true
	}
	return 0, false
}

// kick asynchronously attempts one eviction and, on success, wakes the
// oldest blocked awaiter (or returns the segment to the free list if none
// is waiting). Called by GetBufferBlocking once it has registered itself
// as an awaiter, mirroring the native implementation's "the eviction
// coroutine is what actually satisfies blocked callers" design.
func (c *clockEvictor) kick() {
	go func() {
		if id, ok := c.tryEvictOne(); ok {
			c.mgr.offerFree(id)
		}
	}()
}
