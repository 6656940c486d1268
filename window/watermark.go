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

package window

import "github.com/nebulastream/nes-core/heap"

// WatermarkTracker implements spec §4.2's per-operator watermark:
// "each operator tracks min(perOriginTs) across all origins". A min-heap
// keyed by each origin's latest-seen timestamp keeps the minimum at the
// root, so Watermark reads it in O(1); Observe re-sifts the updated entry
// and then rebuilds the origin index, which is O(n) per update.
type WatermarkTracker struct {
	entries []originTs // heap-ordered by ts
	index   map[int64]int
}

type originTs struct {
	originID int64
	ts       int64
}

// NewWatermarkTracker creates a tracker for the given origin ids, all
// initialized to timestamp 0 until their first Observe call.
func NewWatermarkTracker(originIDs []int64) *WatermarkTracker {
	w := &WatermarkTracker{index: make(map[int64]int, len(originIDs))}
	for _, id := range originIDs {
		w.entries = append(w.entries, originTs{originID: id})
		w.index[id] = len(w.entries) - 1
	}
	heap.OrderSlice(w.entries, lessOriginTs)
	w.reindex()
	return w
}

func lessOriginTs(a, b originTs) bool { return a.ts < b.ts }

func (w *WatermarkTracker) reindex() {
	for i, e := range w.entries {
		w.index[e.originID] = i
	}
}

// Observe records a new per-origin timestamp, never moving it backward
// (event-time order is only guaranteed within one origin, per spec §4.2:
// "within one origin, event-time order is preserved end-to-end").
func (w *WatermarkTracker) Observe(originID int64, ts int64) {
	i, ok := w.index[originID]
	if !ok {
		return
	}
	if ts <= w.entries[i].ts {
		return
	}
	w.entries[i].ts = ts
	heap.FixSlice(w.entries, i, lessOriginTs)
	w.reindex()
}

// Watermark returns the current min(perOriginTs) across every tracked
// origin.
func (w *WatermarkTracker) Watermark() int64 {
	if len(w.entries) == 0 {
		return 0
	}
	return w.entries[0].ts
}
