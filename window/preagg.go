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

import "github.com/nebulastream/nes-core/slicestore"

// WindowKind distinguishes the three window shapes spec §4.1 names: for
// tumbling and sliding windows, size/slide drive slice boundaries;
// threshold windows aren't handled by the slice machinery at all (spec
// §4.3 lowers them to a single PhysicalThresholdWindow node instead).
type WindowKind int

const (
	Tumbling WindowKind = iota
	Sliding
)

// Definition is the subset of spec §4.1's Window payload the
// pre-aggregation/merging handlers need: size, slide, and the
// aggregation list.
type Definition struct {
	Kind  WindowKind
	Size  int64
	Slide int64
	Aggs  []AggSpec
}

// sliceBounds returns the [start, end) of the slice that eventTs belongs
// to: floor(eventTs / step) * step, where step is the window size for
// tumbling windows and the slide for sliding windows.
func (d Definition) sliceBounds(eventTs int64) (int64, int64) {
	step := d.Slide
	if d.Kind == Tumbling {
		step = d.Size
	}
	start := (eventTs / step) * step
	return start, start + step
}

// GlobalSlicePreAggregationHandler is spec §4.2's
// GlobalSlicePreAggregationHandler: per worker thread, it keeps one open
// slice and seals+emits it to a LocalBuffer once event time advances past
// the slice's end.
type GlobalSlicePreAggregationHandler struct {
	def Definition
	buf *slicestore.LocalBuffer

	curStart, curEnd int64
	cur              *GlobalState
	open             bool
}

// NewGlobalSlicePreAggregationHandler creates a handler writing sealed
// slices into buf.
func NewGlobalSlicePreAggregationHandler(def Definition, buf *slicestore.LocalBuffer) *GlobalSlicePreAggregationHandler {
	return &GlobalSlicePreAggregationHandler{def: def, buf: buf}
}

// Process folds one tuple (already projected to onField -> value) tagged
// with eventTs, sealing and emitting the current slice first if eventTs
// has moved past it.
func (h *GlobalSlicePreAggregationHandler) Process(eventTs int64, values map[string]float64) {
	start, end := h.def.sliceBounds(eventTs)
	if h.open && (start != h.curStart || end != h.curEnd) {
		h.seal()
	}
	if !h.open {
		h.curStart, h.curEnd = start, end
		h.cur = NewGlobalState(h.def.Aggs)
		h.open = true
	}
	h.cur.Add(values)
}

// Flush seals whatever slice is currently open, if any. Used at
// watermark advance and at query teardown.
func (h *GlobalSlicePreAggregationHandler) Flush() {
	if h.open {
		h.seal()
	}
}

func (h *GlobalSlicePreAggregationHandler) seal() {
	h.buf.AppendLocalSlice(slicestore.Slice{Start: h.curStart, End: h.curEnd, State: h.cur})
	h.open = false
}

// KeyedSlicePreAggregationHandler is the keyed analogue: each tuple also
// carries a serialized key used to route it to its per-key cell set
// within the slice's KeyedState.
type KeyedSlicePreAggregationHandler struct {
	def    Definition
	buf    *slicestore.LocalBuffer
	k0, k1 uint64

	curStart, curEnd int64
	cur              *KeyedState
	open             bool
}

// NewKeyedSlicePreAggregationHandler creates a keyed handler. k0/k1 seed
// the siphash key used to hash key tuples into KeyedState's buckets.
func NewKeyedSlicePreAggregationHandler(def Definition, buf *slicestore.LocalBuffer, k0, k1 uint64) *KeyedSlicePreAggregationHandler {
	return &KeyedSlicePreAggregationHandler{def: def, buf: buf, k0: k0, k1: k1}
}

// Process folds one tuple into the slice matching eventTs, keyed by key.
func (h *KeyedSlicePreAggregationHandler) Process(eventTs int64, key []byte, values map[string]float64) {
	start, end := h.def.sliceBounds(eventTs)
	if h.open && (start != h.curStart || end != h.curEnd) {
		h.seal()
	}
	if !h.open {
		h.curStart, h.curEnd = start, end
		h.cur = NewKeyedState(h.def.Aggs, h.k0, h.k1)
		h.open = true
	}
	h.cur.Add(key, values)
}

// Flush seals the currently open slice, if any.
func (h *KeyedSlicePreAggregationHandler) Flush() {
	if h.open {
		h.seal()
	}
}

func (h *KeyedSlicePreAggregationHandler) seal() {
	h.buf.AppendLocalSlice(slicestore.Slice{Start: h.curStart, End: h.curEnd, State: h.cur})
	h.open = false
}
