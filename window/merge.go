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

// Sink is the terminal callback a merging handler hands a sealed,
// fully-merged window's state to — the "sliding-window sink or
// tumbling-window sink" of spec §4.2.
type Sink func(originID int64, wstart, wend int64, state slicestore.State)

// GlobalSliceMergingHandler is spec §4.2's GlobalSliceMergingHandler: it
// receives slices staged by every worker for the same origin, merges the
// ones covering a matching interval into the global Store, and emits
// sealed windows to sink once their end has passed the watermark.
type GlobalSliceMergingHandler struct {
	store *slicestore.Store
	def   Definition
	sink  Sink
}

// NewGlobalSliceMergingHandler creates a merging handler writing into
// store and emitting sealed windows to sink.
func NewGlobalSliceMergingHandler(store *slicestore.Store, def Definition, sink Sink) *GlobalSliceMergingHandler {
	return &GlobalSliceMergingHandler{store: store, def: def, sink: sink}
}

// MergeStaged folds newly-arrived worker slices for originID into the
// global sequence (spec §4.2's mergeIntoGlobal: "takes a global write
// lock, inserts sorted").
func (h *GlobalSliceMergingHandler) MergeStaged(originID int64, slices []slicestore.Slice) {
	h.store.MergeIntoGlobal(originID, slices)
}

// AdvanceWatermark implements spec §4.2's three-step watermark advance:
// seal every slice whose end is at most watermark, emit the windows they
// complete, then garbage collect everything below watermark−maxWindowSize.
func (h *GlobalSliceMergingHandler) AdvanceWatermark(originID int64, watermark int64) {
	for _, sl := range h.store.Sealed(originID, watermark) {
		if state, ok := h.store.CollectWindowOutput(originID, sl.Start, sl.End); ok {
			h.sink(originID, sl.Start, sl.End, state)
		}
	}
	h.store.GC(originID, watermark-h.def.Size)
}

// KeyedSliceMergingHandler is the keyed analogue of
// GlobalSliceMergingHandler, sharing the same Store/Sink shape since
// KeyedState already implements slicestore.State.
type KeyedSliceMergingHandler struct {
	store *slicestore.Store
	def   Definition
	sink  Sink
}

// NewKeyedSliceMergingHandler creates a keyed merging handler.
func NewKeyedSliceMergingHandler(store *slicestore.Store, def Definition, sink Sink) *KeyedSliceMergingHandler {
	return &KeyedSliceMergingHandler{store: store, def: def, sink: sink}
}

// MergeStaged folds newly-arrived worker slices into the global sequence.
func (h *KeyedSliceMergingHandler) MergeStaged(originID int64, slices []slicestore.Slice) {
	h.store.MergeIntoGlobal(originID, slices)
}

// AdvanceWatermark mirrors GlobalSliceMergingHandler.AdvanceWatermark for
// keyed state.
func (h *KeyedSliceMergingHandler) AdvanceWatermark(originID int64, watermark int64) {
	for _, sl := range h.store.Sealed(originID, watermark) {
		if state, ok := h.store.CollectWindowOutput(originID, sl.Start, sl.End); ok {
			h.sink(originID, sl.Start, sl.End, state)
		}
	}
	h.store.GC(originID, watermark-h.def.Size)
}
