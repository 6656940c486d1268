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

// Package slicestore implements spec §4.2's ordered per-origin slice
// storage: thread-local append buffers that feed a lock-guarded global
// sequence, from which sealed windows are collected.
package slicestore

import (
	"sort"
	"sync"

	"github.com/nebulastream/nes-core/errs"
)

// State is a pre-aggregated slice payload: a global scalar cell or a
// keyed hash table, depending on the window kind. Merge combines other
// into the receiver in place (hash-map union for keyed state, scalar
// combine for global state, spec §4.2).
type State interface {
	Merge(other State)
	Clone() State
}

// Slice is spec §4.2/§9's "[start, end) half-open time interval holding
// pre-aggregated state... produced by one worker thread for one origin".
type Slice struct {
	Start, End int64
	State      State
}

// LocalBuffer is the thread-local append target spec §4.2 describes for
// appendLocalSlice: "thread-local buffer; no locks". Each worker owns one
// and periodically drains it into the Store via MergeIntoGlobal.
type LocalBuffer struct {
	OriginID int64
	pending  []Slice
}

// NewLocalBuffer creates a per-worker staging buffer for originID.
func NewLocalBuffer(originID int64) *LocalBuffer {
	return &LocalBuffer{OriginID: originID}
}

// AppendLocalSlice appends a sealed slice to this worker's local buffer.
// No synchronization: callers must only ever call this from the single
// worker thread that owns the buffer.
func (b *LocalBuffer) AppendLocalSlice(s Slice) {
	b.pending = append(b.pending, s)
}

// Drain removes and returns every slice accumulated so far, ready to be
// handed to Store.MergeIntoGlobal.
func (b *LocalBuffer) Drain() []Slice {
	out := b.pending
	b.pending = nil
	return out
}

// Store is spec §4.2's SliceStore: one globally-visible, lock-guarded,
// start-ordered sequence of slices per origin.
type Store struct {
	mu   sync.RWMutex
	byOr map[int64][]Slice
}

// New creates an empty Store.
func New() *Store {
	return &Store{byOr: make(map[int64][]Slice)}
}

// MergeIntoGlobal inserts slices into originId's global sequence,
// maintaining start order, and merges any slice that exactly overlaps an
// existing one's interval (the "matching cells" merge spec §4.2
// describes for slice merging handlers). Takes a global write lock.
func (s *Store) MergeIntoGlobal(originID int64, slices []Slice) {
	if len(slices) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.byOr[originID]
	for _, in := range slices {
		seq = insertSorted(seq, in)
	}
	s.byOr[originID] = seq
}

func insertSorted(seq []Slice, in Slice) []Slice {
	i := sort.Search(len(seq), func(i int) bool { return seq[i].Start >= in.Start })
	if i < len(seq) && seq[i].Start == in.Start && seq[i].End == in.End {
		seq[i].State.Merge(in.State)
		return seq
	}
	seq = append(seq, Slice{})
	copy(seq[i+1:], seq[i:])
	seq[i] = in
	return seq
}

// CollectWindowOutput reads originId's global slices under a read lock
// and merges every slice whose interval falls within [wstart, wend) into
// one combined State, as spec §4.2 describes for window emission.
func (s *Store) CollectWindowOutput(originID int64, wstart, wend int64) (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seq := s.byOr[originID]
	var out State
	for _, sl := range seq {
		if sl.Start < wstart || sl.End > wend {
			continue
		}
		if out == nil {
			out = sl.State.Clone()
		} else {
			out.Merge(sl.State)
		}
	}
	return out, out != nil
}

// GC removes every slice ending at or before threshold, implementing
// spec §4.2's watermark-triggered garbage collection
// ("garbage-collecting slices below watermark − maxWindowSize").
func (s *Store) GC(originID int64, threshold int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.byOr[originID]
	i := 0
	for i < len(seq) && seq[i].End <= threshold {
		i++
	}
	if i > 0 {
		s.byOr[originID] = append([]Slice(nil), seq[i:]...)
	}
}

// Sealed returns every slice whose end is at most watermark, the input to
// step (a) of spec §4.2's watermark advance ("sealing all slices whose
// end ≤ watermark").
func (s *Store) Sealed(originID int64, watermark int64) []Slice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seq := s.byOr[originID]
	var out []Slice
	for _, sl := range seq {
		if sl.End > watermark {
			break
		}
		out = append(out, sl)
	}
	return out
}

// errNoState is returned by callers that expect CollectWindowOutput to
// have found at least one contributing slice.
var errNoState = errs.New("slicestore.CollectWindowOutput", errs.EmptyOriginSet, "no slices contributed to the requested window")

// ErrNoState reports the sentinel error for an empty window collection.
func ErrNoState() error { return errNoState }
