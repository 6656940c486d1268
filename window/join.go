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

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/dchest/siphash"

	"github.com/nebulastream/nes-core/errs"
	"github.com/nebulastream/nes-core/internal/config"
	"github.com/nebulastream/nes-core/schema"
)

// joinKeyK0/joinKeyK1 seed the siphash used to bucket join keys (spec §9:
// "SipHash-keyed hashing for... join-key hashing"). Fixed rather than
// randomized per query, since two build-side workers must hash the same
// key value to the same bucket.
const (
	joinKeyK0 = 0x9e3779b97f4a7c15
	joinKeyK1 = 0xbf58476d1ce4e5b9
)

// Phase is one state of spec §4.2's join type machine:
// BUFFERING → BUILDING_LEFT ∥ BUILDING_RIGHT → PROBING → EMITTED → GC.
type Phase int32

const (
	Buffering Phase = iota
	Building
	Probing
	Emitted
	GC
)

const lockStripes = 16

// side is one half of a JoinWindow's build state: the strategy determines
// which of these fields is actually populated.
type side struct {
	mu   sync.Mutex   // NESTED_LOOP_JOIN append guard
	rows []schema.Record

	stripes [lockStripes]sync.Mutex // HASH_JOIN_GLOBAL_LOCKING: striped by bucket
	buckets [lockStripes]map[uint64][]schema.Record

	lockFree sync.Map // HASH_JOIN_GLOBAL_LOCK_FREE: key(uint64) -> *lockFreeBucket

	local map[uint64][]schema.Record // HASH_JOIN_LOCAL: unguarded, single worker per JoinWindow instance
}

type lockFreeBucket struct {
	mu   sync.Mutex
	rows []schema.Record
}

func newSide() *side {
	s := &side{local: make(map[uint64][]schema.Record)}
	for i := range s.buckets {
		s.buckets[i] = make(map[uint64][]schema.Record)
	}
	return s
}

// JoinWindow is one [wstart, wend) join build/probe instance for one
// join operator, implementing spec §4.2's join type machine and its four
// selectable strategies.
type JoinWindow struct {
	Strategy config.JoinStrategy
	WStart   int64
	WEnd     int64

	phase atomic.Int32

	left  *side
	right *side

	leftDone  atomic.Bool
	rightDone atomic.Bool
}

// NewJoinWindow creates a join window for [wstart, wend) using strategy.
func NewJoinWindow(strategy config.JoinStrategy, wstart, wend int64) *JoinWindow {
	return &JoinWindow{Strategy: strategy, WStart: wstart, WEnd: wend, left: newSide(), right: newSide()}
}

func (j *JoinWindow) Phase() Phase { return Phase(j.phase.Load()) }

func keyBytes(v schema.Value) []byte {
	switch v.Type {
	case schema.F32, schema.F64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v.F))
		return b[:]
	case schema.VariableChar, schema.FixedChar:
		return []byte(v.S)
	default:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v.I))
		return b[:]
	}
}

func keyHash64(v schema.Value) uint64 {
	return siphash.Hash(joinKeyK0, joinKeyK1, keyBytes(v))
}

// BuildLeft/BuildRight implement the BUILDING_LEFT/BUILDING_RIGHT phases:
// they insert one row, keyed by the join-key value, using whichever
// structure j.Strategy selects. Build transitions Buffering->Building on
// the first call from either side.
func (j *JoinWindow) BuildLeft(keyVal schema.Value, row schema.Record) {
	j.phase.CompareAndSwap(int32(Buffering), int32(Building))
	insert(j.left, j.Strategy, keyHash64(keyVal), row)
}

func (j *JoinWindow) BuildRight(keyVal schema.Value, row schema.Record) {
	j.phase.CompareAndSwap(int32(Buffering), int32(Building))
	insert(j.right, j.Strategy, keyHash64(keyVal), row)
}

func insert(s *side, strategy config.JoinStrategy, h uint64, row schema.Record) {
	switch strategy {
	case config.HashJoinLocal:
		s.local[h] = append(s.local[h], row)
	case config.HashJoinGlobalLocking:
		stripe := h % lockStripes
		s.stripes[stripe].Lock()
		s.buckets[stripe][h] = append(s.buckets[stripe][h], row)
		s.stripes[stripe].Unlock()
	case config.HashJoinGlobalLockFree:
		// A sync.Map of mutex-guarded buckets: an approximation, not a
		// lock-free hash table.
		v, _ := s.lockFree.LoadOrStore(h, &lockFreeBucket{})
		b := v.(*lockFreeBucket)
		b.mu.Lock()
		b.rows = append(b.rows, row)
		b.mu.Unlock()
	case config.NestedLoopJoin:
		s.mu.Lock()
		s.rows = append(s.rows, row)
		s.mu.Unlock()
	}
}

func lookup(s *side, strategy config.JoinStrategy, h uint64) []schema.Record {
	switch strategy {
	case config.HashJoinLocal:
		return s.local[h]
	case config.HashJoinGlobalLocking:
		stripe := h % lockStripes
		s.stripes[stripe].Lock()
		defer s.stripes[stripe].Unlock()
		return append([]schema.Record(nil), s.buckets[stripe][h]...)
	case config.HashJoinGlobalLockFree:
		v, ok := s.lockFree.Load(h)
		if !ok {
			return nil
		}
		b := v.(*lockFreeBucket)
		b.mu.Lock()
		defer b.mu.Unlock()
		return append([]schema.Record(nil), b.rows...)
	default:
		return nil
	}
}

// MarkLeftSealed/MarkRightSealed record that this side's watermark has
// passed WEnd; once both are sealed the window transitions to PROBING.
func (j *JoinWindow) MarkLeftSealed()  { j.leftDone.Store(true); j.maybeAdvanceToProbing() }
func (j *JoinWindow) MarkRightSealed() { j.rightDone.Store(true); j.maybeAdvanceToProbing() }

func (j *JoinWindow) maybeAdvanceToProbing() {
	if j.leftDone.Load() && j.rightDone.Load() {
		j.phase.CompareAndSwap(int32(Building), int32(Probing))
	}
}

// Probe produces every joined row for this window: hash-bucket equi-join
// for the three hash strategies, all-pairs nested loop otherwise. It
// fails with CannotDeserialize-adjacent errs.EmptyOriginSet if called
// before both sides have sealed, since spec §4.2 only defines PROBING as
// following both BUILDING_LEFT and BUILDING_RIGHT completion.
func (j *JoinWindow) Probe(leftKeyIdx, rightKeyIdx int) ([]schema.Record, error) {
	if Phase(j.phase.Load()) != Probing {
		return nil, errs.New("window.JoinWindow.Probe", errs.EmptyOriginSet, "probe called before both sides sealed")
	}
	var out []schema.Record
	if j.Strategy == config.NestedLoopJoin {
		for _, l := range j.left.rows {
			for _, r := range j.right.rows {
				if keyHash64(l[leftKeyIdx]) == keyHash64(r[rightKeyIdx]) {
					out = append(out, concatRows(l, r))
				}
			}
		}
	} else {
		seen := map[uint64]bool{}
		forEachKey(j.left, j.Strategy, func(h uint64) {
			if seen[h] {
				return
			}
			seen[h] = true
			ls := lookup(j.left, j.Strategy, h)
			rs := lookup(j.right, j.Strategy, h)
			for _, l := range ls {
				for _, r := range rs {
					out = append(out, concatRows(l, r))
				}
			}
		})
	}
	j.phase.Store(int32(Emitted))
	return out, nil
}

func forEachKey(s *side, strategy config.JoinStrategy, f func(h uint64)) {
	switch strategy {
	case config.HashJoinLocal:
		for h := range s.local {
			f(h)
		}
	case config.HashJoinGlobalLocking:
		for i := range s.stripes {
			s.stripes[i].Lock()
			for h := range s.buckets[i] {
				f(h)
			}
			s.stripes[i].Unlock()
		}
	case config.HashJoinGlobalLockFree:
		s.lockFree.Range(func(k, _ any) bool {
			f(k.(uint64))
			return true
		})
	}
}

func concatRows(left, right schema.Record) schema.Record {
	out := make(schema.Record, 0, len(left)+len(right))
	out = append(out, left...)
	out = append(out, right...)
	return out
}

// Teardown transitions the window to GC, its terminal state.
func (j *JoinWindow) Teardown() { j.phase.Store(int32(GC)) }
