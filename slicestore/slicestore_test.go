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

package slicestore

import "testing"

type sumState struct{ n int64 }

func (s *sumState) Merge(other State) { s.n += other.(*sumState).n }
func (s *sumState) Clone() State      { c := *s; return &c }

func newSum(n int64) State { return &sumState{n: n} }

func TestAppendLocalThenMergeIntoGlobal(t *testing.T) {
	lb := NewLocalBuffer(1)
	lb.AppendLocalSlice(Slice{Start: 10, End: 20, State: newSum(3)})
	lb.AppendLocalSlice(Slice{Start: 0, End: 10, State: newSum(5)})

	store := New()
	store.MergeIntoGlobal(1, lb.Drain())
	if got := lb.Drain(); got != nil {
		t.Fatalf("Drain should empty the buffer, got %v", got)
	}

	out, ok := store.CollectWindowOutput(1, 0, 20)
	if !ok {
		t.Fatal("expected a combined state")
	}
	if got := out.(*sumState).n; got != 8 {
		t.Fatalf("sum = %d, want 8", got)
	}
}

func TestMergeIntoGlobalCombinesOverlappingSlice(t *testing.T) {
	store := New()
	store.MergeIntoGlobal(1, []Slice{{Start: 0, End: 10, State: newSum(1)}})
	store.MergeIntoGlobal(1, []Slice{{Start: 0, End: 10, State: newSum(2)}})

	out, ok := store.CollectWindowOutput(1, 0, 10)
	if !ok || out.(*sumState).n != 3 {
		t.Fatalf("expected merged sum 3, got %v ok=%v", out, ok)
	}
}

func TestCollectWindowOutputExcludesOutOfRangeSlices(t *testing.T) {
	store := New()
	store.MergeIntoGlobal(1, []Slice{
		{Start: 0, End: 10, State: newSum(1)},
		{Start: 10, End: 20, State: newSum(2)},
		{Start: 20, End: 30, State: newSum(4)},
	})
	out, ok := store.CollectWindowOutput(1, 0, 20)
	if !ok || out.(*sumState).n != 3 {
		t.Fatalf("expected sum 3 within [0,20), got %v ok=%v", out, ok)
	}
}

func TestGCRemovesSlicesBelowThreshold(t *testing.T) {
	store := New()
	store.MergeIntoGlobal(1, []Slice{
		{Start: 0, End: 10, State: newSum(1)},
		{Start: 10, End: 20, State: newSum(2)},
	})
	store.GC(1, 10)
	if _, ok := store.CollectWindowOutput(1, 0, 10); ok {
		t.Fatal("expected the [0,10) slice to have been garbage collected")
	}
	if out, ok := store.CollectWindowOutput(1, 10, 20); !ok || out.(*sumState).n != 2 {
		t.Fatalf("expected the [10,20) slice to survive GC, got %v ok=%v", out, ok)
	}
}

func TestSealedReturnsSlicesUpToWatermark(t *testing.T) {
	store := New()
	store.MergeIntoGlobal(1, []Slice{
		{Start: 0, End: 10, State: newSum(1)},
		{Start: 10, End: 20, State: newSum(2)},
		{Start: 20, End: 30, State: newSum(3)},
	})
	sealed := store.Sealed(1, 20)
	if len(sealed) != 2 {
		t.Fatalf("expected 2 sealed slices at watermark 20, got %d", len(sealed))
	}
}
