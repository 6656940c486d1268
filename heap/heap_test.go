// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

package heap

import (
	"math/rand"
	"testing"
)

// originWatermark mirrors the (originID, timestamp) pair the window
// package's watermark tracker keeps ordered by ts; FixSlice/OrderSlice
// are generic over it the same way they are over any other type.
type originWatermark struct {
	originID int64
	ts       int64
}

func byTS(x, y originWatermark) bool { return x.ts < y.ts }

// isHeap reports whether x satisfies the min-heap invariant everywhere.
func isHeap(x []originWatermark, less func(x, y originWatermark) bool) bool {
	for i := range x {
		left, right := i*2+1, i*2+2
		if left < len(x) && less(x[left], x[i]) {
			return false
		}
		if right < len(x) && less(x[right], x[i]) {
			return false
		}
	}
	return true
}

func TestOrderSliceEstablishesHeapInvariant(t *testing.T) {
	x := make([]originWatermark, 64)
	for i := range x {
		x[i] = originWatermark{originID: int64(i), ts: rand.Int63n(1000)}
	}
	OrderSlice(x, byTS)
	if !isHeap(x, byTS) {
		t.Fatal("OrderSlice did not establish the min-heap invariant")
	}
}

func TestFixSliceRepairsDisturbedEntry(t *testing.T) {
	x := make([]originWatermark, 64)
	for i := range x {
		x[i] = originWatermark{originID: int64(i), ts: rand.Int63n(1000)}
	}
	OrderSlice(x, byTS)

	mid := len(x) / 2
	x[mid].ts = -1 // a watermark observation that moves the clock backwards
	FixSlice(x, mid, byTS)
	if !isHeap(x, byTS) {
		t.Fatal("FixSlice did not repair the heap invariant")
	}
	if x[0].ts != -1 {
		t.Fatalf("expected the disturbed entry to bubble to the root, got ts=%d at root", x[0].ts)
	}
}
