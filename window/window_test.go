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
	"testing"

	"github.com/nebulastream/nes-core/internal/config"
	"github.com/nebulastream/nes-core/schema"
	"github.com/nebulastream/nes-core/slicestore"
)

// Scenario 4 (spec §8): tumbling window. A 10s-size/10s-slide count
// aggregation over two slices produced by two different workers for the
// same interval must merge into a single count at watermark advance.
func TestTumblingWindowRoundTrip(t *testing.T) {
	def := Definition{Kind: Tumbling, Size: 10000, Slide: 10000, Aggs: []AggSpec{{OnField: "v", AsField: "count", Type: Count}}}
	store := slicestore.New()

	var emitted []schema.Record
	sink := func(originID int64, wstart, wend int64, state slicestore.State) {
		emitted = append(emitted, state.(*GlobalState).Row())
	}
	merger := NewGlobalSliceMergingHandler(store, def, sink)

	bufA := slicestore.NewLocalBuffer(1)
	handlerA := NewGlobalSlicePreAggregationHandler(def, bufA)
	handlerA.Process(0, map[string]float64{"v": 1})
	handlerA.Process(2000, map[string]float64{"v": 1})
	handlerA.Flush()

	bufB := slicestore.NewLocalBuffer(1)
	handlerB := NewGlobalSlicePreAggregationHandler(def, bufB)
	handlerB.Process(1000, map[string]float64{"v": 1})
	handlerB.Flush()

	merger.MergeStaged(1, bufA.Drain())
	merger.MergeStaged(1, bufB.Drain())

	merger.AdvanceWatermark(1, 10000)

	if len(emitted) != 1 {
		t.Fatalf("expected one emitted window, got %d", len(emitted))
	}
	if got := emitted[0][0].AsFloat64(); got != 3 {
		t.Fatalf("expected merged count 3, got %v", got)
	}
}

// Scenario 5 (spec §8): join round-trip. Inner join of {userId,tsL} and
// {id,tsR} on userId=id, tumbling window size 10s. Left [(7,0),(7,2000)],
// right [(7,1000)]. Expect one joined row once both sides seal.
func TestJoinRoundTrip(t *testing.T) {
	jw := NewJoinWindow(config.HashJoinLocal, 0, 10000)

	left1 := schema.Record{schema.Int(schema.I64, 7), schema.Int(schema.I64, 0)}
	left2 := schema.Record{schema.Int(schema.I64, 7), schema.Int(schema.I64, 2000)}
	right1 := schema.Record{schema.Int(schema.I64, 7), schema.Int(schema.I64, 1000)}

	jw.BuildLeft(left1[0], left1)
	jw.BuildLeft(left2[0], left2)
	jw.BuildRight(right1[0], right1)

	jw.MarkLeftSealed()
	jw.MarkRightSealed()

	if jw.Phase() != Probing {
		t.Fatalf("expected Probing phase after both sides sealed, got %v", jw.Phase())
	}

	rows, err := jw.Probe(0, 0)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 joined rows (one per left tuple matching the single right tuple), got %d", len(rows))
	}
	for _, r := range rows {
		if r[0].AsInt64() != 7 || r[2].AsInt64() != 7 {
			t.Fatalf("joined row does not carry both sides' userId: %v", r)
		}
	}
	if jw.Phase() != Emitted {
		t.Fatalf("expected Emitted phase after Probe, got %v", jw.Phase())
	}
}

func TestWatermarkTrackerReportsMinAcrossOrigins(t *testing.T) {
	w := NewWatermarkTracker([]int64{1, 2, 3})
	w.Observe(1, 100)
	w.Observe(2, 50)
	w.Observe(3, 200)
	if got := w.Watermark(); got != 50 {
		t.Fatalf("watermark = %d, want 50", got)
	}
	w.Observe(2, 150)
	if got := w.Watermark(); got != 100 {
		t.Fatalf("watermark after advance = %d, want 100", got)
	}
}
