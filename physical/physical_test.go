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

package physical

import (
	"testing"

	"github.com/nebulastream/nes-core/errs"
	"github.com/nebulastream/nes-core/expr"
	"github.com/nebulastream/nes-core/internal/config"
	"github.com/nebulastream/nes-core/logical"
	"github.com/nebulastream/nes-core/schema"
	"github.com/nebulastream/nes-core/window"
)

func carSchema() schema.Schema {
	return schema.Schema{
		{Name: "car$id", Type: schema.I64},
		{Name: "car$value", Type: schema.F64},
		{Name: "car$ts", Type: schema.I64},
	}
}

// Scenario 6's shape: source -> filter -> map -> sink.
func TestLowerFilterMapSinkChain(t *testing.T) {
	src := logical.NewSource(1, "car", carSchema())
	filter := logical.NewFilter(src, expr.Compare{Op: expr.Lt, Left: expr.FieldRef{Name: "car$id"}, Right: expr.Literal{Value: schema.Int(schema.I64, 45)}})
	mp := logical.NewMap(filter, logical.MapPlain, expr.Arith{Op: expr.Mul, Left: expr.FieldRef{Name: "car$value"}, Right: expr.Literal{Value: schema.Float(schema.F64, 2)}, ResultType: schema.F64}, schema.Attribute{Name: "car$c", Type: schema.F64})
	sink := logical.NewSink(mp, "print")

	if err := logical.Infer(sink); err != nil {
		t.Fatal(err)
	}

	op, err := Lower(sink, config.HashJoinLocal)
	if err != nil {
		t.Fatal(err)
	}
	s, ok := op.(*Sink)
	if !ok {
		t.Fatalf("expected *Sink at root, got %T", op)
	}
	m, ok := s.Children()[0].(*Map)
	if !ok {
		t.Fatalf("expected *Map under sink, got %T", s.Children()[0])
	}
	f, ok := m.Children()[0].(*Filter)
	if !ok {
		t.Fatalf("expected *Filter under map, got %T", m.Children()[0])
	}
	if _, ok := f.Children()[0].(*Source); !ok {
		t.Fatalf("expected *Source under filter, got %T", f.Children()[0])
	}
}

func TestLowerUnionIntoMultiplex(t *testing.T) {
	a := logical.NewSource(1, "a", carSchema())
	b := logical.NewSource(2, "b", carSchema())
	u := logical.NewUnion(a, b)
	sink := logical.NewSink(u, "print")

	if err := logical.Infer(sink); err != nil {
		t.Fatal(err)
	}
	op, err := Lower(sink, config.HashJoinLocal)
	if err != nil {
		t.Fatal(err)
	}
	mux, ok := op.(*Sink).Children()[0].(*Multiplex)
	if !ok {
		t.Fatalf("expected *Multiplex under sink, got %T", op.(*Sink).Children()[0])
	}
	if len(mux.Children()) != 2 {
		t.Fatalf("expected 2 multiplexed inputs, got %d", len(mux.Children()))
	}
}

func TestLowerTumblingWindowChain(t *testing.T) {
	src := logical.NewSource(1, "car", carSchema())
	win := logical.NewWindow(src, logical.Window{
		Type: logical.WindowTumbling, Size: 1000, WStartField: "wstart", WEndField: "wend",
		Keys: []string{"car$id"},
		Aggs: []window.AggSpec{{OnField: "car$value", AsField: "sumV", Type: window.Sum}},
	})
	sink := logical.NewSink(win, "print")

	if err := logical.Infer(sink); err != nil {
		t.Fatal(err)
	}
	op, err := Lower(sink, config.HashJoinLocal)
	if err != nil {
		t.Fatal(err)
	}
	wsink, ok := op.(*Sink).Children()[0].(*WindowSink)
	if !ok {
		t.Fatalf("expected *WindowSink under sink, got %T", op.(*Sink).Children()[0])
	}
	merge, ok := wsink.Children()[0].(*SliceMerging)
	if !ok {
		t.Fatalf("expected *SliceMerging under window sink, got %T", wsink.Children()[0])
	}
	if _, ok := merge.Children()[0].(*PreAggregation); !ok {
		t.Fatalf("expected *PreAggregation under slice merging, got %T", merge.Children()[0])
	}
}

func TestLowerEmptyUnionFailsWithEmptyOriginSet(t *testing.T) {
	u := logical.NewUnion()
	sink := logical.NewSink(u, "print")
	_, err := Lower(sink, config.HashJoinLocal)
	if err == nil {
		t.Fatal("expected error for empty union")
	}
	if k, ok := errs.Of(err); !ok || k != errs.EmptyOriginSet {
		t.Fatalf("expected EmptyOriginSet, got %v", err)
	}
}

func TestLowerJoinProducesBuildPairAndSink(t *testing.T) {
	left := logical.NewSource(1, "l", schema.Schema{{Name: "l$userId", Type: schema.I64}, {Name: "l$ts", Type: schema.I64}})
	right := logical.NewSource(2, "r", schema.Schema{{Name: "r$id", Type: schema.I64}, {Name: "r$ts", Type: schema.I64}})
	// common suffix match requires identical field suffixes; rename right's key to match left's.
	right.SrcSchema[0].Name = "r$userId"

	join := logical.NewJoin(left, right, expr.Compare{Op: expr.Eq, Left: expr.FieldRef{Name: "l$userId"}, Right: expr.FieldRef{Name: "r$userId"}},
		logical.JoinInner, 10000, 10000, "wstart", "wend", 3)
	sink := logical.NewSink(join, "print")

	if err := logical.Infer(sink); err != nil {
		t.Fatal(err)
	}
	op, err := Lower(sink, config.HashJoinGlobalLocking)
	if err != nil {
		t.Fatal(err)
	}
	jsink, ok := op.(*Sink).Children()[0].(*JoinSink)
	if !ok {
		t.Fatalf("expected *JoinSink under sink, got %T", op.(*Sink).Children()[0])
	}
	lb, ok := jsink.Left.(*JoinBuild)
	if !ok || !lb.IsLeft {
		t.Fatalf("expected left JoinBuild, got %+v", jsink.Left)
	}
	rb, ok := jsink.Right.(*JoinBuild)
	if !ok || rb.IsLeft {
		t.Fatalf("expected right JoinBuild, got %+v", jsink.Right)
	}
	if lb.Strategy != config.HashJoinGlobalLocking {
		t.Fatalf("expected strategy to propagate, got %v", lb.Strategy)
	}
}
