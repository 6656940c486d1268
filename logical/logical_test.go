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

package logical

import (
	"testing"

	"github.com/nebulastream/nes-core/errs"
	"github.com/nebulastream/nes-core/expr"
	"github.com/nebulastream/nes-core/schema"
	"github.com/nebulastream/nes-core/window"
)

func srcSchema() schema.Schema {
	return schema.Schema{
		{Name: "s$id", Type: schema.I64},
		{Name: "s$v", Type: schema.F64},
		{Name: "s$ts", Type: schema.I64},
	}
}

func TestInferPropagatesThroughFilterAndProjection(t *testing.T) {
	src := NewSource(1, "cars", srcSchema())
	f := NewFilter(src, expr.Compare{Op: expr.Gt, Left: expr.FieldRef{Name: "s$v"}, Right: expr.Literal{Value: schema.Int(schema.I64, 0)}})
	p := NewProjection(f, []ProjectionField{{Expr: expr.FieldRef{Name: "s$id"}, As: schema.Attribute{Name: "out$id", Type: schema.I64}}})

	if err := Infer(p); err != nil {
		t.Fatal(err)
	}
	if len(p.Schema()) != 1 || p.Schema()[0].Name != "out$id" {
		t.Fatalf("unexpected projection schema: %v", p.Schema())
	}
	if len(f.Schema()) != 3 {
		t.Fatalf("filter schema should pass through unchanged, got %v", f.Schema())
	}
}

func TestInferWindowRejectsMissingTimestamp(t *testing.T) {
	src := NewSource(1, "noTS", schema.Schema{{Name: "s$id", Type: schema.I64}})
	w := NewWindow(src, Window{Type: WindowTumbling, Size: 10000, WStartField: "wstart", WEndField: "wend",
		Aggs: []window.AggSpec{{OnField: "s$id", AsField: "count", Type: window.Count}}})

	err := Infer(w)
	if err == nil {
		t.Fatal("expected error for missing timestamp attribute")
	}
	if k, ok := errs.Of(err); !ok || k != errs.JoinTimestampMissing {
		t.Fatalf("expected JoinTimestampMissing, got %v", err)
	}
}

func TestInferWindowRejectsSlideGreaterThanSize(t *testing.T) {
	src := NewSource(1, "ok", srcSchema())
	w := NewWindow(src, Window{Type: WindowSliding, Size: 1000, Slide: 5000, WStartField: "wstart", WEndField: "wend"})

	err := Infer(w)
	if err == nil {
		t.Fatal("expected error for slide > size")
	}
	if k, ok := errs.Of(err); !ok || k != errs.SchemaMismatch {
		t.Fatalf("expected SchemaMismatch, got %v", err)
	}
}

func TestInferWindowProducesKeyAndAggColumns(t *testing.T) {
	src := NewSource(1, "ok", srcSchema())
	w := NewWindow(src, Window{Type: WindowTumbling, Size: 10000, WStartField: "wstart", WEndField: "wend",
		Keys: []string{"s$id"},
		Aggs: []window.AggSpec{{OnField: "s$v", AsField: "sumV", Type: window.Sum}}})

	if err := Infer(w); err != nil {
		t.Fatal(err)
	}
	want := []string{"wstart", "wend", "s$id", "sumV"}
	if len(w.Schema()) != len(want) {
		t.Fatalf("unexpected schema length: %v", w.Schema())
	}
	for i, name := range want {
		if w.Schema()[i].Name != name {
			t.Fatalf("field %d: got %s, want %s", i, w.Schema()[i].Name, name)
		}
	}
}

func TestInferJoinConcatenatesBothSides(t *testing.T) {
	left := NewSource(1, "l", srcSchema())
	right := NewSource(2, "r", srcSchema())
	j := NewJoin(left, right, nil, JoinInner, 10000, 10000, "wstart", "wend", 3)

	if err := Infer(j); err != nil {
		t.Fatal(err)
	}
	// wstart, wend, then left's 3 fields, then right's 3 fields.
	if len(j.Schema()) != 2+3+3 {
		t.Fatalf("unexpected join schema: %v", j.Schema())
	}
}

func TestInferUnknownNodeFails(t *testing.T) {
	if err := Infer(&unknownNode{}); err == nil {
		t.Fatal("expected error for unknown node kind")
	} else if k, ok := errs.Of(err); !ok || k != errs.UnknownOperator {
		t.Fatalf("expected UnknownOperator, got %v", err)
	}
}

type unknownNode struct{ base }

func (unknownNode) String() string { return "unknown" }
