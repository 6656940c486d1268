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

package exec

import (
	"testing"

	"github.com/nebulastream/nes-core/expr"
	"github.com/nebulastream/nes-core/internal/config"
	"github.com/nebulastream/nes-core/logical"
	"github.com/nebulastream/nes-core/physical"
	"github.com/nebulastream/nes-core/schema"
)

func carSchema() schema.Schema {
	return schema.Schema{
		{Name: "car$id", Type: schema.I64},
		{Name: "car$value", Type: schema.F64},
	}
}

// builds the scenario-6 pipeline: source(car) -> filter(id < 45) ->
// map(c := value*2) -> sink(print), already lowered to a physical tree.
func scenario6() (physical.Op, error) {
	src := logical.NewSource(1, "car", carSchema())
	pred := expr.Compare{Op: expr.Lt, Left: expr.FieldRef{Name: "car$id"}, Right: expr.Literal{Value: schema.Int(schema.I64, 45)}}
	filter := logical.NewFilter(src, pred)
	fn := expr.Arith{Op: expr.Mul, Left: expr.FieldRef{Name: "car$value"}, Right: expr.Literal{Value: schema.Float(schema.F64, 2)}, ResultType: schema.F64}
	out := schema.Attribute{Name: "car$c", Type: schema.F64}
	mp := logical.NewMap(filter, logical.MapPlain, fn, out)
	sink := logical.NewSink(mp, "print")

	if err := logical.Infer(sink); err != nil {
		return nil, err
	}
	return physical.Lower(sink, config.HashJoinLocal)
}

func TestLowerFilterMapPipelineProducesValidIR(t *testing.T) {
	root, err := scenario6()
	if err != nil {
		t.Fatal(err)
	}

	layout := Layout{
		RowWidth: 16,
		Offset:   map[string]int{"car$id": 0, "car$value": 8, "car$c": 8},
	}
	f, err := Lower(root, layout)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Validate(); err != nil {
		t.Fatalf("generated function failed validation: %v", err)
	}

	// every block must terminate, and the head block's loop-If terminator
	// must be resolvable without error.
	_, term, err := resolveTerminator(f.Entry, 0)
	if err != nil {
		t.Fatal(err)
	}
	if term.Return == nil {
		t.Fatalf("expected the entry's chase to land on the final Return terminator, got %v", term)
	}
}

func TestLowerRejectsNonSinkRoot(t *testing.T) {
	src := logical.NewSource(1, "car", carSchema())
	if err := logical.Infer(src); err != nil {
		t.Fatal(err)
	}
	root, err := physical.Lower(src, config.HashJoinLocal)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Lower(root, Layout{RowWidth: 16, Offset: map[string]int{}}); err == nil {
		t.Fatal("expected Lower to reject a non-Sink root")
	}
}

func TestCompileExprRejectsUnmappedExpression(t *testing.T) {
	f := NewFunction("t")
	b := f.Entry
	and := expr.Logical{Op: expr.And, Left: expr.Literal{Value: schema.Int(schema.I64, 1)}, Right: expr.Literal{Value: schema.Int(schema.I64, 1)}}
	if _, err := compileExpr(f, b, and, map[string]*Value{}); err == nil {
		t.Fatal("expected compileExpr to reject a Logical node with no IR equivalent")
	}
}
