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

package wire

import (
	"testing"

	"github.com/nebulastream/nes-core/expr"
	"github.com/nebulastream/nes-core/logical"
	"github.com/nebulastream/nes-core/schema"
)

func carSchema() schema.Schema {
	return schema.Schema{
		{Name: "car$id", Type: schema.I64},
		{Name: "car$value", Type: schema.F64},
	}
}

func roundTrip(t *testing.T, id uint64, n logical.Node) (*Operator, *DecodedDetails) {
	t.Helper()
	op, err := ToWireOperator(id, n, nil, nil, nil)
	if err != nil {
		t.Fatalf("ToWireOperator: %v", err)
	}
	data, err := Encode(op)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.ID != id {
		t.Fatalf("operator id not preserved: got %d, want %d", decoded.ID, id)
	}
	details, err := FromWireOperator(decoded)
	if err != nil {
		t.Fatalf("FromWireOperator: %v", err)
	}
	return decoded, details
}

// Scenario 6: source(car) -> filter(id < 45) -> map(c := value*2) -> sink(print).
func TestSerializationRoundTripScenario6(t *testing.T) {
	src := logical.NewSource(1, "car", carSchema())
	pred := expr.Compare{Op: expr.Lt, Left: expr.FieldRef{Name: "car$id"}, Right: expr.Literal{Value: schema.Int(schema.I64, 45)}}
	filter := logical.NewFilter(src, pred)
	fn := expr.Arith{Op: expr.Mul, Left: expr.FieldRef{Name: "car$value"}, Right: expr.Literal{Value: schema.Float(schema.F64, 2)}, ResultType: schema.F64}
	out := schema.Attribute{Name: "car$c", Type: schema.F64}
	mp := logical.NewMap(filter, logical.MapPlain, fn, out)
	sink := logical.NewSink(mp, "print")

	if err := logical.Infer(sink); err != nil {
		t.Fatal(err)
	}

	_, srcDetails := roundTrip(t, 1, src)
	if len(srcDetails.OutputSchema) != 2 {
		t.Fatalf("source schema not preserved: %v", srcDetails.OutputSchema)
	}

	_, filterDetails := roundTrip(t, 2, filter)
	want := pred.String()
	if filterDetails.Predicate == nil || filterDetails.Predicate.String() != want {
		t.Fatalf("predicate AST not preserved: got %v, want %s", filterDetails.Predicate, want)
	}

	decodedSink, sinkDetails := roundTrip(t, 4, sink)
	if decodedSink.Sink == nil || decodedSink.Sink.SinkType != "print" {
		t.Fatalf("sink descriptor not preserved: %+v", decodedSink.Sink)
	}
	if len(sinkDetails.SinkSchema) != len(sink.Schema()) {
		t.Fatalf("sink schema not preserved: %v", sinkDetails.SinkSchema)
	}

	_, mapDetails := roundTrip(t, 3, mp)
	if mapDetails.MapOut.Name != "car$c" || mapDetails.MapFn.String() != fn.String() {
		t.Fatalf("map payload not preserved: %+v", mapDetails)
	}
}

func TestWindowDetailsRoundTrip(t *testing.T) {
	src := logical.NewSource(1, "car", schema.Schema{{Name: "car$id", Type: schema.I64}, {Name: "car$ts", Type: schema.I64}})
	w := logical.NewWindow(src, logical.Window{Type: logical.WindowTumbling, Size: 1000, WStartField: "wstart", WEndField: "wend", Keys: []string{"car$id"}})
	if err := logical.Infer(w); err != nil {
		t.Fatal(err)
	}
	_, details := roundTrip(t, 9, w)
	if details.WindowDef.Size != 1000 || details.WStartField != "wstart" || len(details.WindowKeys) != 1 {
		t.Fatalf("window details not preserved: %+v", details)
	}
}
