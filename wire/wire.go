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

// Package wire implements operator serialization (C7): the length-prefixed
// key/value record format spec §4.4 describes, built on the teacher's
// reflection-based ion.Marshal/Unmarshal rather than a hand-rolled codec.
// Every wire struct's field carries an `ion:"name,omitempty"` tag so the
// encoder/decoder need no per-type glue code beyond the logical<->wire
// conversion functions in convert.go.
package wire

import (
	"github.com/nebulastream/nes-core/errs"
	"github.com/nebulastream/nes-core/ion"
)

// WireAttribute is spec §6's schema wire format: `{name, typeTag, optional(length)}`.
type WireAttribute struct {
	Name   string `ion:"name"`
	Type   string `ion:"typeTag"`
	Length int    `ion:"length,omitempty"`
}

// WireExpr is a tagged-union encoding of expr.Node: exactly one Kind's
// fields are populated, the rest left at their zero value and omitted.
type WireExpr struct {
	Kind string `ion:"kind"`

	FieldName string `ion:"fieldName,omitempty"`

	LiteralType string  `ion:"literalType,omitempty"`
	LiteralInt  int64   `ion:"literalInt,omitempty"`
	LiteralFlt  float64 `ion:"literalFloat,omitempty"`
	LiteralStr  string  `ion:"literalString,omitempty"`

	Op string `ion:"op,omitempty"` // Compare/Logical/Arith operator symbol

	Left  *WireExpr `ion:"left,omitempty"`
	Right *WireExpr `ion:"right,omitempty"`
	Inner *WireExpr `ion:"inner,omitempty"` // Not

	ResultType string `ion:"resultType,omitempty"` // Arith only
}

// Variant is spec §4.4's tagged union over config values: `{int32, uint32,
// bool, char, float, double, string, enum{value:string}}`.
type Variant struct {
	Kind  string  `ion:"kind"`
	I     int64   `ion:"i,omitempty"`
	U     uint64  `ion:"u,omitempty"`
	B     bool    `ion:"b,omitempty"`
	Ch    string  `ion:"ch,omitempty"`
	F     float64 `ion:"f,omitempty"`
	D     float64 `ion:"d,omitempty"`
	Str   string  `ion:"str,omitempty"`
	Enum  string  `ion:"enum,omitempty"`
}

// ProjectionFieldWire is one entry of a Projection payload's expression
// list, including the optional `as` rename.
type ProjectionFieldWire struct {
	Expr *WireExpr     `ion:"expr"`
	As   WireAttribute `ion:"as"`
}

// AggSpecWire is one window aggregation list entry:
// `{onField, asField, type∈{sum,max,min,count,avg,median}}`.
type AggSpecWire struct {
	OnField string `ion:"onField"`
	AsField string `ion:"asField"`
	Type    string `ion:"type"`
}

type SourceDetails struct {
	Schema           []WireAttribute    `ion:"schema"`
	LogicalSourceName string            `ion:"logicalSourceName"`
	SourceType       string             `ion:"sourceType"`
	ParserType       string             `ion:"parserType,omitempty"`
	TupleDelimiter   string             `ion:"tupleDelimiter,omitempty"`
	FieldDelimiter   string             `ion:"fieldDelimiter,omitempty"`
	Config           map[string]Variant `ion:"config,omitempty"`
}

type SinkDetails struct {
	Schema        []WireAttribute    `ion:"schema"`
	SinkType      string             `ion:"sinkType"`
	AddTimestamp  bool               `ion:"addTimestamp,omitempty"`
	Config        map[string]Variant `ion:"config,omitempty"`
}

type SelectionDetails struct {
	Predicate *WireExpr `ion:"predicate"`
}

type ProjectionDetails struct {
	Fields []ProjectionFieldWire `ion:"fields"`
}

type MapDetails struct {
	Variant string        `ion:"variant"` // plain | udf | flat
	Out     WireAttribute `ion:"out"`
	Fn      *WireExpr     `ion:"fn"`
}

type WindowDetails struct {
	Keys        []string      `ion:"keys,omitempty"`
	OriginID    int64         `ion:"originId"`
	WindowType  string        `ion:"windowType"` // tumbling | sliding | threshold
	Size        int64         `ion:"size,omitempty"`
	Slide       int64         `ion:"slide,omitempty"`
	Aggs        []AggSpecWire `ion:"aggs,omitempty"`
	WStartField string        `ion:"windowStartField"`
	WEndField   string        `ion:"windowEndField"`
}

type JoinDetails struct {
	Function       *WireExpr `ion:"function"`
	WindowType     string    `ion:"windowType"`
	Size           int64     `ion:"size,omitempty"`
	Slide          int64     `ion:"slide,omitempty"`
	LeftEdgeCount  int       `ion:"leftEdgeCount"`
	RightEdgeCount int       `ion:"rightEdgeCount"`
	JoinType       string    `ion:"joinType"` // inner | cartesian
	WStartField    string    `ion:"windowStartField"`
	WEndField      string    `ion:"windowEndField"`
	OutputOriginID int64     `ion:"outputOriginId"`
}

type WatermarkDetails struct {
	Strategy   string  `ion:"strategy"` // eventTime | ingestionTime
	OnField    string  `ion:"onField,omitempty"`
	Multiplier float64 `ion:"multiplier,omitempty"`
}

type InferModelDetails struct {
	InputFields  []string `ion:"inputFields"`
	OutputFields []string `ion:"outputFields"`
	ModelBytes   []byte   `ion:"modelBytes"`
	FileName     string   `ion:"fileName"`
}

// Operator is spec §4.4's wire record: operator id, exactly one typed
// details payload (the non-nil field below), input/output schemas, child
// id list, and left/right origin id lists for binary operators.
type Operator struct {
	ID             uint64          `ion:"id"`
	Kind           string          `ion:"kind"`
	InputSchemas   [][]WireAttribute `ion:"inputSchemas,omitempty"`
	OutputSchema   []WireAttribute `ion:"outputSchema"`
	ChildIDs       []uint64        `ion:"childIds,omitempty"`
	LeftOriginIDs  []int64         `ion:"leftOriginIds,omitempty"`
	RightOriginIDs []int64         `ion:"rightOriginIds,omitempty"`

	Source     *SourceDetails     `ion:"source,omitempty"`
	Sink       *SinkDetails       `ion:"sink,omitempty"`
	Selection  *SelectionDetails  `ion:"selection,omitempty"`
	Projection *ProjectionDetails `ion:"projection,omitempty"`
	Map        *MapDetails        `ion:"map,omitempty"`
	Window     *WindowDetails     `ion:"window,omitempty"`
	Join       *JoinDetails       `ion:"join,omitempty"`
	Watermark  *WatermarkDetails  `ion:"watermark,omitempty"`
	InferModel *InferModelDetails `ion:"inferModel,omitempty"`
}

// Encode serializes op into a standalone buffer: a symbol table followed
// by the operator's ion struct, so the result is self-describing and can
// be handed to Decode without any external symbol table (spec §6: "new
// optional fields are allowed" forward compatibility relies on this).
func Encode(op *Operator) ([]byte, error) {
	var st ion.Symtab
	var buf ion.Buffer
	if err := ion.Marshal(&st, &buf, op); err != nil {
		return nil, errs.Wrap("wire.Encode", errs.CannotSerialize, err)
	}
	var out ion.Buffer
	out.StartChunk(&st)
	out.UnsafeAppend(buf.Bytes())
	return out.Bytes(), nil
}

// Decode parses a buffer produced by Encode back into an Operator.
func Decode(data []byte) (*Operator, error) {
	var st ion.Symtab
	rest, err := st.Unmarshal(data)
	if err != nil {
		return nil, errs.Wrap("wire.Decode", errs.CannotDeserialize, err)
	}
	op := new(Operator)
	if _, err := ion.Unmarshal(&st, rest, op); err != nil {
		return nil, errs.Wrap("wire.Decode", errs.CannotDeserialize, err)
	}
	return op, nil
}

func cannotSerialize(op string, v any) error {
	return errs.Newf("wire."+op, errs.CannotSerialize, "unrepresentable value %#v", v)
}
