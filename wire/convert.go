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
	"github.com/nebulastream/nes-core/errs"
	"github.com/nebulastream/nes-core/expr"
	"github.com/nebulastream/nes-core/logical"
	"github.com/nebulastream/nes-core/schema"
	"github.com/nebulastream/nes-core/window"
)

// ToWireSchema converts a schema.Schema to its wire form, preserving field
// order bit-exactly (spec §4.4's round-trip invariant).
func ToWireSchema(s schema.Schema) []WireAttribute {
	out := make([]WireAttribute, len(s))
	for i, a := range s {
		out[i] = WireAttribute{Name: a.Name, Type: a.Type.String(), Length: a.Length}
	}
	return out
}

func typeFromTag(tag string) schema.Type {
	for t := schema.Bool; t <= schema.VariableChar; t++ {
		if t.String() == tag {
			return t
		}
	}
	return schema.Invalid
}

// FromWireSchema is ToWireSchema's inverse.
func FromWireSchema(w []WireAttribute) schema.Schema {
	out := make(schema.Schema, len(w))
	for i, a := range w {
		out[i] = schema.Attribute{Name: a.Name, Type: typeFromTag(a.Type), Length: a.Length}
	}
	return out
}

// ToWireExpr converts an expr.Node tree to its wire form.
func ToWireExpr(n expr.Node) (*WireExpr, error) {
	if n == nil {
		return nil, nil
	}
	switch t := n.(type) {
	case expr.FieldRef:
		return &WireExpr{Kind: "field", FieldName: t.Name}, nil
	case expr.Literal:
		return wireLiteral(t.Value)
	case expr.Compare:
		l, err := ToWireExpr(t.Left)
		if err != nil {
			return nil, err
		}
		r, err := ToWireExpr(t.Right)
		if err != nil {
			return nil, err
		}
		return &WireExpr{Kind: "compare", Op: string(t.Op), Left: l, Right: r}, nil
	case expr.Logical:
		l, err := ToWireExpr(t.Left)
		if err != nil {
			return nil, err
		}
		r, err := ToWireExpr(t.Right)
		if err != nil {
			return nil, err
		}
		return &WireExpr{Kind: "logical", Op: string(t.Op), Left: l, Right: r}, nil
	case expr.Not:
		in, err := ToWireExpr(t.Inner)
		if err != nil {
			return nil, err
		}
		return &WireExpr{Kind: "not", Inner: in}, nil
	case expr.Arith:
		l, err := ToWireExpr(t.Left)
		if err != nil {
			return nil, err
		}
		r, err := ToWireExpr(t.Right)
		if err != nil {
			return nil, err
		}
		return &WireExpr{Kind: "arith", Op: string(t.Op), Left: l, Right: r, ResultType: t.ResultType.String()}, nil
	default:
		return nil, cannotSerialize("ToWireExpr", n)
	}
}

func wireLiteral(v schema.Value) (*WireExpr, error) {
	w := &WireExpr{Kind: "literal", LiteralType: v.Type.String()}
	switch v.Type {
	case schema.F32, schema.F64:
		w.LiteralFlt = v.F
	case schema.VariableChar, schema.FixedChar:
		w.LiteralStr = v.S
	default:
		w.LiteralInt = v.I
	}
	return w, nil
}

// FromWireExpr is ToWireExpr's inverse.
func FromWireExpr(w *WireExpr) (expr.Node, error) {
	if w == nil {
		return nil, nil
	}
	switch w.Kind {
	case "field":
		return expr.FieldRef{Name: w.FieldName}, nil
	case "literal":
		t := typeFromTag(w.LiteralType)
		switch t {
		case schema.F32, schema.F64:
			return expr.Literal{Value: schema.Float(t, w.LiteralFlt)}, nil
		case schema.VariableChar, schema.FixedChar:
			return expr.Literal{Value: schema.Str(t, w.LiteralStr)}, nil
		default:
			return expr.Literal{Value: schema.Int(t, w.LiteralInt)}, nil
		}
	case "compare":
		l, err := FromWireExpr(w.Left)
		if err != nil {
			return nil, err
		}
		r, err := FromWireExpr(w.Right)
		if err != nil {
			return nil, err
		}
		return expr.Compare{Op: expr.CompareOp(w.Op), Left: l, Right: r}, nil
	case "logical":
		l, err := FromWireExpr(w.Left)
		if err != nil {
			return nil, err
		}
		r, err := FromWireExpr(w.Right)
		if err != nil {
			return nil, err
		}
		return expr.Logical{Op: expr.BoolOp(w.Op), Left: l, Right: r}, nil
	case "not":
		in, err := FromWireExpr(w.Inner)
		if err != nil {
			return nil, err
		}
		return expr.Not{Inner: in}, nil
	case "arith":
		l, err := FromWireExpr(w.Left)
		if err != nil {
			return nil, err
		}
		r, err := FromWireExpr(w.Right)
		if err != nil {
			return nil, err
		}
		return expr.Arith{Op: expr.ArithOp(w.Op), Left: l, Right: r, ResultType: typeFromTag(w.ResultType)}, nil
	default:
		return nil, errs.New("wire.FromWireExpr", errs.CannotDeserialize, "unknown expression kind "+w.Kind)
	}
}

// ToWireOperator converts one logical.Node (not its children, which the
// caller tracks by ChildIDs) into a wire.Operator. id, childIDs, and the
// left/right origin id lists are supplied by the caller, since only the
// surrounding plan knows a node's position in the DAG.
func ToWireOperator(id uint64, n logical.Node, childIDs []uint64, leftOriginIDs, rightOriginIDs []int64) (*Operator, error) {
	op := &Operator{
		ID:             id,
		OutputSchema:   ToWireSchema(n.Schema()),
		ChildIDs:       childIDs,
		LeftOriginIDs:  leftOriginIDs,
		RightOriginIDs: rightOriginIDs,
	}
	for _, c := range n.Children() {
		op.InputSchemas = append(op.InputSchemas, ToWireSchema(c.Schema()))
	}

	switch t := n.(type) {
	case *logical.Source:
		op.Kind = "Source"
		op.Source = &SourceDetails{Schema: ToWireSchema(t.SrcSchema), LogicalSourceName: t.Descriptor, SourceType: t.Descriptor}
	case *logical.Sink:
		op.Kind = "Sink"
		op.Sink = &SinkDetails{Schema: ToWireSchema(t.Schema()), SinkType: t.Descriptor}
	case *logical.Filter:
		op.Kind = "Selection"
		pred, err := ToWireExpr(t.Predicate)
		if err != nil {
			return nil, err
		}
		op.Selection = &SelectionDetails{Predicate: pred}
	case *logical.Projection:
		op.Kind = "Projection"
		fields := make([]ProjectionFieldWire, len(t.Fields))
		for i, f := range t.Fields {
			e, err := ToWireExpr(f.Expr)
			if err != nil {
				return nil, err
			}
			fields[i] = ProjectionFieldWire{Expr: e, As: WireAttribute{Name: f.As.Name, Type: f.As.Type.String(), Length: f.As.Length}}
		}
		op.Projection = &ProjectionDetails{Fields: fields}
	case *logical.Map:
		op.Kind = "Map"
		fn, err := ToWireExpr(t.Fn)
		if err != nil {
			return nil, err
		}
		op.Map = &MapDetails{Variant: mapVariantTag(t.Kind), Out: WireAttribute{Name: t.OutAttr.Name, Type: t.OutAttr.Type.String(), Length: t.OutAttr.Length}, Fn: fn}
	case *logical.Window:
		op.Kind = "Window"
		aggs := make([]AggSpecWire, len(t.Aggs))
		for i, a := range t.Aggs {
			aggs[i] = AggSpecWire{OnField: a.OnField, AsField: a.AsField, Type: string(a.Type)}
		}
		op.Window = &WindowDetails{
			Keys: t.Keys, OriginID: t.OriginID(), WindowType: windowTypeTag(t.Type),
			Size: t.Size, Slide: t.Slide, Aggs: aggs, WStartField: t.WStartField, WEndField: t.WEndField,
		}
	case *logical.Join:
		op.Kind = "Join"
		fn, err := ToWireExpr(t.Function)
		if err != nil {
			return nil, err
		}
		op.Join = &JoinDetails{
			Function: fn, WindowType: "tumbling", Size: t.Size, Slide: t.Slide,
			LeftEdgeCount: len(t.Left.Children()), RightEdgeCount: len(t.Right.Children()),
			JoinType: joinKindTag(t.Kind), WStartField: t.WStartField, WEndField: t.WEndField, OutputOriginID: t.OutputOriginID,
		}
	case *logical.Watermark:
		op.Kind = "Watermark"
		op.Watermark = &WatermarkDetails{Strategy: watermarkStrategyTag(t.Strategy), OnField: t.OnField, Multiplier: t.Multiplier}
	default:
		return nil, errs.New("wire.ToWireOperator", errs.UnknownOperator, "unsupported logical node kind")
	}
	return op, nil
}

func mapVariantTag(k logical.MapKind) string {
	switch k {
	case logical.MapUDF:
		return "udf"
	case logical.MapFlat:
		return "flat"
	default:
		return "plain"
	}
}

func mapVariantFromTag(s string) logical.MapKind {
	switch s {
	case "udf":
		return logical.MapUDF
	case "flat":
		return logical.MapFlat
	default:
		return logical.MapPlain
	}
}

func windowTypeTag(t logical.WindowType) string {
	switch t {
	case logical.WindowSliding:
		return "sliding"
	case logical.WindowThreshold:
		return "threshold"
	default:
		return "tumbling"
	}
}

func windowTypeFromTag(s string) logical.WindowType {
	switch s {
	case "sliding":
		return logical.WindowSliding
	case "threshold":
		return logical.WindowThreshold
	default:
		return logical.WindowTumbling
	}
}

func joinKindTag(k logical.JoinKind) string {
	if k == logical.JoinCartesian {
		return "cartesian"
	}
	return "inner"
}

func joinKindFromTag(s string) logical.JoinKind {
	if s == "cartesian" {
		return logical.JoinCartesian
	}
	return logical.JoinInner
}

func watermarkStrategyTag(s logical.WatermarkStrategy) string {
	if s == logical.WatermarkIngestionTime {
		return "ingestionTime"
	}
	return "eventTime"
}

func watermarkStrategyFromTag(s string) logical.WatermarkStrategy {
	if s == "ingestionTime" {
		return logical.WatermarkIngestionTime
	}
	return logical.WatermarkEventTime
}

// DecodedDetails is the partial, child-less reconstruction FromWireOperator
// produces: the fields the round-trip invariant in spec §8 actually
// checks (schema, predicate AST, sink schema, ...), without the child
// nodes that only the surrounding plan decoder can supply. The sink
// descriptor is not copied here; it stays in Operator.Sink.SinkType.
type DecodedDetails struct {
	Kind         string
	OutputSchema schema.Schema
	Predicate    expr.Node   // Selection
	SinkSchema   schema.Schema
	ProjFields   []logical.ProjectionField // Projection
	MapFn        expr.Node
	MapOut       schema.Attribute
	MapKind      logical.MapKind
	WindowDef    window.Definition
	WindowType   logical.WindowType
	WindowKeys   []string
	WStartField  string
	WEndField    string
	JoinFunction expr.Node
	JoinKind     logical.JoinKind
	WatermarkStrategy logical.WatermarkStrategy
	WatermarkOnField  string
	WatermarkMultiplier float64
}

// FromWireOperator decodes op's typed details back into Go values.
func FromWireOperator(op *Operator) (*DecodedDetails, error) {
	d := &DecodedDetails{Kind: op.Kind, OutputSchema: FromWireSchema(op.OutputSchema)}
	switch op.Kind {
	case "Source":
		// nothing further: source schema is already op.OutputSchema
	case "Sink":
		if op.Sink != nil {
			d.SinkSchema = FromWireSchema(op.Sink.Schema)
		}
	case "Selection":
		if op.Selection == nil {
			return nil, errs.New("wire.FromWireOperator", errs.CannotDeserialize, "Selection operator missing predicate")
		}
		pred, err := FromWireExpr(op.Selection.Predicate)
		if err != nil {
			return nil, err
		}
		d.Predicate = pred
	case "Projection":
		if op.Projection == nil {
			return nil, errs.New("wire.FromWireOperator", errs.CannotDeserialize, "Projection operator missing fields")
		}
		fields := make([]logical.ProjectionField, len(op.Projection.Fields))
		for i, f := range op.Projection.Fields {
			e, err := FromWireExpr(f.Expr)
			if err != nil {
				return nil, err
			}
			fields[i] = logical.ProjectionField{Expr: e, As: schema.Attribute{Name: f.As.Name, Type: typeFromTag(f.As.Type), Length: f.As.Length}}
		}
		d.ProjFields = fields
	case "Map":
		if op.Map == nil {
			return nil, errs.New("wire.FromWireOperator", errs.CannotDeserialize, "Map operator missing payload")
		}
		fn, err := FromWireExpr(op.Map.Fn)
		if err != nil {
			return nil, err
		}
		d.MapFn = fn
		d.MapKind = mapVariantFromTag(op.Map.Variant)
		d.MapOut = schema.Attribute{Name: op.Map.Out.Name, Type: typeFromTag(op.Map.Out.Type), Length: op.Map.Out.Length}
	case "Window":
		if op.Window == nil {
			return nil, errs.New("wire.FromWireOperator", errs.CannotDeserialize, "Window operator missing payload")
		}
		aggs := make([]window.AggSpec, len(op.Window.Aggs))
		for i, a := range op.Window.Aggs {
			aggs[i] = window.AggSpec{OnField: a.OnField, AsField: a.AsField, Type: window.AggType(a.Type)}
		}
		kind := window.Tumbling
		wt := windowTypeFromTag(op.Window.WindowType)
		if wt == logical.WindowSliding {
			kind = window.Sliding
		}
		d.WindowDef = window.Definition{Kind: kind, Size: op.Window.Size, Slide: op.Window.Slide, Aggs: aggs}
		d.WindowType = wt
		d.WindowKeys = op.Window.Keys
		d.WStartField = op.Window.WStartField
		d.WEndField = op.Window.WEndField
	case "Join":
		if op.Join == nil {
			return nil, errs.New("wire.FromWireOperator", errs.CannotDeserialize, "Join operator missing payload")
		}
		fn, err := FromWireExpr(op.Join.Function)
		if err != nil {
			return nil, err
		}
		d.JoinFunction = fn
		d.JoinKind = joinKindFromTag(op.Join.JoinType)
		d.WStartField = op.Join.WStartField
		d.WEndField = op.Join.WEndField
	case "Watermark":
		if op.Watermark == nil {
			return nil, errs.New("wire.FromWireOperator", errs.CannotDeserialize, "Watermark operator missing payload")
		}
		d.WatermarkStrategy = watermarkStrategyFromTag(op.Watermark.Strategy)
		d.WatermarkOnField = op.Watermark.OnField
		d.WatermarkMultiplier = op.Watermark.Multiplier
	default:
		return nil, errs.New("wire.FromWireOperator", errs.UnknownOperator, "unknown operator kind "+op.Kind)
	}
	return d, nil
}
