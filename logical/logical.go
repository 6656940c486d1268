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

// Package logical implements the logical query plan node set spec §4.3
// lowers from, and the type-inference pass (C5) that resolves every
// node's output schema before lowering runs.
package logical

import (
	"fmt"

	"github.com/nebulastream/nes-core/errs"
	"github.com/nebulastream/nes-core/expr"
	"github.com/nebulastream/nes-core/schema"
	"github.com/nebulastream/nes-core/utf8"
	"github.com/nebulastream/nes-core/window"
)

// Node is one logical plan operator. Every Node's Schema is populated by
// Infer before lowering (C6) may run.
type Node interface {
	Children() []Node
	SetChildren([]Node)
	Schema() schema.Schema
	setSchema(schema.Schema)
	OriginID() int64
	String() string
}

type base struct {
	children []Node
	schema   schema.Schema
	originID int64
}

func (b *base) Children() []Node          { return b.children }
func (b *base) SetChildren(c []Node)      { b.children = c }
func (b *base) Schema() schema.Schema     { return b.schema }
func (b *base) setSchema(s schema.Schema) { b.schema = s }
func (b *base) OriginID() int64           { return b.originID }

// Source is a stream source, carrying its own schema and a fresh origin
// id for downstream watermark tracking.
type Source struct {
	base
	Descriptor string
	SrcSchema  schema.Schema
}

func NewSource(originID int64, descriptor string, sch schema.Schema) *Source {
	s := &Source{Descriptor: descriptor, SrcSchema: sch}
	s.originID = originID
	return s
}
func (s *Source) String() string { return fmt.Sprintf("Source(%s)", s.Descriptor) }

// Filter keeps only rows for which Predicate evaluates truthy.
type Filter struct {
	base
	Predicate expr.Node
}

func NewFilter(child Node, pred expr.Node) *Filter {
	f := &Filter{Predicate: pred}
	f.children = []Node{child}
	return f
}
func (f *Filter) String() string { return fmt.Sprintf("Filter(%s)", f.Predicate) }

// Projection narrows/renames/computes fields via a list of expressions,
// each producing one output attribute.
type ProjectionField struct {
	Expr expr.Node
	As   schema.Attribute
}

type Projection struct {
	base
	Fields []ProjectionField
}

func NewProjection(child Node, fields []ProjectionField) *Projection {
	p := &Projection{Fields: fields}
	p.children = []Node{child}
	return p
}
func (p *Projection) String() string { return "Projection" }

// MapKind distinguishes spec §4.3's Map/UDF Map/FlatMap dispatch targets.
type MapKind int

const (
	MapPlain MapKind = iota
	MapUDF
	MapFlat
)

// Map computes OutField = Fn(...) without changing the rest of the
// schema, per spec §4.3's "Map / UDF Map / FlatMap" row.
type Map struct {
	base
	Kind    MapKind
	Fn      expr.Node
	OutAttr schema.Attribute
}

func NewMap(child Node, kind MapKind, fn expr.Node, out schema.Attribute) *Map {
	m := &Map{Kind: kind, Fn: fn, OutAttr: out}
	m.children = []Node{child}
	return m
}
func (m *Map) String() string { return "Map" }

// Union merges multiple streams of identical schema into one.
type Union struct{ base }

func NewUnion(children ...Node) *Union {
	u := &Union{}
	u.children = children
	return u
}
func (u *Union) String() string { return "Union" }

// Window is spec §4.1's logical window marker: key list, window-type
// oneof, aggregation list, and the field names the materialized
// wstart/wend columns get.
type WindowType int

const (
	WindowTumbling WindowType = iota
	WindowSliding
	WindowThreshold
)

type Window struct {
	base
	Type             WindowType
	Size, Slide      int64
	Keys             []string
	Aggs             []window.AggSpec
	WStartField      string
	WEndField        string
	ThresholdPred    expr.Node
	ThresholdMinRows int
}

func NewWindow(child Node, w Window) *Window {
	w.children = []Node{child}
	return &w
}
func (w *Window) String() string { return "Window" }

// Join is spec §4.1's logical join marker: a join-function tree, window
// size/slide, and join kind. Left/right edge counts are not stored.
type JoinKind int

const (
	JoinInner JoinKind = iota
	JoinCartesian
)

type Join struct {
	base
	Left, Right      Node
	Function         expr.Node
	Kind             JoinKind
	Size, Slide      int64
	WStartField      string
	WEndField        string
	OutputOriginID   int64
}

func NewJoin(left, right Node, fn expr.Node, kind JoinKind, size, slide int64, wstartField, wendField string, outOrigin int64) *Join {
	j := &Join{Left: left, Right: right, Function: fn, Kind: kind, Size: size, Slide: slide,
		WStartField: wstartField, WEndField: wendField, OutputOriginID: outOrigin}
	j.children = []Node{left, right}
	j.originID = outOrigin
	return j
}
func (j *Join) String() string { return "Join" }

// WatermarkStrategy is spec §4.4's watermark-assignment strategy oneof.
type WatermarkStrategy int

const (
	WatermarkEventTime WatermarkStrategy = iota
	WatermarkIngestionTime
)

// Watermark assigns per-record watermarks ahead of a windowed/join
// subplan, per spec §4.3's "Watermark | PhysicalWatermarkAssignment(strategy)" row.
type Watermark struct {
	base
	Strategy   WatermarkStrategy
	OnField    string
	Multiplier float64
}

func NewWatermark(child Node, strategy WatermarkStrategy, onField string, multiplier float64) *Watermark {
	w := &Watermark{Strategy: strategy, OnField: onField, Multiplier: multiplier}
	w.children = []Node{child}
	return w
}
func (w *Watermark) String() string { return "Watermark" }

// Sink is the terminal output operator.
type Sink struct {
	base
	Descriptor string
}

func NewSink(child Node, descriptor string) *Sink {
	s := &Sink{Descriptor: descriptor}
	s.children = []Node{child}
	return s
}
func (s *Sink) String() string { return fmt.Sprintf("Sink(%s)", s.Descriptor) }

// Infer is the type-inference pass (C5): it computes every node's output
// Schema bottom-up, enforcing spec §4.2's fatal invariants (sliding
// window slide > size, missing event-time attribute, unknown window
// type).
func Infer(n Node) error {
	for _, c := range n.Children() {
		if err := Infer(c); err != nil {
			return err
		}
	}
	sch, err := inferOne(n)
	if err != nil {
		return err
	}
	n.setSchema(sch)
	return nil
}

func inferOne(n Node) (schema.Schema, error) {
	switch t := n.(type) {
	case *Source:
		return t.SrcSchema, nil
	case *Filter:
		return t.children[0].Schema(), nil
	case *Projection:
		out := make(schema.Schema, len(t.Fields))
		for i, f := range t.Fields {
			out[i] = f.As
		}
		return out, nil
	case *Map:
		if t.OutAttr.Type == schema.FixedChar {
			if lit, ok := t.Fn.(expr.Literal); ok {
				n := utf8.ValidStringLength([]byte(lit.Value.S))
				if n > t.OutAttr.Length {
					return nil, errs.New("logical.Infer", errs.SchemaMismatch,
						fmt.Sprintf("map output %q: literal is %d runes wide, exceeds declared FixedChar(%d)", t.OutAttr.Name, n, t.OutAttr.Length))
				}
			}
		}
		return t.children[0].Schema().Append(t.OutAttr), nil
	case *Union:
		if len(t.children) == 0 {
			return nil, errs.New("logical.Infer", errs.SchemaMismatch, "union has no inputs")
		}
		return t.children[0].Schema(), nil
	case *Window:
		return inferWindow(t)
	case *Join:
		return inferJoin(t)
	case *Watermark:
		return t.children[0].Schema(), nil
	case *Sink:
		return t.children[0].Schema(), nil
	default:
		return nil, errs.New("logical.Infer", errs.UnknownOperator, fmt.Sprintf("unknown logical node %T", n))
	}
}

func inferWindow(w *Window) (schema.Schema, error) {
	in := w.children[0].Schema()
	switch w.Type {
	case WindowTumbling, WindowSliding, WindowThreshold:
	default:
		return nil, errs.New("logical.Infer", errs.UnknownOperator, fmt.Sprintf("unknown window type %d", w.Type))
	}
	if w.Type != WindowThreshold {
		if !in.HasTimestamp() {
			return nil, errs.New("logical.Infer", errs.JoinTimestampMissing, "schema does not contain a timestamp attribute")
		}
		if w.Type == WindowSliding && w.Slide > w.Size {
			return nil, errs.New("logical.Infer", errs.SchemaMismatch, "sliding window slide must not exceed size")
		}
	}
	out := schema.Schema{
		{Name: w.WStartField, Type: schema.I64},
		{Name: w.WEndField, Type: schema.I64},
	}
	for _, k := range w.Keys {
		i, err := in.Resolve(k)
		if err != nil {
			return nil, err
		}
		out = append(out, in[i])
	}
	for _, a := range w.Aggs {
		out = append(out, schema.Attribute{Name: a.AsField, Type: schema.F64})
	}
	return out, nil
}

func inferJoin(j *Join) (schema.Schema, error) {
	left, right := j.Left.Schema(), j.Right.Schema()
	if !left.HasTimestamp() {
		return nil, errs.New("logical.Infer", errs.JoinTimestampMissing, "schema does not contain a timestamp attribute")
	}
	if !right.HasTimestamp() {
		return nil, errs.New("logical.Infer", errs.JoinTimestampMissing, "schema does not contain a timestamp attribute")
	}
	out := schema.Concat(left, right)
	out = append(schema.Schema{
		{Name: j.WStartField, Type: schema.I64},
		{Name: j.WEndField, Type: schema.I64},
	}, out...)
	return out, nil
}
