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

// Package physical implements the logical-to-physical lowering pass
// (C6): spec §4.3's operator dispatch table, plus the multiplex/demultiplex
// insertion rules for fan-out/fan-in.
package physical

import (
	"fmt"

	"github.com/nebulastream/nes-core/errs"
	"github.com/nebulastream/nes-core/expr"
	"github.com/nebulastream/nes-core/internal/config"
	"github.com/nebulastream/nes-core/logical"
	"github.com/nebulastream/nes-core/schema"
	"github.com/nebulastream/nes-core/window"
)

// Op is one physical plan node. A physical tree records child edges
// only: no Op keeps a list of its parents, and no Demultiplex is inserted
// after an operator whose output feeds more than one consumer.
type Op interface {
	Children() []Op
	Schema() schema.Schema
	String() string
}

type opBase struct {
	children []Op
	schema   schema.Schema
}

func (b *opBase) Children() []Op      { return b.children }
func (b *opBase) Schema() schema.Schema { return b.schema }

type Source struct {
	opBase
	OriginID   int64
	Descriptor string
}

func (s *Source) String() string { return fmt.Sprintf("PhysicalSource(%d,%s)", s.OriginID, s.Descriptor) }

type Sink struct {
	opBase
	Descriptor string
}

func (s *Sink) String() string { return fmt.Sprintf("PhysicalSink(%s)", s.Descriptor) }

type Filter struct {
	opBase
	Predicate expr.Node
}

func (f *Filter) String() string { return "PhysicalFilter" }

type Project struct {
	opBase
	Fields []logical.ProjectionField
}

func (p *Project) String() string { return "PhysicalProject" }

// MapVariant distinguishes the Map/UDF Map/FlatMap dispatch row: all three
// lower to the same PhysicalMap node shape, tagged by variant (spec §4.3:
// "Map / UDF Map / FlatMap | PhysicalMap variant").
type MapVariant int

const (
	MapPlain MapVariant = iota
	MapUDF
	MapFlat
)

type Map struct {
	opBase
	Variant MapVariant
	Fn      expr.Node
	OutAttr schema.Attribute
}

func (m *Map) String() string { return "PhysicalMap" }

// Multiplex fans multiple inputs into one stream of the shared schema
// (Union's lowering, and rule 1's fan-in insertion for a unary op with
// multiple children).
type Multiplex struct{ opBase }

func (m *Multiplex) String() string { return "PhysicalMultiplex" }

// Demultiplex fans one input out to multiple consumers (rule 1's fan-out
// insertion, and rule 4's per-side demultiplex ahead of a join build).
type Demultiplex struct {
	opBase
	Fanout int
}

func (d *Demultiplex) String() string { return "PhysicalDemultiplex" }

type PreAggregation struct {
	opBase
	Def      window.Definition
	Keyed    bool
	KeyField string
	HandlerID uint64
}

func (p *PreAggregation) String() string { return "PreAggregation" }

type SliceMerging struct {
	opBase
	Def       window.Definition
	Keyed     bool
	HandlerID uint64
	Sliding   bool
}

func (s *SliceMerging) String() string { return "SliceMerging" }

type WindowSink struct {
	opBase
	WStartField, WEndField string
}

func (w *WindowSink) String() string { return "WindowSink" }

type ThresholdWindow struct {
	opBase
	Predicate expr.Node
	MinCount  int
}

func (t *ThresholdWindow) String() string { return "PhysicalThresholdWindow" }

// JoinBuild is one side (left or right) of a streaming join build, each
// fed by its own (possibly demultiplexed) input per rule 4.
type JoinBuild struct {
	opBase
	IsLeft   bool
	KeyField int
	Strategy config.JoinStrategy
}

func (j *JoinBuild) String() string {
	if j.IsLeft {
		return "JoinBuild(left)"
	}
	return "JoinBuild(right)"
}

type JoinSink struct {
	opBase
	Left, Right            Op
	WStartField, WEndField string
	Kind                   logical.JoinKind
	OutputOriginID         int64
}

func (j *JoinSink) String() string { return "JoinSink" }

type WatermarkAssignment struct {
	opBase
	Strategy   logical.WatermarkStrategy
	OnField    string
	Multiplier float64
}

func (w *WatermarkAssignment) String() string { return "PhysicalWatermarkAssignment" }

type IterationCEP struct {
	opBase
	Min, Max int
}

func (i *IterationCEP) String() string { return fmt.Sprintf("PhysicalIterationCEP(%d,%d)", i.Min, i.Max) }

// Lower rewrites the logical plan rooted at n into a physical plan,
// implementing spec §4.3's dispatch table and rules 1-5. strategy selects
// the join build/probe implementation for every Join node encountered.
func Lower(n logical.Node, strategy config.JoinStrategy) (Op, error) {
	return lowerNode(n, strategy)
}

func lowerNode(n logical.Node, strategy config.JoinStrategy) (Op, error) {
	children := n.Children()

	switch t := n.(type) {
	case *logical.Source:
		return &Source{opBase: opBase{schema: t.Schema()}, OriginID: t.OriginID(), Descriptor: t.Descriptor}, nil

	case *logical.Sink:
		child, err := lowerUnary(children, strategy)
		if err != nil {
			return nil, err
		}
		return &Sink{opBase: opBase{children: []Op{child}, schema: t.Schema()}, Descriptor: t.Descriptor}, nil

	case *logical.Filter:
		child, err := lowerUnary(children, strategy)
		if err != nil {
			return nil, err
		}
		return &Filter{opBase: opBase{children: []Op{child}, schema: t.Schema()}, Predicate: t.Predicate}, nil

	case *logical.Projection:
		child, err := lowerUnary(children, strategy)
		if err != nil {
			return nil, err
		}
		return &Project{opBase: opBase{children: []Op{child}, schema: t.Schema()}, Fields: t.Fields}, nil

	case *logical.Map:
		child, err := lowerUnary(children, strategy)
		if err != nil {
			return nil, err
		}
		return &Map{opBase: opBase{children: []Op{child}, schema: t.Schema()}, Variant: mapVariant(t.Kind), Fn: t.Fn, OutAttr: t.OutAttr}, nil

	case *logical.Union:
		if len(children) == 0 {
			return nil, errs.New("physical.Lower", errs.EmptyOriginSet, "union has no input origins")
		}
		lowered := make([]Op, len(children))
		for i, c := range children {
			lc, err := lowerNode(c, strategy)
			if err != nil {
				return nil, err
			}
			lowered[i] = lc
		}
		return &Multiplex{opBase: opBase{children: lowered, schema: t.Schema()}}, nil

	case *logical.Watermark:
		child, err := lowerUnary(children, strategy)
		if err != nil {
			return nil, err
		}
		return &WatermarkAssignment{opBase: opBase{children: []Op{child}, schema: t.Schema()}, Strategy: t.Strategy, OnField: t.OnField, Multiplier: t.Multiplier}, nil

	case *logical.Window:
		return lowerWindow(t, strategy)

	case *logical.Join:
		return lowerJoin(t, strategy)

	default:
		return nil, errs.New("physical.Lower", errs.UnknownOperator, fmt.Sprintf("unknown logical node %T", n))
	}
}

func mapVariant(k logical.MapKind) MapVariant {
	switch k {
	case logical.MapUDF:
		return MapUDF
	case logical.MapFlat:
		return MapFlat
	default:
		return MapPlain
	}
}

// lowerUnary implements rule 1: a unary logical operator with multiple
// children is preceded by a Multiplex; fan-in on an already-unary op with
// one logical child is a no-op.
func lowerUnary(children []logical.Node, strategy config.JoinStrategy) (Op, error) {
	if len(children) == 0 {
		return nil, errs.New("physical.lowerUnary", errs.EmptyOriginSet, "unary operator has no input")
	}
	if len(children) == 1 {
		return lowerNode(children[0], strategy)
	}
	lowered := make([]Op, len(children))
	var sch schema.Schema
	for i, c := range children {
		lc, err := lowerNode(c, strategy)
		if err != nil {
			return nil, err
		}
		lowered[i] = lc
		sch = lc.Schema()
	}
	return &Multiplex{opBase: opBase{children: lowered, schema: sch}}, nil
}

// lowerWindow implements spec §4.3's two window rows: time windows lower
// to a PreAggregation -> SliceMerging -> WindowSink chain (rule 3 adds a
// GlobalSliceStore/SlidingWindowSink pair, folded here into SliceMerging's
// Sliding flag since the staging area itself is an internal detail of
// slicestore); threshold windows lower to a single node.
func lowerWindow(w *logical.Window, strategy config.JoinStrategy) (Op, error) {
	child, err := lowerUnary(w.Children(), strategy)
	if err != nil {
		return nil, err
	}

	if w.Type == logical.WindowThreshold {
		return &ThresholdWindow{opBase: opBase{children: []Op{child}, schema: w.Schema()}, Predicate: w.ThresholdPred, MinCount: w.ThresholdMinRows}, nil
	}

	kind := window.Tumbling
	if w.Type == logical.WindowSliding {
		kind = window.Sliding
	}
	def := window.Definition{Kind: kind, Size: w.Size, Slide: w.Slide, Aggs: w.Aggs}
	keyed := len(w.Keys) > 0
	var keyField string
	if keyed {
		keyField = w.Keys[0]
	}

	preAgg := &PreAggregation{opBase: opBase{children: []Op{child}, schema: child.Schema()}, Def: def, Keyed: keyed, KeyField: keyField}
	merge := &SliceMerging{opBase: opBase{children: []Op{preAgg}, schema: w.Schema()}, Def: def, Keyed: keyed, Sliding: w.Type == logical.WindowSliding}
	sink := &WindowSink{opBase: opBase{children: []Op{merge}, schema: w.Schema()}, WStartField: w.WStartField, WEndField: w.WEndField}
	return sink, nil
}

// lowerJoin implements the Join row and rule 4: each side gets its own
// demultiplex if it has multiple logical children, feeding a JoinBuild,
// both sides feeding one JoinSink.
func lowerJoin(j *logical.Join, strategy config.JoinStrategy) (Op, error) {
	leftIn, err := lowerSide(j.Left, strategy)
	if err != nil {
		return nil, err
	}
	rightIn, err := lowerSide(j.Right, strategy)
	if err != nil {
		return nil, err
	}

	leftKeyField, rightKeyField, err := resolveJoinKeyIndices(j)
	if err != nil {
		return nil, err
	}

	left := &JoinBuild{opBase: opBase{children: []Op{leftIn}, schema: leftIn.Schema()}, IsLeft: true, KeyField: leftKeyField, Strategy: strategy}
	right := &JoinBuild{opBase: opBase{children: []Op{rightIn}, schema: rightIn.Schema()}, IsLeft: false, KeyField: rightKeyField, Strategy: strategy}

	return &JoinSink{
		opBase:         opBase{children: []Op{left, right}, schema: j.Schema()},
		Left:           left,
		Right:          right,
		WStartField:    j.WStartField,
		WEndField:      j.WEndField,
		Kind:           j.Kind,
		OutputOriginID: j.OutputOriginID,
	}, nil
}

// lowerSide lowers one side of a join, inserting a Demultiplex ahead of
// the build if that side fans in from more than one logical source (rule
// 4: "Binary operators with multiple children on one side get a
// demultiplex on that side").
func lowerSide(side logical.Node, strategy config.JoinStrategy) (Op, error) {
	if side == nil {
		return nil, errs.New("physical.lowerSide", errs.EmptyOriginSet, "join side has no input")
	}
	lowered, err := lowerNode(side, strategy)
	if err != nil {
		return nil, err
	}
	if u, ok := side.(*logical.Union); ok && len(u.Children()) > 1 {
		return &Demultiplex{opBase: opBase{children: []Op{lowered}, schema: lowered.Schema()}, Fanout: len(u.Children())}, nil
	}
	return lowered, nil
}

// resolveJoinKeyIndices implements rule 5: resolve the join-function's
// field references against both sides using a common suffix match; fatal
// if no common suffix exists.
func resolveJoinKeyIndices(j *logical.Join) (int, int, error) {
	cmp, ok := j.Function.(expr.Compare)
	if !ok {
		return -1, -1, errs.New("physical.resolveJoinKeyIndices", errs.SchemaMismatch, "join function must be a field comparison")
	}
	lf, ok := cmp.Left.(expr.FieldRef)
	if !ok {
		return -1, -1, errs.New("physical.resolveJoinKeyIndices", errs.SchemaMismatch, "join function left operand must be a field reference")
	}
	rf, ok := cmp.Right.(expr.FieldRef)
	if !ok {
		return -1, -1, errs.New("physical.resolveJoinKeyIndices", errs.SchemaMismatch, "join function right operand must be a field reference")
	}
	li, err := j.Left.Schema().Resolve(lf.Name)
	if err != nil {
		return -1, -1, errs.Wrap("physical.resolveJoinKeyIndices", errs.SchemaMismatch, err)
	}
	ri, err := j.Right.Schema().Resolve(rf.Name)
	if err != nil {
		return -1, -1, errs.Wrap("physical.resolveJoinKeyIndices", errs.SchemaMismatch, err)
	}
	if j.Left.Schema()[li].Field() != j.Right.Schema()[ri].Field() {
		return -1, -1, errs.New("physical.resolveJoinKeyIndices", errs.SchemaMismatch,
			fmt.Sprintf("no common suffix between join keys %q and %q", j.Left.Schema()[li].Name, j.Right.Schema()[ri].Name))
	}
	return li, ri, nil
}
