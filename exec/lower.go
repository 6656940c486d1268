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
	"fmt"

	"github.com/nebulastream/nes-core/errs"
	"github.com/nebulastream/nes-core/expr"
	"github.com/nebulastream/nes-core/physical"
	"github.com/nebulastream/nes-core/schema"
)

// Layout describes the per-tuple buffer shape codegen addresses against:
// every field's byte offset plus the fixed row width, the input side of
// spec §4.5's "base + rowIdx*rowWidth + fieldOffset" addressing scheme.
type Layout struct {
	RowWidth int
	Offset   map[string]int
}

// Lower compiles a linear Source -> [Filter] -> [Map]* -> Sink pipeline
// into a single Function that loops over every input tuple, evaluates
// the filter predicate and map expressions, and stores surviving rows to
// the output buffer. Nodes outside this shape (windows, joins,
// multiplex/demultiplex) are out of scope for this code generator: the
// spec routes those through their own handler objects (window/join
// packages) rather than through generated per-tuple code.
func Lower(root physical.Op, in Layout) (*Function, error) {
	sink, ok := root.(*physical.Sink)
	if !ok {
		return nil, errs.New("exec.Lower", errs.UnknownOperator, "Lower expects a *physical.Sink root")
	}

	var filter *physical.Filter
	var maps []*physical.Map
	cur := sink.Children()[0]
	for {
		switch t := cur.(type) {
		case *physical.Map:
			maps = append([]*physical.Map{t}, maps...)
			cur = t.Children()[0]
			continue
		case *physical.Filter:
			filter = t
			cur = t.Children()[0]
			continue
		case *physical.Source:
			goto built
		default:
			return nil, errs.New("exec.Lower", errs.UnknownOperator, fmt.Sprintf("unsupported pipeline node %T", cur))
		}
	}
built:

	f := NewFunction("pipeline")
	entry := f.Entry
	buf := f.ProxyCall(entry, "getDataBuffer")
	n := f.ProxyCall(entry, "getNumTuples")

	head := f.NewBlock(1)
	rowIdx := f.blockArg(head)

	body := f.NewBlock(2)
	after := f.NewBlock(1)

	entry.SetBranch(head, f.ConstantInt(entry, 0))

	cond := f.Compare(head, CmpLT, rowIdx, n)
	head.SetIf(cond, body, after)

	incr := f.NewBlock(2)
	next := f.AddInt(incr, rowIdx, f.ConstantInt(incr, 1))
	incr.SetBranch(head, next)

	fields := map[string]*Value{}
	loadAll := func(sch schema.Schema, b *Block) {
		for _, a := range sch {
			off, ok := in.Offset[a.Name]
			if !ok {
				continue
			}
			addr := f.Address(b, buf, rowIdx, in.RowWidth, off)
			fields[a.Name] = f.Load(b, addr, fieldWidth(a.Type))
		}
	}
	loadAll(sink.Schema(), body)
	if filter != nil {
		loadAll(filter.Schema(), body)
	}

	// tail is wherever map evaluation and the final unconditional branch
	// to incr belong: body itself, unless a filter splits off a separate
	// pass block for rows that survive the predicate.
	tail := body
	if filter != nil {
		keep, err := compileExpr(f, body, filter.Predicate, fields)
		if err != nil {
			return nil, err
		}
		passBlock := f.NewBlock(2)
		body.SetIf(keep, passBlock, incr)
		tail = passBlock
	}

	for _, m := range maps {
		v, err := compileExpr(f, tail, m.Fn, fields)
		if err != nil {
			return nil, err
		}
		fields[m.OutAttr.Name] = v
		off, ok := in.Offset[m.OutAttr.Name]
		if ok {
			addr := f.Address(tail, buf, rowIdx, in.RowWidth, off)
			f.Store(tail, addr, v)
		}
	}
	tail.SetBranch(incr)

	after.SetReturn()

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// blockArg allocates a new block-argument value owned by b (no Ops entry,
// since arguments are bound by the caller's branch, not computed).
func (f *Function) blockArg(b *Block) *Value {
	v := &Value{id: f.nextVal, op: OpConstantInt, block: b}
	f.nextVal++
	b.Args = append(b.Args, v)
	return v
}

func fieldWidth(t schema.Type) int {
	switch t {
	case schema.I8, schema.U8, schema.Bool:
		return 1
	case schema.I16, schema.U16:
		return 2
	case schema.I32, schema.U32, schema.F32:
		return 4
	default:
		return 8
	}
}

// compileExpr lowers the subset of expr.Node that maps directly onto
// spec §4.5's op list (FieldRef, Literal, Compare, Arith). Logical/Not
// nodes have no corresponding IR op in spec §4.5 (no boolean And/Or/Not
// operation is listed) and are rejected rather than synthesized from
// arithmetic tricks.
func compileExpr(f *Function, b *Block, n expr.Node, fields map[string]*Value) (*Value, error) {
	switch t := n.(type) {
	case expr.FieldRef:
		v, ok := fields[t.Name]
		if !ok {
			return nil, fmt.Errorf("exec.compileExpr: field %q not loaded", t.Name)
		}
		return v, nil
	case expr.Literal:
		return f.ConstantInt(b, t.Value.AsInt64()), nil
	case expr.Compare:
		l, err := compileExpr(f, b, t.Left, fields)
		if err != nil {
			return nil, err
		}
		r, err := compileExpr(f, b, t.Right, fields)
		if err != nil {
			return nil, err
		}
		return f.Compare(b, compareKind(t.Op), l, r), nil
	case expr.Arith:
		l, err := compileExpr(f, b, t.Left, fields)
		if err != nil {
			return nil, err
		}
		r, err := compileExpr(f, b, t.Right, fields)
		if err != nil {
			return nil, err
		}
		switch t.Op {
		case expr.Add:
			return f.AddInt(b, l, r), nil
		case expr.Sub:
			return f.AddInt(b, l, f.Negate(b, r)), nil
		case expr.Mul:
			return f.Mul(b, l, r), nil
		default:
			return nil, fmt.Errorf("exec.compileExpr: arithmetic op %s has no IR equivalent", t.Op)
		}
	default:
		return nil, fmt.Errorf("exec.compileExpr: expression kind %T has no IR equivalent", n)
	}
}

func compareKind(op expr.CompareOp) CompareKind {
	switch op {
	case expr.Lt:
		return CmpLT
	case expr.Le:
		return CmpLE
	case expr.Eq:
		return CmpEQ
	case expr.Ne:
		return CmpNE
	case expr.Gt:
		return CmpGT
	default:
		return CmpGE
	}
}
