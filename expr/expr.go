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

// Package expr implements the small expression-tree language the
// runtime's predicates, projections, join-key functions, and map
// functions compile to (spec §4.3/§4.4's "join-function tree" and
// "expressions" operator payloads).
//
// The tree shape — a Node interface plus a Rewriter that visits and
// optionally replaces nodes — follows the same pattern the teacher
// repo's expression package uses for its (much larger) SQL surface;
// this package only needs the handful of node kinds spec §4.4 actually
// names.
package expr

import (
	"fmt"

	"github.com/nebulastream/nes-core/schema"
)

// Node is one expression tree node. Eval resolves the expression against
// a record using sch to look up field references.
type Node interface {
	Eval(sch schema.Schema, rec schema.Record) (schema.Value, error)
	Children() []Node
	String() string
}

// Rewriter visits a Node and optionally returns a replacement. Walk
// applies it bottom-up, the shape spec's logical->physical lowering and
// qualifier-renaming passes need (rewriting a FieldRef's qualifier after
// a stream rename, for instance).
type Rewriter interface {
	Rewrite(Node) (Node, bool)
}

// Walk applies r to every node of the tree rooted at n, children first,
// returning the (possibly rewritten) tree.
func Walk(n Node, r Rewriter) Node {
	children := n.Children()
	if len(children) > 0 {
		rewritten := make([]Node, len(children))
		changed := false
		for i, c := range children {
			rewritten[i] = Walk(c, r)
			changed = changed || rewritten[i] != c
		}
		if changed {
			if wc, ok := n.(withChildrenNode); ok {
				n = wc.withChildren(rewritten)
			}
		}
	}
	if out, ok := r.Rewrite(n); ok {
		return out
	}
	return n
}

// withChildren is implemented by every composite Node so Walk can
// reconstruct a tree after rewriting children.
type withChildrenNode interface {
	withChildren([]Node) Node
}

// FieldRef resolves to one record's field, by name, through sch.
type FieldRef struct{ Name string }

func (f FieldRef) Eval(sch schema.Schema, rec schema.Record) (schema.Value, error) {
	return rec.Get(sch, f.Name)
}
func (f FieldRef) Children() []Node          { return nil }
func (f FieldRef) String() string            { return f.Name }
func (f FieldRef) withChildren([]Node) Node  { return f }

// Literal is a constant value.
type Literal struct{ Value schema.Value }

func (l Literal) Eval(schema.Schema, schema.Record) (schema.Value, error) { return l.Value, nil }
func (l Literal) Children() []Node                                       { return nil }
func (l Literal) String() string                                         { return l.Value.String() }
func (l Literal) withChildren([]Node) Node                               { return l }

// CompareOp is a relational operator usable inside a Predicate or a
// join-function tree.
type CompareOp string

const (
	Eq CompareOp = "="
	Ne CompareOp = "!="
	Lt CompareOp = "<"
	Le CompareOp = "<="
	Gt CompareOp = ">"
	Ge CompareOp = ">="
)

// Compare evaluates Left <op> Right as a boolean, the building block of
// both filter predicates and equi-join key functions.
type Compare struct {
	Op          CompareOp
	Left, Right Node
}

func (c Compare) Children() []Node { return []Node{c.Left, c.Right} }
func (c Compare) String() string   { return fmt.Sprintf("(%s %s %s)", c.Left, c.Op, c.Right) }
func (c Compare) withChildren(ch []Node) Node {
	c.Left, c.Right = ch[0], ch[1]
	return c
}

func (c Compare) Eval(sch schema.Schema, rec schema.Record) (schema.Value, error) {
	l, err := c.Left.Eval(sch, rec)
	if err != nil {
		return schema.Value{}, err
	}
	r, err := c.Right.Eval(sch, rec)
	if err != nil {
		return schema.Value{}, err
	}
	var result bool
	if l.Type == schema.VariableChar || l.Type == schema.FixedChar {
		result = compareStrings(c.Op, l.S, r.S)
	} else {
		result = compareFloats(c.Op, l.AsFloat64(), r.AsFloat64())
	}
	return schema.Bool_(result), nil
}

func compareFloats(op CompareOp, a, b float64) bool {
	switch op {
	case Eq:
		return a == b
	case Ne:
		return a != b
	case Lt:
		return a < b
	case Le:
		return a <= b
	case Gt:
		return a > b
	case Ge:
		return a >= b
	}
	return false
}

func compareStrings(op CompareOp, a, b string) bool {
	switch op {
	case Eq:
		return a == b
	case Ne:
		return a != b
	case Lt:
		return a < b
	case Le:
		return a <= b
	case Gt:
		return a > b
	case Ge:
		return a >= b
	}
	return false
}

// BoolOp is a logical connective (AND/OR) used to build compound
// predicates.
type BoolOp string

const (
	And BoolOp = "AND"
	Or  BoolOp = "OR"
)

type Logical struct {
	Op          BoolOp
	Left, Right Node
}

func (l Logical) Children() []Node { return []Node{l.Left, l.Right} }
func (l Logical) String() string   { return fmt.Sprintf("(%s %s %s)", l.Left, l.Op, l.Right) }
func (l Logical) withChildren(ch []Node) Node {
	l.Left, l.Right = ch[0], ch[1]
	return l
}

func (l Logical) Eval(sch schema.Schema, rec schema.Record) (schema.Value, error) {
	lv, err := l.Left.Eval(sch, rec)
	if err != nil {
		return schema.Value{}, err
	}
	if l.Op == And && lv.I == 0 {
		return schema.Bool_(false), nil
	}
	if l.Op == Or && lv.I != 0 {
		return schema.Bool_(true), nil
	}
	rv, err := l.Right.Eval(sch, rec)
	if err != nil {
		return schema.Value{}, err
	}
	return schema.Bool_(rv.I != 0), nil
}

// Not negates a boolean-valued expression.
type Not struct{ Inner Node }

func (n Not) Children() []Node { return []Node{n.Inner} }
func (n Not) String() string   { return fmt.Sprintf("(NOT %s)", n.Inner) }
func (n Not) withChildren(ch []Node) Node {
	n.Inner = ch[0]
	return n
}
func (n Not) Eval(sch schema.Schema, rec schema.Record) (schema.Value, error) {
	v, err := n.Inner.Eval(sch, rec)
	if err != nil {
		return schema.Value{}, err
	}
	return schema.Bool_(v.I == 0), nil
}

// Arith evaluates a binary arithmetic expression over the widened
// float64 representation of both operands (map/projection expressions).
type ArithOp string

const (
	Add ArithOp = "+"
	Sub ArithOp = "-"
	Mul ArithOp = "*"
	Div ArithOp = "/"
)

type Arith struct {
	Op          ArithOp
	Left, Right Node
	ResultType  schema.Type
}

func (a Arith) Children() []Node { return []Node{a.Left, a.Right} }
func (a Arith) String() string   { return fmt.Sprintf("(%s %s %s)", a.Left, a.Op, a.Right) }
func (a Arith) withChildren(ch []Node) Node {
	a.Left, a.Right = ch[0], ch[1]
	return a
}

func (a Arith) Eval(sch schema.Schema, rec schema.Record) (schema.Value, error) {
	l, err := a.Left.Eval(sch, rec)
	if err != nil {
		return schema.Value{}, err
	}
	r, err := a.Right.Eval(sch, rec)
	if err != nil {
		return schema.Value{}, err
	}
	lf, rf := l.AsFloat64(), r.AsFloat64()
	var out float64
	switch a.Op {
	case Add:
		out = lf + rf
	case Sub:
		out = lf - rf
	case Mul:
		out = lf * rf
	case Div:
		if rf == 0 {
			return schema.Value{}, fmt.Errorf("expr: division by zero")
		}
		out = lf / rf
	}
	return schema.Float(a.ResultType, out), nil
}
