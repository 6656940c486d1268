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

package expr

import (
	"testing"

	"github.com/nebulastream/nes-core/schema"
)

func testSchema() schema.Schema {
	return schema.Schema{
		{Name: "src$a", Type: schema.I64},
		{Name: "src$b", Type: schema.I64},
	}
}

func TestCompareEval(t *testing.T) {
	sch := testSchema()
	rec := schema.Record{schema.Int(schema.I64, 5), schema.Int(schema.I64, 3)}
	c := Compare{Op: Gt, Left: FieldRef{"src$a"}, Right: FieldRef{"src$b"}}
	v, err := c.Eval(sch, rec)
	if err != nil {
		t.Fatal(err)
	}
	if v.I != 1 {
		t.Fatalf("expected true, got %v", v)
	}
}

func TestLogicalShortCircuitsAnd(t *testing.T) {
	sch := testSchema()
	rec := schema.Record{schema.Int(schema.I64, 1), schema.Int(schema.I64, 1)}
	l := Logical{Op: And, Left: Literal{schema.Bool_(false)}, Right: Compare{Op: Eq, Left: FieldRef{"src$a"}, Right: Literal{schema.Int(schema.I64, 99)}}}
	v, err := l.Eval(sch, rec)
	if err != nil {
		t.Fatal(err)
	}
	if v.I != 0 {
		t.Fatalf("expected false, got %v", v)
	}
}

type renameRewriter struct{ from, to string }

func (r renameRewriter) Rewrite(n Node) (Node, bool) {
	if fr, ok := n.(FieldRef); ok && fr.Name == r.from {
		return FieldRef{Name: r.to}, true
	}
	return nil, false
}

func TestWalkRewritesFieldRef(t *testing.T) {
	tree := Compare{Op: Eq, Left: FieldRef{"old$a"}, Right: Literal{schema.Int(schema.I64, 1)}}
	out := Walk(tree, renameRewriter{from: "old$a", to: "new$a"})
	c := out.(Compare)
	if c.Left.(FieldRef).Name != "new$a" {
		t.Fatalf("expected rewritten field ref, got %v", c.Left)
	}
}
