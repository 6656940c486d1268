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

import "testing"

func TestResolveTerminatorBranchStopsAtParentScope(t *testing.T) {
	f := NewFunction("t")
	outer := f.NewBlock(0)
	f.Entry.SetBranch(outer)
	outer.SetReturn()

	b, term, err := resolveTerminator(f.Entry, 0)
	if err != nil {
		t.Fatal(err)
	}
	if b != f.Entry || term.Branch == nil || term.Branch.Next != outer {
		t.Fatalf("expected to stop at the entry's branch to outer, got %v", term)
	}
}

func TestResolveTerminatorBranchRecursesPastDeeperScope(t *testing.T) {
	f := NewFunction("t")
	inner := f.NewBlock(1)
	outer := f.NewBlock(0)
	f.Entry.SetBranch(inner)
	inner.SetBranch(outer)
	outer.SetReturn()

	// starting search from a scope-0 parent, the entry's branch target
	// (inner, scope 1) is deeper, so the search must recurse into inner's
	// own branch, which re-targets outer (scope 0) and is returned.
	b, term, err := resolveTerminator(f.Entry, 0)
	if err != nil {
		t.Fatal(err)
	}
	if b != inner || term.Branch == nil || term.Branch.Next != outer {
		t.Fatalf("expected to land on inner's branch to outer, got block %d", b.ID)
	}
}

func TestResolveTerminatorIfPrefersElse(t *testing.T) {
	f := NewFunction("t")
	then := f.NewBlock(1)
	els := f.NewBlock(1)
	cond := f.ConstantInt(f.Entry, 1)
	f.Entry.SetIf(cond, then, els)
	then.SetReturn()
	els.SetReturn()

	b, _, err := resolveTerminator(f.Entry, 0)
	if err != nil {
		t.Fatal(err)
	}
	if b != els {
		t.Fatalf("expected search to prefer the else branch, landed on block %d", b.ID)
	}
}

func TestResolveTerminatorIfFallsBackToThenWithoutElse(t *testing.T) {
	f := NewFunction("t")
	then := f.NewBlock(1)
	cond := f.ConstantInt(f.Entry, 1)
	f.Entry.SetIf(cond, then, nil)
	then.SetReturn()

	b, _, err := resolveTerminator(f.Entry, 0)
	if err != nil {
		t.Fatal(err)
	}
	if b != then {
		t.Fatalf("expected fallback to then branch, landed on block %d", b.ID)
	}
}

func TestResolveTerminatorLoopInspectsHeadIf(t *testing.T) {
	f := NewFunction("t")
	head := f.NewBlock(1)
	body := f.NewBlock(2)
	after := f.NewBlock(0)

	cond := f.ConstantInt(head, 1)
	head.SetIf(cond, body, after)
	body.SetBranch(head)
	after.SetReturn()

	f.Entry.SetLoop(head, body)

	// starting from parentScopeLevel 0: the head's If else-branch (after,
	// scope 0) is at or above the parent scope, so the loop terminator
	// resolves directly to the head's own If terminator.
	b, term, err := resolveTerminator(f.Entry, 0)
	if err != nil {
		t.Fatal(err)
	}
	if b != head || term.If == nil {
		t.Fatalf("expected to land on head's If terminator, got block %d", b.ID)
	}
}

func TestResolveTerminatorLoopHeadWithoutIfErrors(t *testing.T) {
	f := NewFunction("t")
	head := f.NewBlock(1)
	body := f.NewBlock(2)
	head.SetBranch(body)
	body.SetBranch(head)

	f.Entry.SetLoop(head, body)

	if _, _, err := resolveTerminator(f.Entry, 0); err == nil {
		t.Fatal("expected an error when the loop head has no If terminator")
	}
}

func TestResolveTerminatorMissingTerminatorErrors(t *testing.T) {
	f := NewFunction("t")
	dangling := f.NewBlock(0)
	if _, _, err := resolveTerminator(dangling, 0); err == nil {
		t.Fatal("expected an error for a block with no terminator")
	}
}
