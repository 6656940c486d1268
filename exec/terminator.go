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

import "fmt"

// resolveTerminator walks forward from block, following branch/loop/if
// chains, until it finds the terminator that first re-targets at or above
// parentScopeLevel. This is the recursive "innermost terminator
// dominates" rule spec §9's open question resolves: for an If block, the
// search always prefers the else branch when one exists, falling back to
// the then branch only when there is no else; for a Loop block, the
// search inspects the loop head's own trailing If terminator (not the
// loop body) and compares ITS else branch's scope level against
// parentScopeLevel.
//
// Known quirk carried over deliberately: when an If terminator has no
// else branch, the search recurses into the then branch without first
// checking the then branch's own scope level against parentScopeLevel,
// matching the original generator's behavior rather than "fixing" it.
func resolveTerminator(block *Block, parentScopeLevel int) (*Block, *Terminator, error) {
	if block == nil {
		return nil, nil, fmt.Errorf("exec: resolveTerminator: nil block")
	}
	term := block.Term
	if term == nil {
		return nil, nil, fmt.Errorf("exec: resolveTerminator: block %d has no terminator", block.ID)
	}

	switch {
	case term.Branch != nil:
		next := term.Branch.Next
		if next.ScopeLevel <= parentScopeLevel {
			return block, term, nil
		}
		return resolveTerminator(next, parentScopeLevel)

	case term.Loop != nil:
		head := term.Loop.Head
		if head.Term == nil || head.Term.If == nil {
			return nil, nil, fmt.Errorf("exec: resolveTerminator: loop head block %d does not end in an If terminator", head.ID)
		}
		headIf := head.Term.If
		if headIf.Else == nil {
			return nil, nil, fmt.Errorf("exec: resolveTerminator: loop head block %d's If terminator has no else branch", head.ID)
		}
		if headIf.Else.ScopeLevel <= parentScopeLevel {
			return head, head.Term, nil
		}
		return resolveTerminator(headIf.Else, parentScopeLevel)

	case term.If != nil:
		if term.If.Else != nil {
			return resolveTerminator(term.If.Else, parentScopeLevel)
		}
		return resolveTerminator(term.If.Then, parentScopeLevel)

	default:
		return block, term, nil // Return terminator: nothing further to chase
	}
}
