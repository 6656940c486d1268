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

package buffer

import "github.com/nebulastream/nes-core/errs"

// StoreReturnAsChildBuffer implements spec §4.1's storeReturnAsChildBuffer:
// it attaches futureChild to parent as a child buffer and hands back a
// pin on the child good for as long as the caller holds it (independent
// of parent's own lifetime, but still subject to parent's spill cascade
// while the child itself is unpinned).
//
// The parent holds a strong list of child ids; the child only points back
// to its parent by id (spec §9: "weak, by-id" back-reference), so neither
// side needs the other to be kept alive by a cyclic strong pointer.
func (m *BufferManager) StoreReturnAsChildBuffer(parent PinnedBuffer, futureChild FloatingBuffer) (PinnedBuffer, error) {
	child := futureChild.cb

	child.mu.Lock()
	if child.refcount > 0 {
		child.mu.Unlock()
		return PinnedBuffer{}, errs.New("buffer.StoreReturnAsChildBuffer", errs.FailedToTransferCleanupOwnership,
			"futureChild already has a live pin")
	}
	child.parentID = int64(parent.cb.id)
	child.refcount++
	child.clockRef = true
	child.mu.Unlock()

	parent.cb.mu.Lock()
	parent.cb.children = append(parent.cb.children, child.id)
	parent.cb.mu.Unlock()

	return PinnedBuffer{Ref: Ref{cb: child}, mgr: m}, nil
}

// ParentID reports the id of the buffer this one was attached to via
// StoreReturnAsChildBuffer, or false if it has no parent.
func (r Ref) ParentID() (uint64, bool) {
	r.cb.mu.Lock()
	defer r.cb.mu.Unlock()
	if r.cb.parentID < 0 {
		return 0, false
	}
	return uint64(r.cb.parentID), true
}

// ChildIDs returns the ids of buffers currently attached to this one as
// children.
func (r Ref) ChildIDs() []uint64 {
	r.cb.mu.Lock()
	defer r.cb.mu.Unlock()
	return append([]uint64(nil), r.cb.children...)
}
