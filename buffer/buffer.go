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

import "sync"

// locKind is the BufferControlBlock.location tag from spec §3.
type locKind uint8

const (
	locInMemory locKind = iota
	locOnDisk
)

// onDiskLocation is spec §3's OnDiskLocation{fileId∈[1..255], offset48}.
type onDiskLocation struct {
	fileID uint8
	offset uint64 // 48 significant bits
}

// controlBlock is spec §3's BufferControlBlock: reference count, location
// tag, and back-references for child-buffer spilling.
//
// Concurrency: every state transition (pin/unpin, spill, re-pin, child
// attach) takes mu. Go's sync.Mutex is not reentrant, unlike the recursive
// mutex spec §4.1 describes guarding these transitions, so every method
// that takes mu releases it before calling anything else that takes it.
type controlBlock struct {
	mu sync.Mutex

	id       uint64
	refcount int32 // pins; 0 => floating, eligible for eviction
	loc      locKind
	mem      []byte // valid (and authoritative) while loc == locInMemory
	disk     onDiskLocation
	notPre   bool // not pre-allocated from the fixed arena (spec's InMemoryLocation.notPreAllocated)

	parentID int64   // -1 if this block has no parent; weak back-pointer (by id) per spec §9
	children []uint64 // strong: ids of attached child blocks, resolved via the manager's registry

	clockRef     bool // second-chance eviction bit, spec §4.1
	compressed   bool
	origLen      int // decompressed length, when compressed
	compressedLen int
	contentHash  [32]byte // blake2b-256 of the decompressed content, valid while loc == locOnDisk
}

// Ref is a stable handle to a controlBlock: buffer.go's handle types
// (PinnedBuffer, FloatingBuffer) each wrap one so that pin/unpin/spill can
// be reasoned about without exposing the control block's internals.
type Ref struct {
	cb *controlBlock
}

// ID returns the buffer's manager-assigned identity, stable across
// pin/spill/re-pin.
func (r Ref) ID() uint64 { return r.cb.id }

// PinnedBuffer is spec §4.1's getBufferBlocking result: an owned reference
// guaranteed resident in memory for as long as it is held.
type PinnedBuffer struct {
	Ref
	mgr *BufferManager
}

// Bytes returns the buffer's backing memory. The slice is only valid while
// the PinnedBuffer has not been released.
func (p PinnedBuffer) Bytes() []byte {
	p.cb.mu.Lock()
	defer p.cb.mu.Unlock()
	return p.cb.mem
}

// Release drops this pin and discards the buffer's content: once the
// last pin is gone the backing memory returns straight to the free list
// for immediate reuse, since nothing holds a handle through which the
// data could be read again.
func (p PinnedBuffer) Release() {
	p.mgr.unpin(p.cb, false)
}

// Retain adds another pin to the same underlying buffer, mirroring a
// shared_ptr copy of the native BufferControlBlock's refcount.
func (p PinnedBuffer) Retain() PinnedBuffer {
	p.cb.mu.Lock()
	p.cb.refcount++
	p.cb.mu.Unlock()
	return p
}

// FloatingBuffer is a reference to a buffer that currently has zero pins;
// it may be resident in memory or spilled to disk. Obtaining one does not
// itself guarantee the data is resident — call BufferManager.PinBuffer.
type FloatingBuffer struct {
	Ref
	mgr *BufferManager
}

// Spilled reports whether the buffer's authoritative copy currently lives
// on disk.
func (f FloatingBuffer) Spilled() bool {
	f.cb.mu.Lock()
	defer f.cb.mu.Unlock()
	return f.cb.loc == locOnDisk
}

// ToFloating converts a pinned buffer into a floating one by releasing
// this pin while keeping the content alive as an eviction candidate: the
// returned handle can still be re-pinned later via BufferManager.PinBuffer,
// spilling to disk first if the segment is reclaimed under memory
// pressure in the meantime. This is the operation the concrete scenarios
// in spec §8 call "convert to floating".
func (p PinnedBuffer) ToFloating() FloatingBuffer {
	p.mgr.unpin(p.cb, true)
	return FloatingBuffer{Ref: p.Ref, mgr: p.mgr}
}
