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

import (
	"context"
	"sync"

	"github.com/nebulastream/nes-core/errs"
	"github.com/nebulastream/nes-core/internal/asyncio"
	"github.com/nebulastream/nes-core/internal/config"
	"github.com/nebulastream/nes-core/internal/lfqueue"
	"github.com/nebulastream/nes-core/internal/logging"
)

// BufferManager is spec §4.1's buffer manager: it hands out fixed-size
// TupleBuffer-backing segments, tracking pinned/floating/spilled state per
// segment and evicting floating segments to disk under pressure.
type BufferManager struct {
	segSize int
	log     logging.Logger

	mu       sync.Mutex // guards blocks/awaiters bookkeeping below
	blocks   []*controlBlock
	awaiters *lfqueue.Queue[chan uint64] // "AvailableSegmentAwaiter"s, spec §4.1

	free *lfqueue.Queue[uint64] // ids of floating, in-memory, unspilled segments

	arena           *spillArena
	evictionEnabled bool
	clock           *clockEvictor
}

// New constructs a BufferManager with cfg.NumBuffers segments of
// cfg.BufferSize bytes each, all allocated up front and placed on the free
// list. cfg.PreAllocatedPerPool is not read; CreateFixedSizePool takes its
// cap as an argument.
func New(cfg config.BufferManagerConfig, arenaDir string, ring asyncio.Ring, log logging.Logger) (*BufferManager, error) {
	log = logging.Or(log)
	if cfg.NumBuffers == 0 {
		return nil, errs.New("buffer.New", errs.BufferPoolExhausted, "bufferManager.numBuffers is 0")
	}
	arena, err := newSpillArena(arenaDir, ring, log)
	if err != nil {
		return nil, err
	}
	m := &BufferManager{
		segSize:         int(cfg.BufferSize),
		log:             log,
		blocks:          make([]*controlBlock, 0, cfg.NumBuffers),
		awaiters:        lfqueue.New[chan uint64](int(cfg.NumBuffers) + 1),
		free:            lfqueue.New[uint64](int(cfg.NumBuffers) + 1),
		arena:           arena,
		evictionEnabled: true,
	}
	for i := uint32(0); i < cfg.NumBuffers; i++ {
		cb := &controlBlock{
			id:       uint64(i),
			loc:      locInMemory,
			mem:      make([]byte, cfg.BufferSize),
			parentID: -1,
		}
		m.blocks = append(m.blocks, cb)
		m.free.TryPush(cb.id)
	}
	m.clock = newClockEvictor(m, cfg.EvictionWatermark)
	return m, nil
}

// Close releases the manager's spill arena files.
func (m *BufferManager) Close() error {
	return m.arena.close()
}

// SetEvictionEnabled toggles whether GetBufferNoBlocking may trigger
// eviction; disabling it makes GetBufferNoBlocking return
// (PinnedBuffer{}, false) once the free list is drained (spec §4.1).
// GetBufferBlocking evicts regardless of this setting.
func (m *BufferManager) SetEvictionEnabled(v bool) { m.evictionEnabled = v }

func (m *BufferManager) blockByID(id uint64) *controlBlock {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocks[id]
}

// GetBufferBlocking implements spec §4.1: pop a segment from the free
// list; if empty, register an awaiter and let the clock evictor satisfy
// it. Never fails under correct configuration.
func (m *BufferManager) GetBufferBlocking(ctx context.Context) (PinnedBuffer, error) {
	if id, ok := m.free.TryPop(); ok {
		return m.pinID(id), nil
	}
	ch := make(chan uint64, 1)
	if !m.awaiters.TryPush(ch) {
		return PinnedBuffer{}, errs.New("buffer.GetBufferBlocking", errs.BufferPoolExhausted, "awaiter queue full")
	}
	m.clock.kick()
	select {
	case id := <-ch:
		return m.pinID(id), nil
	case <-ctx.Done():
		return PinnedBuffer{}, errs.Wrap("buffer.GetBufferBlocking", errs.BufferPoolExhausted, ctx.Err())
	}
}

// GetBufferNoBlocking implements spec §4.1's non-blocking variant.
func (m *BufferManager) GetBufferNoBlocking() (PinnedBuffer, bool) {
	if id, ok := m.free.TryPop(); ok {
		return m.pinID(id), true
	}
	if m.evictionEnabled {
		if id, ok := m.clock.tryEvictOne(); ok {
			return m.pinID(id), true
		}
	}
	return PinnedBuffer{}, false
}

func (m *BufferManager) pinID(id uint64) PinnedBuffer {
	cb := m.blockByID(id)
	cb.mu.Lock()
	cb.refcount++
	cb.clockRef = true
	cb.mu.Unlock()
	return PinnedBuffer{Ref: Ref{cb: cb}, mgr: m}
}

// unpin drops one pin. When keepData is false (PinnedBuffer.Release) the
// segment's content is considered garbage and, at refcount 0, the segment
// returns straight to the free list for immediate reuse. When keepData is
// true (PinnedBuffer.ToFloating) the caller is retaining a FloatingBuffer
// handle, so the segment instead becomes a clock-eviction candidate: its
// memory is only reclaimed (by spilling to disk) once the pool is under
// pressure.
func (m *BufferManager) unpin(cb *controlBlock, keepData bool) {
	cb.mu.Lock()
	cb.refcount--
	rc := cb.refcount
	loc := cb.loc
	id := cb.id
	if rc == 0 {
		cb.clockRef = true
	}
	cb.mu.Unlock()
	if rc < 0 {
		panic("buffer: refcount underflow")
	}
	if rc != 0 || loc != locInMemory {
		return
	}
	if keepData {
		m.clock.offer(id)
	} else {
		m.offerFree(id)
	}
}

// offerFree hands id to a waiting awaiter if one exists, else returns it
// to the free list. This is the "an eviction coroutine dequeues awaiters
// and satisfies them from the victim set" handoff of spec §4.1.
func (m *BufferManager) offerFree(id uint64) {
	if ch, ok := m.awaiters.TryPop(); ok {
		ch <- id
		return
	}
	m.free.TryPush(id)
}

// PinBuffer implements spec §4.1's pinBuffer: re-pinning a floating buffer
// that may currently be spilled, blocking until the data is resident.
func (m *BufferManager) PinBuffer(ctx context.Context, f FloatingBuffer) (PinnedBuffer, error) {
	cb := f.cb
	cb.mu.Lock()
	if cb.loc == locInMemory {
		cb.refcount++
		cb.mu.Unlock()
		return PinnedBuffer{Ref: f.Ref, mgr: m}, nil
	}
	cb.mu.Unlock()
	return m.arena.repin(ctx, m, cb)
}

// CreateFixedSizePool implements spec §4.1's createFixedSizePool: a
// subpool with a hard cap of n concurrently pinned buffers drawn from this
// manager, never blocking past the cap.
func (m *BufferManager) CreateFixedSizePool(n int) *FixedPool {
	return &FixedPool{mgr: m, tokens: make(chan struct{}, n)}
}

// FixedPool is a capped view over a BufferManager (spec §4.1).
type FixedPool struct {
	mgr    *BufferManager
	tokens chan struct{}
}

// GetBuffer returns a pinned buffer, or false if the pool's cap is
// already exhausted. The caller must release it through (*FixedPool).Put,
// not PinnedBuffer.Release directly, so the pool's admission token is
// freed alongside the underlying pin.
func (p *FixedPool) GetBuffer() (PinnedBuffer, bool) {
	select {
	case p.tokens <- struct{}{}:
	default:
		return PinnedBuffer{}, false
	}
	pb, ok := p.mgr.GetBufferNoBlocking()
	if !ok {
		<-p.tokens
		return PinnedBuffer{}, false
	}
	return pb, true
}

// Put releases a buffer obtained from GetBuffer and frees its admission
// token, making room for a subsequent GetBuffer call.
func (p *FixedPool) Put(pb PinnedBuffer) {
	pb.Release()
	<-p.tokens
}
