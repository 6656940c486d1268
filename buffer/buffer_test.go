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
	"testing"

	"github.com/nebulastream/nes-core/internal/asyncio"
	"github.com/nebulastream/nes-core/internal/config"
)

func newTestManager(t *testing.T, numBuffers uint32) *BufferManager {
	t.Helper()
	cfg := config.BufferManagerConfig{
		BufferSize:        64,
		NumBuffers:        numBuffers,
		EvictionWatermark: 0.8,
	}
	m, err := New(cfg, t.TempDir(), asyncio.NewPreadRing(4), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// Scenario 1 (spec §8): basic eviction. A pool of one buffer is exhausted,
// the held buffer is converted to floating, and a second blocking request
// must be satisfied by evicting (spilling) that floating buffer.
func TestBasicEviction(t *testing.T) {
	m := newTestManager(t, 1)
	ctx := context.Background()

	pb, err := m.GetBufferBlocking(ctx)
	if err != nil {
		t.Fatalf("GetBufferBlocking: %v", err)
	}
	copy(pb.Bytes(), []byte("first segment content padded to 64 bytes......................"))
	fb := pb.ToFloating()
	if fb.Spilled() {
		t.Fatal("freshly floated buffer should not be spilled yet")
	}

	pb2, err := m.GetBufferBlocking(ctx)
	if err != nil {
		t.Fatalf("second GetBufferBlocking should succeed via eviction: %v", err)
	}
	defer pb2.Release()

	if !fb.Spilled() {
		t.Fatal("original buffer should have been evicted (spilled) to satisfy the second request")
	}

	rp, err := m.PinBuffer(ctx, fb)
	if err != nil {
		t.Fatalf("PinBuffer after spill: %v", err)
	}
	defer rp.Release()
	if string(rp.Bytes()[:14]) != "first segment " {
		t.Fatalf("content not preserved across spill/re-pin: %q", rp.Bytes()[:14])
	}
}

// Scenario 2 (spec §8): child buffer spill. A child attached to a parent
// is cascade-spilled when the parent is evicted while the child itself is
// unpinned.
func TestChildBufferSpillCascade(t *testing.T) {
	m := newTestManager(t, 2)
	ctx := context.Background()

	parent, err := m.GetBufferBlocking(ctx)
	if err != nil {
		t.Fatalf("GetBufferBlocking(parent): %v", err)
	}
	childPin, err := m.GetBufferBlocking(ctx)
	if err != nil {
		t.Fatalf("GetBufferBlocking(child): %v", err)
	}
	copy(childPin.Bytes(), []byte("child payload...................................................."))
	childFloat := childPin.ToFloating()

	attached, err := m.StoreReturnAsChildBuffer(parent, childFloat)
	if err != nil {
		t.Fatalf("StoreReturnAsChildBuffer: %v", err)
	}
	ids := parent.ChildIDs()
	if len(ids) != 1 || ids[0] != attached.ID() {
		t.Fatalf("parent does not track attached child: %v", ids)
	}
	pid, ok := attached.ParentID()
	if !ok || pid != parent.ID() {
		t.Fatalf("child does not reference parent by id: ok=%v pid=%d", ok, pid)
	}

	// Unpin the child (so it is eligible for cascade spill) but keep it as
	// a floating handle we can re-pin afterward.
	childFloating := attached.ToFloating()
	parentFloating := parent.ToFloating()

	// Exhaust the remaining free buffer, forcing an eviction that should
	// spill the parent and, cascading, the unpinned child.
	third, err := m.GetBufferBlocking(ctx)
	if err != nil {
		t.Fatalf("GetBufferBlocking(third): %v", err)
	}
	defer third.Release()

	if !parentFloating.Spilled() {
		t.Fatal("parent should have been evicted")
	}
	if !childFloating.Spilled() {
		t.Fatal("child should have been cascade-spilled along with its parent")
	}

	rp, err := m.PinBuffer(ctx, childFloating)
	if err != nil {
		t.Fatalf("PinBuffer(child) after cascade spill: %v", err)
	}
	defer rp.Release()
	if string(rp.Bytes()[:13]) != "child payload" {
		t.Fatalf("child content not preserved across cascade spill: %q", rp.Bytes()[:13])
	}
}

// Clock eviction under pressure: a pool of 8 buffers, all floated; one
// more blocking request must evict exactly one of them.
func TestClockEvictionUnderPressure(t *testing.T) {
	m := newTestManager(t, 8)
	ctx := context.Background()

	var floats []FloatingBuffer
	for i := 0; i < 8; i++ {
		pb, err := m.GetBufferBlocking(ctx)
		if err != nil {
			t.Fatalf("GetBufferBlocking(%d): %v", i, err)
		}
		floats = append(floats, pb.ToFloating())
	}

	// Give every buffer a second chance by touching none of them; the
	// clock sweep must still make progress by clearing clockRef bits on
	// its first lap and evicting on the second.
	pb, err := m.GetBufferBlocking(ctx)
	if err != nil {
		t.Fatalf("GetBufferBlocking under full pressure: %v", err)
	}
	defer pb.Release()

	spilledCount := 0
	for _, f := range floats {
		if f.Spilled() {
			spilledCount++
		}
	}
	if spilledCount != 1 {
		t.Fatalf("expected exactly one buffer evicted under pressure, got %d", spilledCount)
	}
}
