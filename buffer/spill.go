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
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/klauspost/compress/s2"
	"golang.org/x/crypto/blake2b"

	"github.com/nebulastream/nes-core/errs"
	"github.com/nebulastream/nes-core/internal/asyncio"
	"github.com/nebulastream/nes-core/internal/logging"
)

const arenaFileSize = 256 << 20 // 256MiB per arena file, spec §3's fileId is a single byte [1..255]

// run is a free byte range within an arena file, produced when a spilled
// segment is re-pinned and its on-disk copy is reclaimed.
type run struct {
	offset int64
	length int64
}

// arenaFile is one content-addressed spill file: a bump allocator backed
// by a free list of holes punched by fallocate(PUNCH_HOLE) once their
// contents are no longer needed (spec §3/§9).
type arenaFile struct {
	id   uint8
	path string
	fd   *os.File
	bump int64
	free []run
}

func (af *arenaFile) allocate(size int64) int64 {
	for i, r := range af.free {
		if r.length >= size {
			off := r.offset
			if r.length == size {
				af.free = append(af.free[:i], af.free[i+1:]...)
			} else {
				af.free[i] = run{offset: r.offset + size, length: r.length - size}
			}
			return off
		}
	}
	off := af.bump
	af.bump += size
	return off
}

func (af *arenaFile) reclaim(off, size int64) { af.free = append(af.free, run{offset: off, length: size}) }

// spillArena owns the set of on-disk arena files a BufferManager spills
// segments into, and the content-address index that lets two identical
// segments (e.g. two copies of the same watermark-aligned window slice)
// share one on-disk copy.
type spillArena struct {
	dir  string
	ring asyncio.Ring
	log  logging.Logger

	mu      sync.Mutex
	files   []*arenaFile
	content map[[32]byte]onDiskLocation // blake2b-256(decompressed) -> location, refcounted implicitly via controlBlock.contentHash
	refs    map[[32]byte]int
}

func newSpillArena(dir string, ring asyncio.Ring, log logging.Logger) (*spillArena, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap("buffer.newSpillArena", errs.CannotSubmitBufferIO, err)
	}
	a := &spillArena{
		dir:     dir,
		ring:    ring,
		log:     logging.Or(log),
		content: make(map[[32]byte]onDiskLocation),
		refs:    make(map[[32]byte]int),
	}
	if err := a.addFile(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *spillArena) addFile() error {
	if len(a.files) >= 255 {
		return errs.New("buffer.spillArena.addFile", errs.CannotSubmitBufferIO, "arena exhausted all 255 file ids")
	}
	id := uint8(len(a.files) + 1)
	path := filepath.Join(a.dir, fmt.Sprintf("nes-arena-%s.bin", uuid.NewString()))
	fd, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return errs.Wrap("buffer.spillArena.addFile", errs.CannotSubmitBufferIO, err)
	}
	a.files = append(a.files, &arenaFile{id: id, path: path, fd: fd})
	return nil
}

func (a *spillArena) fileByID(id uint8) *arenaFile {
	for _, f := range a.files {
		if f.id == id {
			return f
		}
	}
	return nil
}

// spill writes cb's content to disk and flips its control block to
// OnDiskLocation, cascading to any attached children that are themselves
// unpinned (spec §9: "parent/child spill cascading"). Pinned children are
// left resident, since a live pin means someone may be reading their
// memory right now.
func (a *spillArena) spill(mgr *BufferManager, cb *controlBlock) error {
	cb.mu.Lock()
	data := cb.mem
	children := append([]uint64(nil), cb.children...)
	cb.mu.Unlock()

	hash := blake2b.Sum256(data)

	a.mu.Lock()
	if loc, ok := a.content[hash]; ok {
		a.refs[hash]++
		a.mu.Unlock()
		cb.mu.Lock()
		cb.loc = locOnDisk
		cb.disk = loc
		cb.mem = nil
		cb.contentHash = hash
		cb.compressed = true
		cb.origLen = len(data)
		cb.compressedLen = len(s2.Encode(nil, data)) // same bytes the shared copy was written with
		cb.mu.Unlock()
	} else {
		a.mu.Unlock()
		compressed := s2.Encode(nil, data)
		f, off, err := a.reserve(int64(len(compressed)))
		if err != nil {
			return err
		}
		_, err = a.ring.Submit(context.Background(), []asyncio.Request{{
			Op: asyncio.OpWrite, FD: f.fd.Fd(), Off: off, Buf: compressed, UserData: uint64(cb.id),
		}})
		if err != nil {
			return errs.Wrap("buffer.spillArena.spill", errs.CannotSubmitBufferIO, err)
		}
		loc := onDiskLocation{fileID: f.id, offset: uint64(off)}
		a.mu.Lock()
		a.content[hash] = loc
		a.refs[hash] = 1
		a.mu.Unlock()

		cb.mu.Lock()
		cb.loc = locOnDisk
		cb.disk = loc
		cb.mem = nil
		cb.contentHash = hash
		cb.compressed = true
		cb.origLen = len(data)
		cb.compressedLen = len(compressed)
		cb.mu.Unlock()
	}

	for _, childID := range children {
		child := mgr.blockByID(childID)
		child.mu.Lock()
		skip := child.refcount > 0 || child.loc != locInMemory
		child.mu.Unlock()
		if skip {
			continue
		}
		if err := a.spill(mgr, child); err != nil {
			a.log.Warnf("buffer: cascade spill of child %d failed: %v", childID, err)
		}
	}
	return nil
}

func (a *spillArena) reserve(size int64) (*arenaFile, int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, f := range a.files {
		if f.bump+size <= arenaFileSize {
			return f, f.allocate(size), nil
		}
	}
	if err := a.addFile(); err != nil {
		return nil, 0, err
	}
	f := a.files[len(a.files)-1]
	return f, f.allocate(size), nil
}

// repin reads cb's content back from disk, decompresses it, and returns
// a fresh pin. Once the in-memory copy is restored, the disk region is
// only reclaimed (punch-holed) if this was the last reference to that
// content hash, since other control blocks may share the same bytes.
func (a *spillArena) repin(ctx context.Context, mgr *BufferManager, cb *controlBlock) (PinnedBuffer, error) {
	cb.mu.Lock()
	loc := cb.disk
	compressedLen := cb.compressedLen
	origLen := cb.origLen
	hash := cb.contentHash
	cb.mu.Unlock()

	f := a.fileByID(loc.fileID)
	if f == nil {
		return PinnedBuffer{}, errs.New("buffer.spillArena.repin", errs.CannotDeserialize, "unknown arena file id")
	}
	compressed := make([]byte, compressedLen)
	results, err := a.ring.Submit(ctx, []asyncio.Request{{
		Op: asyncio.OpRead, FD: f.fd.Fd(), Off: int64(loc.offset), Buf: compressed, UserData: uint64(cb.id),
	}})
	if err != nil {
		return PinnedBuffer{}, errs.Wrap("buffer.spillArena.repin", errs.CannotSubmitBufferIO, err)
	}
	if len(results) != 1 || results[0].Err != nil {
		return PinnedBuffer{}, errs.New("buffer.spillArena.repin", errs.CannotSubmitBufferIO, "read completion reported an error")
	}

	decompressed, err := s2.Decode(make([]byte, origLen), compressed)
	if err != nil {
		return PinnedBuffer{}, errs.Wrap("buffer.spillArena.repin", errs.CannotDeserialize, err)
	}

	cb.mu.Lock()
	cb.mem = decompressed
	cb.loc = locInMemory
	cb.refcount++
	cb.mu.Unlock()

	a.mu.Lock()
	a.refs[hash]--
	last := a.refs[hash] <= 0
	if last {
		delete(a.refs, hash)
		delete(a.content, hash)
	}
	a.mu.Unlock()
	if last {
		go func() {
			_, _ = a.ring.Submit(context.Background(), []asyncio.Request{{
				Op: asyncio.OpPunchHole, FD: f.fd.Fd(), Off: int64(loc.offset), Len: int64(compressedLen),
			}})
			a.mu.Lock()
			f.reclaim(int64(loc.offset), int64(compressedLen))
			a.mu.Unlock()
		}()
	}

	return PinnedBuffer{Ref: Ref{cb: cb}, mgr: mgr}, nil
}

func (a *spillArena) close() error {
	var firstErr error
	for _, f := range a.files {
		if err := f.fd.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
