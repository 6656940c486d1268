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

// Package asyncio provides the "io_uring-style submission queues" spec
// §4.1 asks the buffer manager to batch spill/re-pin I/O through: a ring
// that accepts prepared read/write operations, submits them in one batch,
// and reports completions asynchronously.
//
// Grounded on ehrlich-b-go-ublk's Ring/Batch interface shape
// (internal/uring/interface.go): PrepareIOCmd+FlushSubmissions batches
// multiple operations into one syscall, WaitForCompletion drains results.
// That repo gates its real io_uring backend behind a build tag with an
// always-available stub for other platforms; asyncio mirrors the same
// split (ring_uring_linux.go vs ring_pread.go).
package asyncio

import "context"

// Op is the kind of operation a Request describes.
type Op int

const (
	OpRead Op = iota
	OpWrite
	OpPunchHole
)

// Request is one prepared I/O operation: read or write nbytes at off in
// the file identified by FD, into/from Buf, tagged with an opaque
// UserData the caller uses to correlate the eventual Result.
type Request struct {
	Op       Op
	FD       uintptr
	Off      int64
	Buf      []byte // unused for OpPunchHole
	Len      int64  // hole length, for OpPunchHole
	UserData uint64
}

// Result reports the outcome of one previously-submitted Request.
type Result struct {
	UserData uint64
	N        int // bytes transferred, for OpRead/OpWrite
	Err      error
}

// Ring is the submission/completion interface the buffer manager's
// spiller and re-pinner use. Both implementations in this package accept
// concurrent Submit calls from multiple goroutines; each Submit call owns
// its own batch.
type Ring interface {
	// Submit prepares and flushes every request in reqs as a single
	// batch, returning one Result per request once the kernel (or the
	// portable fallback) has acknowledged it. Submit blocks until all
	// results are available or ctx is canceled.
	Submit(ctx context.Context, reqs []Request) ([]Result, error)

	// Close releases ring resources.
	Close() error
}
