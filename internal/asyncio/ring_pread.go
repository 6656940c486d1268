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

package asyncio

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// preadRing is the portable Ring backend: it executes every request in a
// batch with a worker-pool of goroutines calling unix.Pread/Pwrite
// directly, rather than a kernel submission queue. It is the default on
// every platform and the only backend exercised by this module's tests.
type preadRing struct {
	workers int
}

// NewPreadRing returns a Ring backed by pread(2)/pwrite(2)/fallocate(2)
// with up to workers requests executed concurrently per Submit call.
func NewPreadRing(workers int) Ring {
	if workers < 1 {
		workers = 1
	}
	return &preadRing{workers: workers}
}

func (r *preadRing) Submit(ctx context.Context, reqs []Request) ([]Result, error) {
	results := make([]Result, len(reqs))
	sem := make(chan struct{}, r.workers)
	var wg sync.WaitGroup
	for i, req := range reqs {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = execOne(req)
		}(i, req)
	}
	wg.Wait()
	return results, nil
}

func execOne(req Request) Result {
	res := Result{UserData: req.UserData}
	switch req.Op {
	case OpRead:
		n, err := unix.Pread(int(req.FD), req.Buf, req.Off)
		res.N, res.Err = n, err
	case OpWrite:
		n, err := unix.Pwrite(int(req.FD), req.Buf, req.Off)
		res.N, res.Err = n, err
	case OpPunchHole:
		// FALLOC_FL_PUNCH_HOLE must be combined with FALLOC_FL_KEEP_SIZE
		// (spec §4.1: "freed offsets are returned to a per-file free
		// list for re-use via fallocate(PUNCH_HOLE)").
		err := unix.Fallocate(int(req.FD), unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, req.Off, req.Len)
		res.Err = err
	default:
		res.Err = fmt.Errorf("asyncio: unknown op %d", req.Op)
	}
	return res
}

func (r *preadRing) Close() error { return nil }
