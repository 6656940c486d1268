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
	"sync/atomic"

	"github.com/nebulastream/nes-core/errs"
)

// futureState is the four-state machine spec §9 names as the
// coroutine-free fallback: SUBMITTED, POLLING, COMPLETED, ABANDONED.
type futureState int32

const (
	stateSubmitted futureState = iota
	statePolling
	stateCompleted
	stateAbandoned
)

// future is the Go analogue of GetInMemorySegmentFuture / ReadSegmentFuture
// / PunchHoleFuture: a single-shot result that may be satisfied exactly
// once (spec §4.1: "The awaiter is satisfied at most once").
//
// setResultAndContinue in the native implementation takes the control
// block's mutex so no coroutine is resumed concurrently with the result
// being set; here that's simply "close(done) happens-once", enforced by
// sync.Once semantics via atomic.CompareAndSwap on state.
type future[T any] struct {
	state  atomic.Int32
	done   chan struct{}
	result T
	err    error
}

func newFuture[T any]() *future[T] {
	return &future[T]{done: make(chan struct{})}
}

// complete satisfies the future. A second call is a no-op (mirrors the
// "satisfied at most once" guarantee): in-flight I/O whose future was
// already abandoned still calls complete, but the result is discarded.
func (f *future[T]) complete(v T, err error) {
	if !f.state.CompareAndSwap(int32(stateSubmitted), int32(stateCompleted)) &&
		!f.state.CompareAndSwap(int32(statePolling), int32(stateCompleted)) {
		return // already completed or abandoned; result discarded
	}
	f.result, f.err = v, err
	close(f.done)
}

// pollOnce is the non-blocking poll: it reports whether the future is
// done without suspending the caller.
func (f *future[T]) pollOnce() (T, bool, error) {
	f.state.CompareAndSwap(int32(stateSubmitted), int32(statePolling))
	select {
	case <-f.done:
		return f.result, true, f.err
	default:
		var zero T
		return zero, false, nil
	}
}

// waitOnce blocks until the future completes or ctx is canceled. On
// cancellation the future transitions to ABANDONED; the in-flight I/O
// (if any) still completes and calls complete(), but that result is
// discarded since waitOnce has already returned (spec §5: "In-flight I/O
// completes; its result is discarded by the dropped future").
func (f *future[T]) waitOnce(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		f.state.Store(int32(stateAbandoned))
		var zero T
		return zero, errs.Wrap("buffer.future.waitOnce", errs.CannotSubmitBufferIO, ctx.Err())
	}
}
