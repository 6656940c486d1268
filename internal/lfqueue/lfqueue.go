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

// Package lfqueue wraps code.hybscloud.com/lfq's MPMC queue with the
// blocking Push/Pop surface the buffer manager needs for its awaiter
// handoff (spec §4.1: "a single free-list is guarded by lock-free MPMC
// queues of segment awaiters").
package lfqueue

import (
	"context"

	"code.hybscloud.com/lfq"

	"github.com/nebulastream/nes-core/internal/atomicext"
)

// Queue is a bounded multi-producer multi-consumer queue of T, blocking
// callers (by spinning with atomicext.Pause between attempts, not a kernel
// futex — this is meant for very short critical sections) instead of returning
// ErrWouldBlock the way the underlying lfq.MPMC does.
type Queue[T any] struct {
	q *lfq.MPMC[T]
}

// New creates a Queue with room for capacity items.
func New[T any](capacity int) *Queue[T] {
	return &Queue[T]{q: lfq.NewMPMC[T](capacity)}
}

// Push enqueues elem, spinning until room is available or ctx is done.
func (q *Queue[T]) Push(ctx context.Context, elem T) error {
	for {
		if err := q.q.Enqueue(&elem); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		atomicext.Pause()
	}
}

// TryPush enqueues elem without blocking, reporting false if the queue is
// full.
func (q *Queue[T]) TryPush(elem T) bool {
	return q.q.Enqueue(&elem) == nil
}

// Pop dequeues the next item, spinning until one is available or ctx is
// done.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	for {
		v, err := q.q.Dequeue()
		if err == nil {
			return v, nil
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		default:
		}
		atomicext.Pause()
	}
}

// TryPop dequeues without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	v, err := q.q.Dequeue()
	return v, err == nil
}

// Cap returns the queue's usable capacity.
func (q *Queue[T]) Cap() int { return q.q.Cap() }
