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

// Package errs provides the structured error taxonomy shared by every
// component of the query compilation and execution runtime (see spec §7).
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the error categories named in spec §7.
type Kind string

const (
	SchemaMismatch                   Kind = "schema_mismatch"
	UnknownOperator                  Kind = "unknown_operator"
	CannotDeserialize                Kind = "cannot_deserialize"
	CannotSerialize                  Kind = "cannot_serialize"
	BufferPoolExhausted              Kind = "buffer_pool_exhausted"
	CannotSubmitBufferIO             Kind = "cannot_submit_buffer_io"
	CoroutineContinuedWithoutResult  Kind = "coroutine_continued_without_result"
	FailedToTransferCleanupOwnership Kind = "failed_to_transfer_cleanup_ownership"
	JoinTimestampMissing             Kind = "join_timestamp_missing"
	EmptyOriginSet                   Kind = "empty_origin_set"
)

// retryable holds the transient/fatal split from spec §7's propagation
// policy: BufferPoolExhausted and CannotSubmitBufferIO are transient and
// should be retried by the caller after backoff; everything else is fatal.
var retryable = map[Kind]bool{
	BufferPoolExhausted:   true,
	CannotSubmitBufferIO:  true,
}

// Error is the structured error type threaded through the runtime. It
// carries enough context (operator id, origin id, watermark) that a
// terminated query's diagnostic satisfies spec §7's user-visible-behavior
// requirement without the caller having to reconstruct it.
//
// Grounded on ehrlich-b-go-ublk/errors.go's Op/Code/Errno/Inner shape.
type Error struct {
	Op        string // operation that failed, e.g. "BufferManager.getBufferBlocking"
	Kind      Kind
	OperatorID uint64 // 0 if not applicable
	OriginID   int64  // -1 if not applicable
	Watermark  int64  // -1 if not applicable
	Msg        string
	Inner      error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	s := fmt.Sprintf("%s: %s", e.Op, msg)
	if e.OperatorID != 0 {
		s += fmt.Sprintf(" (operator=%d)", e.OperatorID)
	}
	if e.OriginID >= 0 {
		s += fmt.Sprintf(" (origin=%d)", e.OriginID)
	}
	if e.Watermark >= 0 {
		s += fmt.Sprintf(" (watermark=%d)", e.Watermark)
	}
	if e.Inner != nil {
		s += ": " + e.Inner.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Inner }

// Is supports errors.Is comparison against another *Error; the comparison
// is by Kind alone. Targets of any other type never match.
func (e *Error) Is(target error) bool {
	if te, ok := target.(*Error); ok {
		return e.Kind == te.Kind
	}
	return false
}

// Retryable reports whether the propagation policy in spec §7 calls for
// local retry with backoff rather than surfacing a terminal failure.
func (e *Error) Retryable() bool {
	return retryable[e.Kind]
}

// New builds an Error with no operator/origin/watermark context attached.
func New(op string, kind Kind, msg string) *Error {
	return &Error{Op: op, Kind: kind, OriginID: -1, Watermark: -1, Msg: msg}
}

// Newf is New with a formatted message.
func Newf(op string, kind Kind, format string, args ...any) *Error {
	return New(op, kind, fmt.Sprintf(format, args...))
}

// Wrap attaches op/kind context to an arbitrary inner error.
func Wrap(op string, kind Kind, inner error) *Error {
	if inner == nil {
		return nil
	}
	if ie, ok := inner.(*Error); ok {
		return &Error{Op: op, Kind: kind, OperatorID: ie.OperatorID, OriginID: ie.OriginID, Watermark: ie.Watermark, Msg: ie.Msg, Inner: ie.Inner}
	}
	return &Error{Op: op, Kind: kind, OriginID: -1, Watermark: -1, Msg: inner.Error(), Inner: inner}
}

// WithOperator returns a copy of e annotated with an operator id.
func (e *Error) WithOperator(id uint64) *Error {
	c := *e
	c.OperatorID = id
	return &c
}

// WithOrigin returns a copy of e annotated with an origin id.
func (e *Error) WithOrigin(id int64) *Error {
	c := *e
	c.OriginID = id
	return &c
}

// WithWatermark returns a copy of e annotated with an input watermark.
func (e *Error) WithWatermark(wm int64) *Error {
	c := *e
	c.Watermark = wm
	return &c
}

// Of reports the Kind of err if it is (or wraps) an *Error.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
