package errs

import (
	"errors"
	"testing"
)

func TestRetryable(t *testing.T) {
	cases := []struct {
		k    Kind
		want bool
	}{
		{BufferPoolExhausted, true},
		{CannotSubmitBufferIO, true},
		{EmptyOriginSet, false},
		{CoroutineContinuedWithoutResult, false},
	}
	for _, c := range cases {
		e := New("op", c.k, "msg")
		if e.Retryable() != c.want {
			t.Errorf("Kind(%s).Retryable() = %v, want %v", c.k, e.Retryable(), c.want)
		}
	}
}

func TestWrapPreservesKindAndContext(t *testing.T) {
	inner := New("BufferManager.spill", CannotSubmitBufferIO, "queue full").WithOperator(7).WithOrigin(2)
	wrapped := Wrap("BufferManager.getBufferBlocking", CannotSubmitBufferIO, inner)
	if wrapped.OperatorID != 7 || wrapped.OriginID != 2 {
		t.Fatalf("context not preserved: %+v", wrapped)
	}
	if !errors.Is(wrapped, New("x", CannotSubmitBufferIO, "")) {
		t.Fatalf("errors.Is should match by Kind")
	}
}

func TestOf(t *testing.T) {
	err := error(New("op", JoinTimestampMissing, "schema does not contain a timestamp attribute"))
	k, ok := Of(err)
	if !ok || k != JoinTimestampMissing {
		t.Fatalf("Of() = %v, %v", k, ok)
	}
	if _, ok := Of(errors.New("plain")); ok {
		t.Fatalf("Of() should not match a plain error")
	}
}
