package lfqueue

import (
	"context"
	"testing"
	"time"
)

func TestPushPopOrder(t *testing.T) {
	q := New[int](8)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 5; i++ {
		if err := q.Push(ctx, i); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 5; i++ {
		v, err := q.Pop(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if v != i {
			t.Fatalf("got %d, want %d", v, i)
		}
	}
}

func TestTryPopEmpty(t *testing.T) {
	q := New[int](4)
	if _, ok := q.TryPop(); ok {
		t.Fatal("expected empty queue")
	}
}

func TestTryPushFull(t *testing.T) {
	q := New[int](2)
	for i := 0; i < q.Cap(); i++ {
		if !q.TryPush(i) {
			t.Fatalf("push %d should have succeeded", i)
		}
	}
	if q.TryPush(99) {
		t.Fatal("expected queue to be full")
	}
}
