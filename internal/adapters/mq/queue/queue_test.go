package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue[string](WithCapacity(2), WithName("test"))
	ctx := context.Background()

	if q.Name() != "test" {
		t.Errorf("expected name test, got %s", q.Name())
	}
	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	if err := q.Enqueue(ctx, "ev-1"); err != nil {
		t.Fatalf("expected enqueue to succeed, got %v", err)
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	dctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if got := <-q.Dequeue(dctx); got != "ev-1" {
		t.Errorf("expected ev-1, got %v", got)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue[int](WithCapacity(2))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := q.Enqueue(ctx, i); err != nil {
			t.Fatalf("expected enqueue to succeed, got %v", err)
		}
	}
	if err := q.Enqueue(ctx, 3); !errors.Is(err, ErrFull) {
		t.Errorf("expected ErrFull, got %v", err)
	}
	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestInMemoryQueue_CancelledContext(t *testing.T) {
	q := NewInMemoryQueue[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.Enqueue(ctx, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestInMemoryQueue_ConcurrentAccess(t *testing.T) {
	q := NewInMemoryQueue[string](WithCapacity(100))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	const producers, perProducer = 10, 100

	var consumed sync.Map
	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range q.Dequeue(ctx) {
				consumed.Store(item, true)
			}
		}()
	}

	var pw sync.WaitGroup
	for i := 0; i < producers; i++ {
		pw.Add(1)
		go func(id int) {
			defer pw.Done()
			for j := 0; j < perProducer; j++ {
				item := fmt.Sprintf("ev-%d-%d", id, j)
				for q.Enqueue(ctx, item) != nil {
					time.Sleep(time.Millisecond)
				}
			}
		}(i)
	}
	pw.Wait()
	_ = q.Close()
	wg.Wait()

	count := 0
	consumed.Range(func(_, _ any) bool { count++; return true })
	if count != producers*perProducer {
		t.Errorf("expected %d consumed items, got %d", producers*perProducer, count)
	}
}

func TestInMemoryQueue_GracefulShutdown(t *testing.T) {
	q := NewInMemoryQueue[string](WithCapacity(10))
	ctx := context.Background()

	_ = q.Enqueue(ctx, "ev-1")
	_ = q.Enqueue(ctx, "ev-2")

	if q.IsClosed() {
		t.Error("expected queue to be open initially")
	}
	if err := q.Close(); err != nil {
		t.Errorf("expected close to succeed, got error: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed after Close()")
	}
	if err := q.Enqueue(ctx, "ev-3"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	var drained []string
	timeout := time.After(time.Second)
	ch := q.Dequeue(ctx)
	for done := false; !done; {
		select {
		case item, ok := <-ch:
			if !ok {
				done = true
				break
			}
			drained = append(drained, item)
		case <-timeout:
			t.Fatal("expected dequeue channel to be closed within timeout")
		}
	}
	if len(drained) != 2 || drained[0] != "ev-1" || drained[1] != "ev-2" {
		t.Errorf("expected buffered items to drain in order, got %v", drained)
	}

	if err := q.Close(); err != nil {
		t.Errorf("expected second close to succeed, got error: %v", err)
	}
}

func TestInMemoryQueue_CancelledConsumerLosesNothing(t *testing.T) {
	q := NewInMemoryQueue[int](WithCapacity(10))
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := q.Enqueue(ctx, i); err != nil {
			t.Fatalf("expected enqueue to succeed, got %v", err)
		}
	}

	dctx, cancel := context.WithCancel(ctx)
	ch := q.Dequeue(dctx)
	var got []int
	got = append(got, <-ch)
	cancel()
	for item := range ch {
		got = append(got, item)
	}

	_ = q.Close()
	got = append(got, q.Drain()...)
	if len(got) != 5 {
		t.Fatalf("expected all 5 items across dequeue and drain, got %v", got)
	}
	seen := map[int]bool{}
	for _, item := range got {
		seen[item] = true
	}
	if len(seen) != 5 {
		t.Errorf("expected 5 distinct items, got %v", got)
	}
	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected empty queue after drain, got %d", l)
	}
}
