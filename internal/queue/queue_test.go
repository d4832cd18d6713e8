package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueueProcessesJob(t *testing.T) {
	q := New(10, 1, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	var processed int32
	done := make(chan struct{})
	ok := q.Enqueue(Job{
		ID:     "job1",
		Key:    "user-1",
		Source: "test",
		Work: func(ctx context.Context) error {
			atomic.AddInt32(&processed, 1)
			close(done)
			return nil
		},
	})
	if !ok {
		t.Fatalf("expected enqueue to succeed")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("job did not complete")
	}
	if atomic.LoadInt32(&processed) != 1 {
		t.Fatalf("job not processed")
	}
}

func TestQueueSameKeyRunsInOrder(t *testing.T) {
	q := New(64, 4, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		ok := q.Enqueue(Job{ID: fmt.Sprintf("j%d", i), Key: "user-7", Source: "test", Work: func(ctx context.Context) error {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}})
		if !ok {
			t.Fatalf("enqueue %d rejected", i)
		}
	}
	wg.Wait()
	for i, v := range order {
		if v != i {
			t.Fatalf("jobs ran out of order: %v", order)
		}
	}
}

func TestQueueRejectsWhenLaneFull(t *testing.T) {
	q := New(1, 1, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	block := make(chan struct{})
	running := make(chan struct{})
	q.Enqueue(Job{ID: "busy", Key: "k", Source: "test", Work: func(ctx context.Context) error {
		close(running)
		<-block
		return nil
	}})
	<-running
	if !q.Enqueue(Job{ID: "pending", Key: "k", Source: "test", Work: func(ctx context.Context) error { return nil }}) {
		t.Fatalf("expected pending slot to accept")
	}
	if q.Enqueue(Job{ID: "drop", Key: "k", Source: "test", Work: func(ctx context.Context) error { return nil }}) {
		t.Fatalf("expected enqueue to be rejected when lane is full")
	}
	enqueued, dropped := q.EnqueueWithRetry(ctx, Job{ID: "retry", Key: "k", Source: "test", Work: func(ctx context.Context) error { return nil }}, 100*time.Millisecond, 20*time.Millisecond)
	if enqueued || !dropped {
		t.Fatalf("expected retry window to expire, got enqueued=%v dropped=%v", enqueued, dropped)
	}
	close(block)
}

func TestQueueTimeoutAndPanicAreCounted(t *testing.T) {
	q := New(4, 1, 50*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	var gotErr error
	finished := make(chan struct{})
	q.Enqueue(Job{ID: "slow", Key: "k", Source: "test",
		Work: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
		OnFinish: func(err error) {
			gotErr = err
			close(finished)
		},
	})
	<-finished
	if gotErr != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", gotErr)
	}

	q.Enqueue(Job{ID: "boom", Key: "k", Source: "test", Work: func(ctx context.Context) error { panic("boom") }})
	after := make(chan struct{})
	q.Enqueue(Job{ID: "after", Key: "k", Source: "test", Work: func(ctx context.Context) error { close(after); return nil }})
	select {
	case <-after:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive panic")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	q.Stop(stopCtx)
	st := q.Stats()
	if st.Panics != 1 || st.Failed != 2 || st.Processed != 2 {
		t.Fatalf("stats = %+v", st)
	}
	if q.Healthy() {
		t.Fatal("stopped queue should not be healthy")
	}
	if q.Enqueue(Job{ID: "late", Key: "k", Work: func(ctx context.Context) error { return nil }}) {
		t.Fatal("stopped queue accepted a job")
	}
}

func TestEnqueueBeforeStart(t *testing.T) {
	q := New(1, 1, time.Second)
	if q.Enqueue(Job{ID: "early", Work: func(ctx context.Context) error { return nil }}) {
		t.Fatal("expected enqueue before start to fail")
	}
}
