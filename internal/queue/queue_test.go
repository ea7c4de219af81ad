package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestFIFOOrder(t *testing.T) {
	q := New[int]()
	for i := 0; i < 100; i++ {
		q.Push(i)
	}
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		v, err := q.Pop(ctx)
		if err != nil { t.Fatalf("pop: %v", err) }
		if v != i { t.Fatalf("got %d want %d", v, i) }
	}
	if q.Len() != 0 { t.Fatalf("expected empty queue, len=%d", q.Len()) }
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := New[string]()
	got := make(chan string, 1)
	go func() {
		v, _ := q.Pop(context.Background())
		got <- v
	}()
	time.Sleep(20 * time.Millisecond)
	q.Push("hello")
	select {
	case v := <-got:
		if v != "hello" { t.Fatalf("got %q", v) }
	case <-time.After(2 * time.Second):
		t.Fatalf("pop did not return after push")
	}
}

func TestPopHonorsContext(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := q.Pop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestCloseDrainsThenErrors(t *testing.T) {
	q := New[int]()
	q.Push(1)
	q.Close()
	if q.Push(2) { t.Fatalf("push after close must be rejected") }
	v, err := q.Pop(context.Background())
	if err != nil || v != 1 { t.Fatalf("expected queued item before close error, got %d %v", v, err) }
	if _, err := q.Pop(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestConcurrentProducersKeepPerProducerOrder(t *testing.T) {
	type item struct{ producer, seq int }
	q := New[item]()
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for s := 0; s < 250; s++ {
				q.Push(item{p, s})
			}
		}(p)
	}
	wg.Wait()
	last := map[int]int{0: -1, 1: -1, 2: -1, 3: -1}
	for i := 0; i < 1000; i++ {
		it, err := q.Pop(context.Background())
		if err != nil { t.Fatalf("pop: %v", err) }
		if it.seq != last[it.producer]+1 {
			t.Fatalf("producer %d out of order: got %d after %d", it.producer, it.seq, last[it.producer])
		}
		last[it.producer] = it.seq
	}
}
