package dispatch

import (
	"sync"
	"testing"
	"time"
)

func drainAndWait(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not drain the queue in time")
	}
}

func TestTasksRunInOrder(t *testing.T) {
	q := NewQueue(10, nil)
	defer q.Close()

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	for i := 0; i < 5; i++ {
		i := i
		q.Enqueue(func() {
			mu.Lock()
			order = append(order, i)
			if len(order) == 5 {
				close(done)
			}
			mu.Unlock()
		})
	}

	drainAndWait(t, done)
	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v", order)
		}
	}
}

func TestPanicDoesNotStopWorker(t *testing.T) {
	q := NewQueue(10, nil)
	defer q.Close()

	done := make(chan struct{})
	q.Enqueue(func() { panic("handler bug") })
	q.Enqueue(func() { close(done) })

	drainAndWait(t, done)
}

func TestOverflowDropsOldest(t *testing.T) {
	q := NewQueue(3, nil)
	defer q.Close()

	// Block the worker so enqueued tasks pile up.
	gate := make(chan struct{})
	started := make(chan struct{})
	q.Enqueue(func() {
		close(started)
		<-gate
	})
	<-started

	var mu sync.Mutex
	var ran []int
	done := make(chan struct{})
	for i := 1; i <= 4; i++ {
		i := i
		q.Enqueue(func() {
			mu.Lock()
			ran = append(ran, i)
			if i == 4 {
				close(done)
			}
			mu.Unlock()
		})
	}

	close(gate)
	drainAndWait(t, done)

	// Task 1 was the oldest queued task when 4 arrived over the limit of 3.
	mu.Lock()
	defer mu.Unlock()
	if len(ran) != 3 || ran[0] != 2 {
		t.Fatalf("ran = %v, want [2 3 4]", ran)
	}
	if q.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", q.Dropped())
	}
}

func TestCloseDiscardsQueued(t *testing.T) {
	q := NewQueue(10, nil)
	q.Close()

	q.Enqueue(func() { t.Error("task ran after Close") })
	time.Sleep(50 * time.Millisecond)
}
