// Package dispatch runs push-delivery tasks on a single background worker so
// a slow application handler never blocks the network read path. Tasks run
// strictly in enqueue order.
package dispatch

import (
	"sync"

	"go.uber.org/zap"
)

const DefaultLimit = 100

// Queue is a bounded FIFO task queue drained by one lazily-started worker.
// When the queue is full the oldest task is dropped and counted; newly
// arriving pushes are kept. A panicking task is recovered and logged without
// stopping the worker.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []func()
	limit   int
	dropped uint64
	running bool
	closed  bool
	log     *zap.Logger
}

func NewQueue(limit int, log *zap.Logger) *Queue {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if log == nil {
		log = zap.NewNop()
	}
	q := &Queue{limit: limit, log: log}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends task. The worker starts on the first enqueue after
// construction or Close-less restarts; after Close the task is discarded.
func (q *Queue) Enqueue(task func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	if len(q.tasks) >= q.limit {
		q.tasks = q.tasks[1:]
		q.dropped++
		q.log.Warn("push queue full, dropped oldest task",
			zap.Int("limit", q.limit),
			zap.Uint64("total_dropped", q.dropped))
	}
	q.tasks = append(q.tasks, task)

	if !q.running {
		q.running = true
		go q.worker()
	}
	q.cond.Signal()
}

func (q *Queue) worker() {
	for {
		q.mu.Lock()
		for len(q.tasks) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.tasks = nil
			q.running = false
			q.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		q.run(task)
	}
}

func (q *Queue) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("push task panicked", zap.Any("panic", r))
		}
	}()
	task()
}

// Dropped reports how many tasks have been discarded under overflow.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close stops the worker and discards anything still queued.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}
