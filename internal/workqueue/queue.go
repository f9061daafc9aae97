// Package workqueue implements the Work Queue of spec §4.6: a fixed-size
// worker pool consuming a priority queue of named tasks with submission-name
// deduplication across queued and running work. The concurrency shape is
// grounded on internal/gather/us/alpaca.go's channel-fed worker pool,
// generalized here to drive from a priority heap rather than a flat channel.
package workqueue

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
)

type Priority int

const (
	HIGH   Priority = 1
	NORMAL Priority = 5
	LOW    Priority = 10
)

// Task is one unit of background work.
type Task struct {
	Priority Priority
	Name     string
	Fn       func(ctx context.Context) error
	seq      int64
}

// Stats is the snapshot spec §4.6 requires: queue depth, pending-name
// count, completed, failed, worker count.
type Stats struct {
	QueueDepth   int
	PendingNames int
	Completed    int64
	Failed       int64
	Workers      int
}

type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x interface{}) { *h = append(*h, x.(*Task)) }
func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Queue is the Work Queue: one priority heap plus one pending-name set
// under a mutex, with a condition variable signaling idle workers, and a
// fixed pool of goroutine workers draining it.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	heap    taskHeap
	pending map[string]bool // names currently queued or running
	nextSeq int64

	completed int64
	failed    int64
	workers   int

	log      *slog.Logger
	stopping bool
	wg       sync.WaitGroup
}

// New creates a Queue with the given fixed worker count (a count of 0 or
// less means 2) and starts its workers immediately.
func New(workers int, log *slog.Logger) *Queue {
	if workers <= 0 {
		workers = 2
	}
	q := &Queue{
		pending: make(map[string]bool),
		workers: workers,
		log:     log,
	}
	q.cond = sync.NewCond(&q.mu)

	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.runWorker(context.Background())
	}
	return q
}

// Submit enqueues a task. If a task with the same name is currently queued
// or running, this submission is silently dropped (spec §4.6
// deduplication).
func (q *Queue) Submit(priority Priority, name string, fn func(ctx context.Context) error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopping {
		return
	}
	if q.pending[name] {
		q.log.Debug("task deduplicated", "name", name)
		return
	}

	q.pending[name] = true
	q.nextSeq++
	heap.Push(&q.heap, &Task{Priority: priority, Name: name, Fn: fn, seq: q.nextSeq})
	q.cond.Signal()
}

func (q *Queue) runWorker(ctx context.Context) {
	defer q.wg.Done()
	for {
		task := q.dequeue()
		if task == nil {
			return // stopping and drained
		}

		err := task.Fn(ctx)

		q.mu.Lock()
		delete(q.pending, task.Name)
		if err != nil {
			q.failed++
			q.log.Error("background task failed", "name", task.Name, "error", err)
		} else {
			q.completed++
		}
		q.mu.Unlock()
	}
}

func (q *Queue) dequeue() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.heap) == 0 {
		if q.stopping {
			return nil
		}
		q.cond.Wait()
	}
	return heap.Pop(&q.heap).(*Task)
}

// Stats returns a point-in-time snapshot of the queue's counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		QueueDepth:   len(q.heap),
		PendingNames: len(q.pending),
		Completed:    q.completed,
		Failed:       q.failed,
		Workers:      q.workers,
	}
}

// Shutdown signals workers to stop once the queue drains and waits for them
// to exit.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	q.stopping = true
	q.cond.Broadcast()
	q.mu.Unlock()
	q.wg.Wait()
}
