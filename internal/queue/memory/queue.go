// Package memory provides the in-process scrape task queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/tagops-pipeline/internal/pipeline"
	"github.com/JakeFAU/tagops-pipeline/internal/queue"
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan pipeline.ScrapeTask
	closeMu sync.RWMutex
	closed  bool
}

var _ queue.TaskQueue = (*Queue)(nil)

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan pipeline.ScrapeTask, capacity),
	}
}

// TryEnqueue pushes a task only if a slot is free right now.
func (q *Queue) TryEnqueue(task pipeline.ScrapeTask) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return queue.ErrClosed
	}
	select {
	case q.ch <- task:
		return nil
	default:
		return queue.ErrFull
	}
}

// Dequeue pops the next task, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (pipeline.ScrapeTask, error) {
	select {
	case <-ctx.Done():
		return pipeline.ScrapeTask{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case task, ok := <-q.ch:
		if !ok {
			return pipeline.ScrapeTask{}, queue.ErrClosed
		}
		return task, nil
	}
}

// Len reports the number of buffered tasks.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown. Buffered tasks can still be dequeued.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
