// Package dispatcher manages worker fan-out over the scrape queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/tagops-pipeline/internal/pipeline"
	"github.com/JakeFAU/tagops-pipeline/internal/queue"
	"github.com/JakeFAU/tagops-pipeline/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   queue.TaskQueue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(q queue.TaskQueue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   q,
		workers: workers,
	}
}

// NewPool builds n workers with build, all draining q.
func NewPool(q queue.TaskQueue, n int, build func(id int) *worker.Worker) *Dispatcher {
	workers := make([]*worker.Worker, 0, n)
	for i := range n {
		workers = append(workers, build(i))
	}
	return New(q, workers)
}

// Run starts all workers and blocks until every worker has returned, which
// happens when ctx finishes or the queue is closed and drained.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
}

// Drain empties a closed queue, handing each leftover task to abandon. It
// returns how many tasks were abandoned.
func (d *Dispatcher) Drain(ctx context.Context, abandon func(context.Context, pipeline.ScrapeTask)) int {
	n := 0
	for {
		task, err := d.queue.Dequeue(ctx)
		if err != nil {
			return n
		}
		abandon(ctx, task)
		n++
	}
}

// Submit offers a task to the queue without blocking. A full queue returns queue.ErrFull.
func (d *Dispatcher) Submit(task pipeline.ScrapeTask) error {
	if err := d.queue.TryEnqueue(task); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Backlog reports how many tasks wait for a worker.
func (d *Dispatcher) Backlog() int {
	return d.queue.Len()
}
