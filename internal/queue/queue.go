// Package queue defines the bounded task queue the scraper service drains.
package queue

import (
	"context"
	"errors"

	"github.com/JakeFAU/tagops-pipeline/internal/pipeline"
)

// ErrFull is returned by TryEnqueue when the queue has no free slot.
var ErrFull = errors.New("queue full")

// ErrClosed is returned once the queue has been closed.
var ErrClosed = errors.New("queue closed")

// TaskQueue buffers scrape tasks between the HTTP handler and the workers.
type TaskQueue interface {
	// TryEnqueue adds task without blocking or returns ErrFull.
	TryEnqueue(task pipeline.ScrapeTask) error
	Dequeue(ctx context.Context) (pipeline.ScrapeTask, error)
	Len() int
	Close()
}
