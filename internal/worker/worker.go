// Package worker drains the scrape queue and runs each task through the scrape stage.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tagops-pipeline/internal/metrics"
	"github.com/JakeFAU/tagops-pipeline/internal/pipeline"
	"github.com/JakeFAU/tagops-pipeline/internal/queue"
)

// Runner executes one scrape task.
type Runner interface {
	Run(ctx context.Context, task pipeline.ScrapeTask) error
}

// Config controls Worker behavior.
type Config struct {
	// JobTimeout bounds a single task. Zero means no bound beyond the parent context.
	JobTimeout time.Duration
}

// Worker consumes queue items and executes the scrape stage.
type Worker struct {
	id     int
	queue  queue.TaskQueue
	runner Runner
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(id int, q queue.TaskQueue, runner Runner, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:     id,
		queue:  q,
		runner: runner,
		cfg:    cfg,
		logger: logger.Named("worker").With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming tasks until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued task", zap.String("job_id", task.JobID))
		w.process(ctx, task)
	}
}

func (w *Worker) process(ctx context.Context, task pipeline.ScrapeTask) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	taskCtx := ctx
	if w.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, w.cfg.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	err := w.runSafely(taskCtx, task)
	switch {
	case err == nil:
		metrics.ObserveScrapeTask("completed")
		w.logger.Info("task finished", zap.String("job_id", task.JobID), zap.Duration("took", time.Since(start)))
	case errors.Is(err, pipeline.ErrStatusConflict), errors.Is(err, pipeline.ErrNotFound):
		metrics.ObserveScrapeTask("dropped")
		w.logger.Warn("task dropped", zap.String("job_id", task.JobID), zap.Error(err))
	default:
		metrics.ObserveScrapeTask("failed")
		w.logger.Error("task failed", zap.String("job_id", task.JobID), zap.Error(err))
	}
}

func (w *Worker) runSafely(ctx context.Context, task pipeline.ScrapeTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scrape task panicked: %v", r)
		}
	}()
	return w.runner.Run(ctx, task)
}
