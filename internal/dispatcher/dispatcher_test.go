package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tagops-pipeline/internal/pipeline"
	"github.com/JakeFAU/tagops-pipeline/internal/queue"
	"github.com/JakeFAU/tagops-pipeline/internal/queue/memory"
	"github.com/JakeFAU/tagops-pipeline/internal/worker"
)

type blockingRunner struct {
	mu      sync.Mutex
	started chan string
	release chan struct{}
	done    []string
}

func (r *blockingRunner) Run(ctx context.Context, task pipeline.ScrapeTask) error {
	r.started <- task.JobID
	select {
	case <-r.release:
	case <-ctx.Done():
	}
	r.mu.Lock()
	r.done = append(r.done, task.JobID)
	r.mu.Unlock()
	return nil
}

func TestDispatcherRunsWorkersConcurrently(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(4)
	runner := &blockingRunner{started: make(chan string, 4), release: make(chan struct{})}
	d := NewPool(q, 2, func(id int) *worker.Worker {
		return worker.New(id, q, runner, worker.Config{}, nil)
	})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(stopped)
	}()

	require.NoError(t, d.Submit(pipeline.ScrapeTask{JobID: "a"}))
	require.NoError(t, d.Submit(pipeline.ScrapeTask{JobID: "b"}))

	got := map[string]bool{}
	for range 2 {
		select {
		case id := <-runner.started:
			got[id] = true
		case <-time.After(time.Second):
			t.Fatal("workers did not pick up both tasks")
		}
	}
	require.Equal(t, map[string]bool{"a": true, "b": true}, got)

	close(runner.release)
	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestDispatcherSubmitReportsBackpressure(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(1)
	d := New(q, nil)

	require.NoError(t, d.Submit(pipeline.ScrapeTask{JobID: "a"}))
	require.ErrorIs(t, d.Submit(pipeline.ScrapeTask{JobID: "b"}), queue.ErrFull)
	require.Equal(t, 1, d.Backlog())
}

func TestDispatcherReturnsWhenQueueDrains(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(2)
	runner := &blockingRunner{started: make(chan string, 2), release: make(chan struct{})}
	close(runner.release)
	d := NewPool(q, 1, func(id int) *worker.Worker {
		return worker.New(id, q, runner, worker.Config{}, nil)
	})

	require.NoError(t, d.Submit(pipeline.ScrapeTask{JobID: "a"}))
	q.Close()

	stopped := make(chan struct{})
	go func() {
		d.Run(context.Background())
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after the queue closed")
	}
	require.Equal(t, []string{"a"}, runner.done)
}

func TestDrainAbandonsTasksLeftAfterCancel(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(4)
	runner := &blockingRunner{started: make(chan string, 4), release: make(chan struct{})}
	d := NewPool(q, 1, func(i int) *worker.Worker {
		return worker.New(i, q, runner, worker.Config{}, nil)
	})
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, d.Submit(pipeline.ScrapeTask{JobID: id}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	require.Equal(t, "a", <-runner.started)
	q.Close()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	var abandoned []string
	n := d.Drain(context.Background(), func(_ context.Context, task pipeline.ScrapeTask) {
		abandoned = append(abandoned, task.JobID)
	})
	require.Equal(t, 2, n)
	require.Equal(t, []string{"b", "c"}, abandoned)
	require.Zero(t, d.Backlog())
}
