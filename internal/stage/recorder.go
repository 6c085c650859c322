// Package stage records job status transitions and reports them on the progress bus.
package stage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tagops-pipeline/internal/pipeline"
	"github.com/JakeFAU/tagops-pipeline/internal/progress"
)

const failWriteTimeout = 10 * time.Second

// Recorder wraps the compare-and-set job update with event emission.
type Recorder struct {
	store  pipeline.JobStore
	events progress.Emitter
	clock  pipeline.Clock
	logger *zap.Logger
}

// NewRecorder builds a Recorder. A nil emitter discards events.
func NewRecorder(store pipeline.JobStore, events progress.Emitter, clock pipeline.Clock, logger *zap.Logger) *Recorder {
	if events == nil {
		events = progress.NopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, events: events, clock: clock, logger: logger.Named("stage")}
}

// Store exposes the underlying job store for reads.
func (r *Recorder) Store() pipeline.JobStore {
	return r.store
}

// Now returns the recorder's clock reading.
func (r *Recorder) Now() time.Time {
	return r.clock.Now()
}

// Create persists a new job and announces its first stage.
func (r *Recorder) Create(ctx context.Context, job pipeline.Job) error {
	if err := r.store.CreateJob(ctx, job); err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	r.events.Emit(progress.StageEvent(job.ID, progress.KindStageStart, pipeline.StageInsightForge, job.Status, job.CreatedAt))
	return nil
}

// Claim moves a job into a stage's pending status from any status allowed to
// enter it. The error field is cleared unless upd sets it. Only one concurrent
// caller can win the claim; the others get a *pipeline.StatusConflictError.
func (r *Recorder) Claim(
	ctx context.Context,
	jobID string,
	stage pipeline.Stage,
	pending pipeline.JobStatus,
	upd pipeline.JobUpdate,
) (pipeline.Job, error) {
	upd.Status = pending
	if upd.Error == nil {
		cleared := ""
		upd.Error = &cleared
	}
	job, err := r.store.UpdateJob(ctx, jobID, pipeline.SourcesFor(pending), upd)
	if err != nil {
		return pipeline.Job{}, err
	}
	r.events.Emit(progress.StageEvent(jobID, progress.KindStageStart, stage, pending, job.UpdatedAt))
	return job, nil
}

// Complete moves a job from pending to done with the stage's outputs.
func (r *Recorder) Complete(
	ctx context.Context,
	jobID string,
	stage pipeline.Stage,
	pending, done pipeline.JobStatus,
	upd pipeline.JobUpdate,
	started time.Time,
) (pipeline.Job, error) {
	upd.Status = done
	job, err := r.store.UpdateJob(ctx, jobID, []pipeline.JobStatus{pending}, upd)
	if err != nil {
		return pipeline.Job{}, fmt.Errorf("record %s completion: %w", stage, err)
	}
	evt := progress.StageEvent(jobID, progress.KindStageDone, stage, done, job.UpdatedAt)
	evt.Dur = nonNegative(job.UpdatedAt.Sub(started))
	r.events.Emit(evt)
	return job, nil
}

// Fail marks the job failed with msg if its status is still one of from. It
// writes with a fresh deadline so a stage that timed out can still record why.
func (r *Recorder) Fail(
	ctx context.Context,
	jobID string,
	stage pipeline.Stage,
	from []pipeline.JobStatus,
	msg string,
	started time.Time,
) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failWriteTimeout)
	defer cancel()

	job, err := r.store.UpdateJob(writeCtx, jobID, from, pipeline.JobUpdate{
		Status: pipeline.StatusFailed,
		Error:  &msg,
	})
	if err != nil {
		r.logger.Error("failed to record stage failure",
			zap.String("job_id", jobID),
			zap.String("stage", string(stage)),
			zap.String("reason", msg),
			zap.Error(err),
		)
		return fmt.Errorf("record %s failure: %w", stage, err)
	}
	evt := progress.StageEvent(jobID, progress.KindStageError, stage, pipeline.StatusFailed, job.UpdatedAt)
	evt.Dur = nonNegative(job.UpdatedAt.Sub(started))
	evt.Note = msg
	r.events.Emit(evt)
	return nil
}

// Emit forwards a non-lifecycle event such as a page capture.
func (r *Recorder) Emit(evt progress.Event) {
	if evt.TS.IsZero() {
		evt.TS = r.clock.Now()
	}
	r.events.Emit(evt)
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
