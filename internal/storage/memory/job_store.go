package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/tagops-pipeline/internal/pipeline"
)

// JobStore provides an in-memory implementation for development/testing.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]pipeline.Job
	now  func() time.Time
}

// NewJobStore constructs a JobStore. A nil clock uses time.Now.
func NewJobStore(clock pipeline.Clock) *JobStore {
	now := func() time.Time { return time.Now().UTC() }
	if clock != nil {
		now = clock.Now
	}
	return &JobStore{
		jobs: make(map[string]pipeline.Job),
		now:  now,
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job pipeline.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (pipeline.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return pipeline.Job{}, fmt.Errorf("job %s: %w", jobID, pipeline.ErrNotFound)
	}
	return cloneJob(job), nil
}

// ListJobs returns jobs newest first.
func (s *JobStore) ListJobs(_ context.Context, filter pipeline.ListFilter) ([]pipeline.Job, error) {
	s.mu.RLock()
	out := make([]pipeline.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		out = append(out, cloneJob(job))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []pipeline.Job{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// UpdateJob applies upd when the current status is one of from.
func (s *JobStore) UpdateJob(
	_ context.Context,
	jobID string,
	from []pipeline.JobStatus,
	upd pipeline.JobUpdate,
) (pipeline.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return pipeline.Job{}, fmt.Errorf("job %s: %w", jobID, pipeline.ErrNotFound)
	}
	if len(from) > 0 && !pipeline.Contains(from, job.Status) {
		return pipeline.Job{}, &pipeline.StatusConflictError{JobID: jobID, Current: job.Status, Target: upd.Status}
	}
	upd.Apply(&job, s.now())
	s.jobs[jobID] = job
	return cloneJob(job), nil
}

func cloneJob(job pipeline.Job) pipeline.Job {
	out := job
	if job.InsightForgeOutput != nil {
		v := *job.InsightForgeOutput
		out.InsightForgeOutput = &v
	}
	if job.SEOReport != nil {
		v := *job.SEOReport
		v.Recommendations = append([]string(nil), job.SEOReport.Recommendations...)
		out.SEOReport = &v
	}
	if job.AnalyticCoreDraft != nil {
		v := *job.AnalyticCoreDraft
		out.AnalyticCoreDraft = &v
	}
	if job.TagOpsHubOutput != nil {
		v := *job.TagOpsHubOutput
		out.TagOpsHubOutput = &v
	}
	return out
}
