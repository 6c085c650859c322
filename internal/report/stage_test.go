package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tagops-pipeline/internal/clock/system"
	"github.com/JakeFAU/tagops-pipeline/internal/llm"
	"github.com/JakeFAU/tagops-pipeline/internal/pipeline"
	"github.com/JakeFAU/tagops-pipeline/internal/stage"
	"github.com/JakeFAU/tagops-pipeline/internal/storage/memory"
)

type fakeAnalyst struct {
	seoErr     error
	taggingErr error
	block      bool
	scraped    string
	tagging    llm.TaggingInput
}

func (f *fakeAnalyst) SEOReport(ctx context.Context, scraped string) (pipeline.SEOReport, error) {
	f.scraped = scraped
	if f.block {
		<-ctx.Done()
		return pipeline.SEOReport{}, ctx.Err()
	}
	if f.seoErr != nil {
		return pipeline.SEOReport{}, f.seoErr
	}
	return pipeline.SEOReport{Score: 81, Recommendations: []string{"Add alt text"}}, nil
}

func (f *fakeAnalyst) TaggingReport(_ context.Context, in llm.TaggingInput) (string, error) {
	f.tagging = in
	if f.taggingErr != nil {
		return "", f.taggingErr
	}
	return "# Plan de taggeo", nil
}

type fixture struct {
	jobs  *memory.JobStore
	blobs *memory.BlobStore
	stage *Stage
}

func newFixture(t *testing.T, analyst Analyst, timeout time.Duration) fixture {
	t.Helper()
	clock := system.Fixed{At: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
	jobs := memory.NewJobStore(clock)
	blobs := memory.NewBlobStore()
	rec := stage.NewRecorder(jobs, nil, clock, nil)
	return fixture{jobs: jobs, blobs: blobs, stage: New(analyst, blobs, rec, timeout, nil)}
}

func (f fixture) seedJob(t *testing.T, status pipeline.JobStatus, withOutput bool) string {
	t.Helper()
	ctx := context.Background()
	job := pipeline.Job{
		ID: "job-1", Status: status, URL: "https://shop.example", AgentType: "tagging",
		Device: pipeline.DeviceDesktop, Pages: 2,
	}
	if withOutput {
		entries := []pipeline.PageEntry{
			{PageNumber: 0, URL: "https://shop.example", Title: "Home", Coordmap: "memory://" + pipeline.CoordmapPath("job-1", 0)},
			{PageNumber: 1, URL: "https://shop.example/cart", Title: "Cart", Coordmap: "memory://" + pipeline.CoordmapPath("job-1", 1)},
		}
		raw, err := json.Marshal(entries)
		require.NoError(t, err)
		uri, err := f.blobs.PutObject(ctx, pipeline.AllPagesPath("job-1"), "application/json", bytes.NewReader(raw))
		require.NoError(t, err)
		cm, err := json.Marshal(pipeline.Coordmap{
			URL: "https://shop.example", PageType: "home",
			Components: []pipeline.Component{{Name: "Menu", Type: "navegacion", Coordinates: [4]float64{0, 0, 100, 40}}},
		})
		require.NoError(t, err)
		_, err = f.blobs.PutObject(ctx, pipeline.CoordmapPath("job-1", 0), "application/json", bytes.NewReader(cm))
		require.NoError(t, err)
		// page 1 has no coordmap on purpose
		job.InsightForgeOutput = &pipeline.InsightForgeOutput{JSONPath: uri, PageCount: 2}
	}
	require.NoError(t, f.jobs.CreateJob(ctx, job))
	return job.ID
}

func TestRunCompletesDraft(t *testing.T) {
	t.Parallel()

	analyst := &fakeAnalyst{}
	f := newFixture(t, analyst, time.Minute)
	id := f.seedJob(t, pipeline.StatusInsightForgeCompleted, true)

	job, err := f.stage.Run(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusAnalyticCoreCompleted, job.Status)
	require.Equal(t, "# Plan de taggeo", job.Draft())
	require.Equal(t, 81, job.SEOReport.Score)

	require.Contains(t, analyst.scraped, `"tipo_pagina": "home"`)
	require.Contains(t, analyst.scraped, `"nombre": "Menu"`)
	require.Contains(t, analyst.scraped, "https://shop.example/cart")
	require.Equal(t, 81, analyst.tagging.SEO.Score)
	require.Equal(t, pipeline.DeviceDesktop, analyst.tagging.Device)
}

func TestRunRegeneratesFromFailed(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeAnalyst{}, 0)
	id := f.seedJob(t, pipeline.StatusFailed, true)

	job, err := f.stage.Run(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusAnalyticCoreCompleted, job.Status)
	require.Empty(t, job.Error)
}

func TestRunMissingScrapeOutput(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeAnalyst{}, 0)
	id := f.seedJob(t, pipeline.StatusInsightForgeCompleted, false)

	_, err := f.stage.Run(context.Background(), id)
	require.ErrorIs(t, err, pipeline.ErrPrecondition)

	job, err := f.jobs.GetJob(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusFailed, job.Status)
	require.Equal(t, "Scraping output (jsonPath) not found.", job.Error)
}

func TestRunRejectsWrongStatus(t *testing.T) {
	t.Parallel()

	for _, status := range []pipeline.JobStatus{
		pipeline.StatusInsightForgePending,
		pipeline.StatusAnalyticCorePending,
		pipeline.StatusTagOpsHubPending,
		pipeline.StatusTagOpsHubCompleted,
	} {
		f := newFixture(t, &fakeAnalyst{}, 0)
		id := f.seedJob(t, status, true)
		_, err := f.stage.Run(context.Background(), id)
		require.ErrorIs(t, err, pipeline.ErrStatusConflict, status)

		job, err := f.jobs.GetJob(context.Background(), id)
		require.NoError(t, err)
		require.Equal(t, status, job.Status, "job untouched")
	}
}

func TestRunUnknownJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeAnalyst{}, 0)
	_, err := f.stage.Run(context.Background(), "ghost")
	require.ErrorIs(t, err, pipeline.ErrNotFound)
}

func TestRunModelFailureMarksJobFailed(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeAnalyst{taggingErr: errors.New("quota exceeded")}, 0)
	id := f.seedJob(t, pipeline.StatusInsightForgeCompleted, true)

	_, err := f.stage.Run(context.Background(), id)
	require.ErrorContains(t, err, "quota exceeded")

	job, err := f.jobs.GetJob(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusFailed, job.Status)
	require.Equal(t, "Analytic Core process failed: quota exceeded", job.Error)
	require.Nil(t, job.AnalyticCoreDraft)
}

func TestRunTimeoutStillRecordsFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeAnalyst{block: true}, 20*time.Millisecond)
	id := f.seedJob(t, pipeline.StatusInsightForgeCompleted, true)

	_, err := f.stage.Run(context.Background(), id)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	job, err := f.jobs.GetJob(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusFailed, job.Status)
	require.Contains(t, job.Error, "Analytic Core process failed")
}

func TestRunMissingIndexFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeAnalyst{}, 0)
	job := pipeline.Job{
		ID: "job-2", Status: pipeline.StatusInsightForgeCompleted, URL: "https://a.example",
		InsightForgeOutput: &pipeline.InsightForgeOutput{JSONPath: "gs://bucket/jobs/job-2/input/all_pages.json"},
	}
	require.NoError(t, f.jobs.CreateJob(context.Background(), job))

	_, err := f.stage.Run(context.Background(), "job-2")
	require.ErrorIs(t, err, pipeline.ErrObjectNotFound)

	got, err := f.jobs.GetJob(context.Background(), "job-2")
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusFailed, got.Status)
}
