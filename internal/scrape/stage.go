// Package scrape runs the Insight Forge stage: discover pages, capture them,
// upload the artifacts and record the result on the job.
package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/tagops-pipeline/internal/browser"
	"github.com/JakeFAU/tagops-pipeline/internal/logging"
	"github.com/JakeFAU/tagops-pipeline/internal/pipeline"
	"github.com/JakeFAU/tagops-pipeline/internal/progress"
	"github.com/JakeFAU/tagops-pipeline/internal/stage"
	"github.com/JakeFAU/tagops-pipeline/internal/telemetry"
)

// Discoverer lists the pages to capture.
type Discoverer interface {
	Discover(ctx context.Context, startURL string, limit int) ([]string, error)
}

// Capturer records one page.
type Capturer interface {
	Capture(ctx context.Context, rawURL string, device pipeline.Device) (browser.Capture, error)
}

// Config controls the stage.
type Config struct {
	MaxPages       int
	CaptureRetries int
	RetryBackoff   time.Duration
}

// Stage implements the scrape stage.
type Stage struct {
	discover Discoverer
	capture  Capturer
	blobs    pipeline.BlobStore
	hasher   pipeline.Hasher
	recorder *stage.Recorder
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Stage.
func New(
	discover Discoverer,
	capture Capturer,
	blobs pipeline.BlobStore,
	hasher pipeline.Hasher,
	recorder *stage.Recorder,
	cfg Config,
	logger *zap.Logger,
) *Stage {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	return &Stage{
		discover: discover,
		capture:  capture,
		blobs:    blobs,
		hasher:   hasher,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger.Named("scrape"),
	}
}

// Run executes one scrape task. Tasks for jobs that are no longer
// insight_forge_pending are dropped without touching the job. A panic while
// scraping fails the job like any other scrape error.
func (s *Stage) Run(ctx context.Context, task pipeline.ScrapeTask) (err error) {
	started := s.recorder.Now()
	logger := logging.ForJob(s.logger, task.JobID)

	ctx = telemetry.Extract(ctx, task.Trace)
	ctx, span := telemetry.StartSpan(ctx, "insight_forge.scrape", trace.WithAttributes(
		attribute.String("job.id", task.JobID),
		attribute.String("job.url", task.URL),
		attribute.Int("job.pages", int(task.Pages)),
	))
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error("scrape panicked", zap.Any("panic", r), zap.Stack("stack"))
			if ferr := s.recorder.Fail(ctx, task.JobID, pipeline.StageInsightForge,
				[]pipeline.JobStatus{pipeline.StatusInsightForgePending}, "Scraping failed: "+err.Error(), started); ferr != nil {
				err = errors.Join(err, ferr)
			}
		}
	}()

	job, err := s.recorder.Store().GetJob(ctx, task.JobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job.Status != pipeline.StatusInsightForgePending {
		logger.Warn("dropping scrape task for job not awaiting scrape", zap.String("status", string(job.Status)))
		return &pipeline.StatusConflictError{
			JobID:   task.JobID,
			Current: job.Status,
			Target:  pipeline.StatusInsightForgeCompleted,
		}
	}

	out, err := s.scrape(ctx, task, logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("scrape failed", zap.Error(err))
		msg := "Scraping failed: " + err.Error()
		if ferr := s.recorder.Fail(ctx, task.JobID, pipeline.StageInsightForge,
			[]pipeline.JobStatus{pipeline.StatusInsightForgePending}, msg, started); ferr != nil {
			return errors.Join(err, ferr)
		}
		return err
	}

	if _, err := s.recorder.Complete(ctx, task.JobID, pipeline.StageInsightForge,
		pipeline.StatusInsightForgePending, pipeline.StatusInsightForgeCompleted,
		pipeline.JobUpdate{InsightForgeOutput: &out}, started); err != nil {
		return err
	}
	logger.Info("scrape completed", zap.Int("pages", out.PageCount), zap.String("json_path", out.JSONPath))
	return nil
}

// Abandon fails a task that will never run, for example one still queued when
// the service shuts down.
func (s *Stage) Abandon(ctx context.Context, task pipeline.ScrapeTask, reason string) error {
	return s.recorder.Fail(ctx, task.JobID, pipeline.StageInsightForge,
		[]pipeline.JobStatus{pipeline.StatusInsightForgePending}, "Scraping failed: "+reason, s.recorder.Now())
}

func (s *Stage) scrape(ctx context.Context, task pipeline.ScrapeTask, logger *zap.Logger) (pipeline.InsightForgeOutput, error) {
	device, err := pipeline.ParseDevice(task.Device)
	if err != nil {
		return pipeline.InsightForgeOutput{}, err
	}
	pages := int(task.Pages)
	if s.cfg.MaxPages > 0 && pages > s.cfg.MaxPages {
		pages = s.cfg.MaxPages
	}

	urls, err := s.discover.Discover(ctx, task.URL, pages)
	if err != nil {
		return pipeline.InsightForgeOutput{}, fmt.Errorf("discover pages: %w", err)
	}
	logger.Debug("pages discovered", zap.Int("count", len(urls)))

	entries := make([]pipeline.PageEntry, 0, len(urls))
	for _, pageURL := range urls {
		if err := ctx.Err(); err != nil {
			return pipeline.InsightForgeOutput{}, fmt.Errorf("scrape interrupted: %w", err)
		}
		capture, err := s.captureWithRetry(ctx, pageURL, device)
		if err != nil {
			logger.Warn("page skipped", zap.String("url", pageURL), zap.Error(err))
			s.recorder.Emit(progress.Event{
				JobID: task.JobID,
				Kind:  progress.KindPageSkipped,
				Stage: pipeline.StageInsightForge,
				URL:   pageURL,
				Site:  progress.SiteOf(pageURL),
				Note:  err.Error(),
			})
			continue
		}
		entry, err := s.upload(ctx, task.JobID, len(entries), capture)
		if err != nil {
			return pipeline.InsightForgeOutput{}, err
		}
		entries = append(entries, entry)
		s.recorder.Emit(progress.Event{
			JobID: task.JobID,
			Kind:  progress.KindPageCaptured,
			Stage: pipeline.StageInsightForge,
			URL:   capture.URL,
			Site:  progress.SiteOf(capture.URL),
			Bytes: int64(len(capture.Screenshot) + len(capture.Crop)),
			Dur:   capture.Duration,
		})
	}
	if len(entries) == 0 {
		return pipeline.InsightForgeOutput{}, fmt.Errorf("no pages could be captured from %s", task.URL)
	}

	index, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return pipeline.InsightForgeOutput{}, fmt.Errorf("encode all_pages.json: %w", err)
	}
	key := pipeline.AllPagesPath(task.JobID)
	uri, err := s.blobs.PutObject(ctx, key, "application/json", bytes.NewReader(index))
	if err != nil {
		return pipeline.InsightForgeOutput{}, fmt.Errorf("upload all_pages.json: %w", err)
	}
	return pipeline.InsightForgeOutput{
		JSONPath:       uri,
		JSONObject:     key,
		ImagesBasePath: pipeline.InputPrefix(task.JobID),
		PageCount:      len(entries),
	}, nil
}

func (s *Stage) captureWithRetry(ctx context.Context, pageURL string, device pipeline.Device) (browser.Capture, error) {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.CaptureRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(s.cfg.RetryBackoff * time.Duration(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return browser.Capture{}, fmt.Errorf("capture retry canceled: %w", ctx.Err())
			case <-timer.C:
			}
		}
		capture, err := s.capture.Capture(ctx, pageURL, device)
		if err == nil {
			return capture, nil
		}
		lastErr = err
	}
	return browser.Capture{}, lastErr
}

func (s *Stage) upload(ctx context.Context, jobID string, i int, capture browser.Capture) (pipeline.PageEntry, error) {
	digest, err := s.hasher.Hash(capture.Screenshot)
	if err != nil {
		return pipeline.PageEntry{}, fmt.Errorf("hash screenshot: %w", err)
	}
	coordmap, err := json.MarshalIndent(capture.Coordmap, "", "  ")
	if err != nil {
		return pipeline.PageEntry{}, fmt.Errorf("encode coordmap: %w", err)
	}

	screen, err := s.blobs.PutObject(ctx, pipeline.ScreenPath(jobID, i), "image/png", bytes.NewReader(capture.Screenshot))
	if err != nil {
		return pipeline.PageEntry{}, fmt.Errorf("upload screenshot %d: %w", i, err)
	}
	coords, err := s.blobs.PutObject(ctx, pipeline.CoordmapPath(jobID, i), "application/json", bytes.NewReader(coordmap))
	if err != nil {
		return pipeline.PageEntry{}, fmt.Errorf("upload coordmap %d: %w", i, err)
	}
	crop, err := s.blobs.PutObject(ctx, pipeline.CropPath(jobID, i), "image/png", bytes.NewReader(capture.Crop))
	if err != nil {
		return pipeline.PageEntry{}, fmt.Errorf("upload crop %d: %w", i, err)
	}
	return pipeline.PageEntry{
		PageNumber:       i,
		URL:              capture.URL,
		Title:            capture.Title,
		Screenshot:       screen,
		Coordmap:         coords,
		Crop:             crop,
		ScreenshotSHA256: digest,
	}, nil
}
