// Package report runs the Analytic Core stage: it reads the scraped page
// inventory and asks the model for the SEO report and the tagging draft.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/tagops-pipeline/internal/llm"
	"github.com/JakeFAU/tagops-pipeline/internal/logging"
	"github.com/JakeFAU/tagops-pipeline/internal/pipeline"
	"github.com/JakeFAU/tagops-pipeline/internal/stage"
	"github.com/JakeFAU/tagops-pipeline/internal/telemetry"
)

const missingScrapeOutput = "Scraping output (jsonPath) not found."

// Analyst generates the two model outputs.
type Analyst interface {
	SEOReport(ctx context.Context, scrapedData string) (pipeline.SEOReport, error)
	TaggingReport(ctx context.Context, in llm.TaggingInput) (string, error)
}

// Stage implements Analytic Core.
type Stage struct {
	analyst  Analyst
	blobs    pipeline.BlobStore
	recorder *stage.Recorder
	timeout  time.Duration
	logger   *zap.Logger
}

// New constructs a Stage. timeout bounds one run; zero means no extra bound.
func New(analyst Analyst, blobs pipeline.BlobStore, recorder *stage.Recorder, timeout time.Duration, logger *zap.Logger) *Stage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stage{
		analyst:  analyst,
		blobs:    blobs,
		recorder: recorder,
		timeout:  timeout,
		logger:   logger.Named("report"),
	}
}

// scrapedPage is what the model sees for one captured page.
type scrapedPage struct {
	PageNumber int                  `json:"page_number"`
	URL        string               `json:"url"`
	Title      string               `json:"title,omitempty"`
	PageType   string               `json:"tipo_pagina,omitempty"`
	Components []pipeline.Component `json:"componentes,omitempty"`
}

// Run generates the draft for jobID and returns the completed job.
func (s *Stage) Run(ctx context.Context, jobID string) (pipeline.Job, error) {
	logger := logging.ForJob(s.logger, jobID)
	ctx, span := telemetry.StartSpan(ctx, "analytic_core.generate", trace.WithAttributes(
		attribute.String("job.id", jobID),
	))
	defer span.End()

	job, err := s.recorder.Store().GetJob(ctx, jobID)
	if err != nil {
		return pipeline.Job{}, err
	}
	pending := pipeline.StatusAnalyticCorePending
	if !pipeline.CanTransition(job.Status, pending) {
		return pipeline.Job{}, &pipeline.StatusConflictError{JobID: jobID, Current: job.Status, Target: pending}
	}
	started := s.recorder.Now()
	if job.InsightForgeOutput == nil || job.InsightForgeOutput.JSONPath == "" {
		logger.Warn("analytic core requested without scrape output")
		if err := s.recorder.Fail(ctx, jobID, pipeline.StageAnalyticCore,
			[]pipeline.JobStatus{job.Status}, missingScrapeOutput, started); err != nil {
			return pipeline.Job{}, err
		}
		return pipeline.Job{}, fmt.Errorf("%w: job %s has no scrape output", pipeline.ErrPrecondition, jobID)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	job, err = s.recorder.Claim(ctx, jobID, pipeline.StageAnalyticCore, pending, pipeline.JobUpdate{})
	if err != nil {
		return pipeline.Job{}, err
	}

	seo, draft, err := s.generate(ctx, job, logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("analytic core failed", zap.Error(err))
		msg := "Analytic Core process failed: " + err.Error()
		if ferr := s.recorder.Fail(ctx, jobID, pipeline.StageAnalyticCore,
			[]pipeline.JobStatus{pending}, msg, started); ferr != nil {
			return pipeline.Job{}, errors.Join(err, ferr)
		}
		return pipeline.Job{}, err
	}

	done, err := s.recorder.Complete(ctx, jobID, pipeline.StageAnalyticCore,
		pending, pipeline.StatusAnalyticCoreCompleted,
		pipeline.JobUpdate{SEOReport: &seo, AnalyticCoreDraft: &draft}, started)
	if err != nil {
		return pipeline.Job{}, err
	}
	logger.Info("analytic core completed", zap.Int("seo_score", seo.Score), zap.Int("draft_chars", len(draft)))
	return done, nil
}

func (s *Stage) generate(ctx context.Context, job pipeline.Job, logger *zap.Logger) (pipeline.SEOReport, string, error) {
	pages, err := s.loadPages(ctx, job, logger)
	if err != nil {
		return pipeline.SEOReport{}, "", err
	}
	scraped, err := json.MarshalIndent(pages, "", "  ")
	if err != nil {
		return pipeline.SEOReport{}, "", fmt.Errorf("encode scraped data: %w", err)
	}

	seo, err := s.analyst.SEOReport(ctx, string(scraped))
	if err != nil {
		return pipeline.SEOReport{}, "", err
	}
	draft, err := s.analyst.TaggingReport(ctx, llm.TaggingInput{
		URL:         job.URL,
		Device:      job.Device,
		SEO:         seo,
		ScrapedData: string(scraped),
	})
	if err != nil {
		return pipeline.SEOReport{}, "", err
	}
	return seo, draft, nil
}

// loadPages reads all_pages.json and joins each entry with its coordmap.
// A missing coordmap degrades that page to url and title only.
func (s *Stage) loadPages(ctx context.Context, job pipeline.Job, logger *zap.Logger) ([]scrapedPage, error) {
	out := job.InsightForgeOutput
	key := out.JSONObject
	if key == "" {
		var err error
		if key, err = pipeline.KeyFromURI(out.JSONPath, job.ID); err != nil {
			return nil, err
		}
	}
	raw, err := s.blobs.GetObject(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	var entries []pipeline.PageEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%s lists no pages", key)
	}

	pages := make([]scrapedPage, 0, len(entries))
	for _, entry := range entries {
		page := scrapedPage{PageNumber: entry.PageNumber, URL: entry.URL, Title: entry.Title}
		coordmap, err := s.readCoordmap(ctx, job.ID, entry)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("coordmap unavailable", zap.Int("page", entry.PageNumber), zap.Error(err))
		} else {
			page.PageType = coordmap.PageType
			page.Components = coordmap.Components
		}
		pages = append(pages, page)
	}
	return pages, nil
}

func (s *Stage) readCoordmap(ctx context.Context, jobID string, entry pipeline.PageEntry) (pipeline.Coordmap, error) {
	key := pipeline.CoordmapPath(jobID, entry.PageNumber)
	if entry.Coordmap != "" {
		k, err := pipeline.KeyFromURI(entry.Coordmap, jobID)
		if err != nil {
			return pipeline.Coordmap{}, err
		}
		key = k
	}
	raw, err := s.blobs.GetObject(ctx, key)
	if err != nil {
		return pipeline.Coordmap{}, fmt.Errorf("read %s: %w", key, err)
	}
	var cm pipeline.Coordmap
	if err := json.Unmarshal(raw, &cm); err != nil {
		return pipeline.Coordmap{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return cm, nil
}
