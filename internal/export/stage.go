// Package export runs the TagOps Hub stage: the Markdown draft is rendered to
// HTML, printed to PDF by headless Chrome and published to blob storage.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/tagops-pipeline/internal/logging"
	"github.com/JakeFAU/tagops-pipeline/internal/pipeline"
	"github.com/JakeFAU/tagops-pipeline/internal/stage"
	"github.com/JakeFAU/tagops-pipeline/internal/telemetry"
)

// Printer prints an HTML document to PDF.
type Printer interface {
	PrintPDF(ctx context.Context, html string) ([]byte, error)
}

// Stage implements TagOps Hub.
type Stage struct {
	renderer *Renderer
	printer  Printer
	blobs    pipeline.BlobStore
	recorder *stage.Recorder
	timeout  time.Duration
	logger   *zap.Logger
}

// New constructs a Stage.
func New(printer Printer, blobs pipeline.BlobStore, recorder *stage.Recorder, timeout time.Duration, logger *zap.Logger) *Stage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stage{
		renderer: NewRenderer(),
		printer:  printer,
		blobs:    blobs,
		recorder: recorder,
		timeout:  timeout,
		logger:   logger.Named("export"),
	}
}

// Run exports markdown, or the stored draft when markdown is blank, and
// returns the PDF's public URL.
func (s *Stage) Run(ctx context.Context, jobID, markdown string) (string, error) {
	logger := logging.ForJob(s.logger, jobID)
	ctx, span := telemetry.StartSpan(ctx, "tagops_hub.export", trace.WithAttributes(
		attribute.String("job.id", jobID),
	))
	defer span.End()

	job, err := s.recorder.Store().GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	pending := pipeline.StatusTagOpsHubPending
	if !pipeline.CanTransition(job.Status, pending) {
		return "", &pipeline.StatusConflictError{JobID: jobID, Current: job.Status, Target: pending}
	}
	if strings.TrimSpace(markdown) == "" {
		markdown = job.Draft()
	}
	if strings.TrimSpace(markdown) == "" {
		return "", fmt.Errorf("%w: no markdown supplied and job %s has no draft", pipeline.ErrInvalidInput, jobID)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	started := s.recorder.Now()
	if _, err := s.recorder.Claim(ctx, jobID, pipeline.StageTagOpsHub, pending,
		pipeline.JobUpdate{AnalyticCoreDraft: &markdown}); err != nil {
		return "", err
	}

	pdfURL, size, err := s.export(ctx, job, markdown)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("pdf export failed", zap.Error(err))
		msg := "PDF generation failed: " + err.Error()
		if ferr := s.recorder.Fail(ctx, jobID, pipeline.StageTagOpsHub,
			[]pipeline.JobStatus{pending}, msg, started); ferr != nil {
			return "", errors.Join(err, ferr)
		}
		return "", err
	}

	if _, err := s.recorder.Complete(ctx, jobID, pipeline.StageTagOpsHub,
		pending, pipeline.StatusTagOpsHubCompleted,
		pipeline.JobUpdate{TagOpsHubOutput: &pipeline.TagOpsHubOutput{PDFURL: pdfURL}}, started); err != nil {
		return "", err
	}
	logger.Info("pdf exported", zap.String("pdf_url", pdfURL), zap.Int("bytes", size))
	return pdfURL, nil
}

func (s *Stage) export(ctx context.Context, job pipeline.Job, markdown string) (string, int, error) {
	doc, err := s.renderer.HTML("Tagging report "+job.URL, markdown)
	if err != nil {
		return "", 0, err
	}
	pdf, err := s.printer.PrintPDF(ctx, doc)
	if err != nil {
		return "", 0, fmt.Errorf("print pdf: %w", err)
	}
	if len(pdf) == 0 {
		return "", 0, errors.New("print pdf: empty document")
	}
	key := pipeline.ReportPath(job.ID)
	if _, err := s.blobs.PutObject(ctx, key, "application/pdf", bytes.NewReader(pdf)); err != nil {
		return "", 0, fmt.Errorf("upload %s: %w", key, err)
	}
	return s.blobs.PublicURL(key), len(pdf), nil
}
