// Package launcher validates analysis requests, creates jobs and hands them
// to the scraper service.
package launcher

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tagops-pipeline/internal/logging"
	"github.com/JakeFAU/tagops-pipeline/internal/pipeline"
	"github.com/JakeFAU/tagops-pipeline/internal/stage"
)

// Forwarder delivers a scrape task to the scraper.
type Forwarder interface {
	Forward(ctx context.Context, task pipeline.ScrapeTask) error
}

// Request is the body of POST /v1/jobs.
type Request struct {
	URL       string             `json:"url"`
	Pages     pipeline.PageCount `json:"pages"`
	Device    string             `json:"device"`
	AgentType string             `json:"agentType"`
}

// Config bounds requests and the background forward.
type Config struct {
	MaxPages        int
	DispatchTimeout time.Duration
}

// Launcher starts jobs.
type Launcher struct {
	recorder  *stage.Recorder
	ids       pipeline.IDGenerator
	forwarder Forwarder
	cfg       Config
	logger    *zap.Logger

	inflight sync.WaitGroup
}

// New constructs a Launcher.
func New(recorder *stage.Recorder, ids pipeline.IDGenerator, forwarder Forwarder, cfg Config, logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 20
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 30 * time.Second
	}
	return &Launcher{
		recorder:  recorder,
		ids:       ids,
		forwarder: forwarder,
		cfg:       cfg,
		logger:    logger.Named("launcher"),
	}
}

// Validate checks req and returns the parsed device.
func (l *Launcher) Validate(req Request) (pipeline.Device, error) {
	if strings.TrimSpace(req.URL) == "" || req.Pages == 0 ||
		strings.TrimSpace(req.Device) == "" || strings.TrimSpace(req.AgentType) == "" {
		return "", fmt.Errorf("%w: missing required parameters", pipeline.ErrInvalidInput)
	}
	u, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: url must be an absolute http(s) URL", pipeline.ErrInvalidInput)
	}
	if req.Pages < 1 || int(req.Pages) > l.cfg.MaxPages {
		return "", fmt.Errorf("%w: \"pages\" must be a number between 1 and %d", pipeline.ErrInvalidInput, l.cfg.MaxPages)
	}
	return pipeline.ParseDevice(req.Device)
}

// Launch creates a job in insight_forge_pending and forwards it to the
// scraper in the background. The returned id is valid even if the forward
// later fails; in that case the job moves to failed.
func (l *Launcher) Launch(ctx context.Context, req Request) (string, error) {
	device, err := l.Validate(req)
	if err != nil {
		return "", err
	}
	jobID, err := l.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := l.recorder.Now()
	job := pipeline.Job{
		ID:        jobID,
		Status:    pipeline.StatusInsightForgePending,
		URL:       strings.TrimSpace(req.URL),
		AgentType: strings.TrimSpace(req.AgentType),
		Device:    device,
		Pages:     int(req.Pages),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.recorder.Create(ctx, job); err != nil {
		return "", err
	}
	logging.ForJob(l.logger, jobID).Info("job created",
		zap.String("url", job.URL),
		zap.String("agent_type", job.AgentType),
		zap.String("device", string(device)),
		zap.Int("pages", job.Pages),
	)

	task := pipeline.ScrapeTask{URL: job.URL, Pages: req.Pages, Device: string(device), JobID: jobID}
	l.inflight.Add(1)
	go l.forward(context.WithoutCancel(ctx), task, now)
	return jobID, nil
}

// Wait blocks until every background forward has finished.
func (l *Launcher) Wait() {
	l.inflight.Wait()
}

func (l *Launcher) forward(parent context.Context, task pipeline.ScrapeTask, started time.Time) {
	defer l.inflight.Done()
	ctx, cancel := context.WithTimeout(parent, l.cfg.DispatchTimeout)
	defer cancel()

	logger := logging.ForJob(l.logger, task.JobID)
	if err := l.forwarder.Forward(ctx, task); err != nil {
		logger.Error("scraper forward failed", zap.Error(err))
		msg := "Insight Forge dispatch failed: " + err.Error()
		_ = l.recorder.Fail(ctx, task.JobID, pipeline.StageInsightForge,
			[]pipeline.JobStatus{pipeline.StatusInsightForgePending}, msg, started)
		return
	}
	logger.Debug("scrape task forwarded")
}
