package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/tagops-pipeline/internal/progress"
)

// PrometheusSink exports stage and capture metrics.
type PrometheusSink struct {
	stagesStarted   *prometheus.CounterVec
	stagesCompleted *prometheus.CounterVec
	stagesRunning   *prometheus.GaugeVec
	stageDuration   *prometheus.HistogramVec

	pages           *prometheus.CounterVec
	captureBytes    *prometheus.CounterVec
	captureDuration *prometheus.HistogramVec

	tracker *stageTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		stagesStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tagops_stage_started_total",
			Help: "Pipeline stages started, by stage.",
		}, []string{"stage"}),
		stagesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tagops_stage_completed_total",
			Help: "Pipeline stages finished, by stage and result.",
		}, []string{"stage", "result"}),
		stagesRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tagops_stage_running",
			Help: "Stages currently in a pending status, by stage.",
		}, []string{"stage"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tagops_stage_duration_seconds",
			Help:    "Wall time per finished stage.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"stage", "result"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tagops_pages_total",
			Help: "Pages handled by the scraper, by site and result.",
		}, []string{"site", "result"}),
		captureBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tagops_capture_bytes_total",
			Help: "Screenshot bytes captured per site.",
		}, []string{"site"}),
		captureDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tagops_capture_duration_seconds",
			Help:    "Browser capture latency per site.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45},
		}, []string{"site"}),
		tracker: newStageTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.stagesStarted,
		s.stagesCompleted,
		s.stagesRunning,
		s.stageDuration,
		s.pages,
		s.captureBytes,
		s.captureDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Kind {
		case progress.KindStageStart:
			s.stagesStarted.WithLabelValues(string(evt.Stage)).Inc()
			if s.tracker.start(evt.JobID, string(evt.Stage)) {
				s.stagesRunning.WithLabelValues(string(evt.Stage)).Inc()
			}
		case progress.KindStageDone:
			s.finish(evt, "success")
		case progress.KindStageError:
			s.finish(evt, "error")
		case progress.KindPageCaptured:
			site := siteLabel(evt)
			s.pages.WithLabelValues(site, "captured").Inc()
			if evt.Bytes > 0 {
				s.captureBytes.WithLabelValues(site).Add(float64(evt.Bytes))
			}
			if evt.Dur > 0 {
				s.captureDuration.WithLabelValues(site).Observe(evt.Dur.Seconds())
			}
		case progress.KindPageSkipped:
			s.pages.WithLabelValues(siteLabel(evt), "skipped").Inc()
		}
	}
	return nil
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	stage := string(evt.Stage)
	s.stagesCompleted.WithLabelValues(stage, result).Inc()
	if evt.Dur > 0 {
		s.stageDuration.WithLabelValues(stage, result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.JobID, stage) {
		s.stagesRunning.WithLabelValues(stage).Dec()
	}
}

func siteLabel(evt progress.Event) string {
	if evt.Site != "" {
		return evt.Site
	}
	return progress.SiteOf(evt.URL)
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type stageKey struct {
	jobID string
	stage string
}

type stageTracker struct {
	mu      sync.Mutex
	running map[stageKey]struct{}
}

func newStageTracker() *stageTracker {
	return &stageTracker{running: make(map[stageKey]struct{})}
}

func (t *stageTracker) start(jobID, stage string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := stageKey{jobID, stage}
	if _, ok := t.running[key]; ok {
		return false
	}
	t.running[key] = struct{}{}
	return true
}

func (t *stageTracker) complete(jobID, stage string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := stageKey{jobID, stage}
	if _, ok := t.running[key]; !ok {
		return false
	}
	delete(t.running, key)
	return true
}
