package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/tagops-pipeline/internal/metrics"
	"github.com/JakeFAU/tagops-pipeline/internal/pipeline"
	"github.com/JakeFAU/tagops-pipeline/internal/telemetry"
)

// Submitter accepts scrape tasks without blocking.
type Submitter interface {
	Submit(task pipeline.ScrapeTask) error
	Backlog() int
}

// ScraperServer is the Insight Forge service: it validates scrape tasks and
// queues them for the workers.
type ScraperServer struct {
	handler   http.Handler
	submitter Submitter
	logger    *zap.Logger
}

// NewScraperServer builds the scraper router. An empty apiKey disables the
// X-API-Key check on /scrape.
func NewScraperServer(submitter Submitter, apiKey string, ready []Checker, logger *zap.Logger) *ScraperServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("scraper_api")
	s := &ScraperServer{submitter: submitter, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", healthz)
	r.Get("/readyz", readyz(ready))
	r.Handle("/metrics", metrics.Handler())
	r.Group(func(r chi.Router) {
		if apiKey != "" {
			r.Use(apiKeyMiddleware(apiKey))
		}
		r.Post("/scrape", s.scrape)
	})
	s.handler = otelhttp.NewHandler(r, "scraper")
	return s
}

// Handler returns the traced router for use with http.Server.
func (s *ScraperServer) Handler() http.Handler {
	return s.handler
}

func (s *ScraperServer) scrape(w http.ResponseWriter, r *http.Request) {
	var task pipeline.ScrapeTask
	if err := decodeJSON(w, r, &task); err != nil {
		fail(w, s.logger, "decode scrape task", err)
		return
	}
	task.URL = strings.TrimSpace(task.URL)
	task.JobID = strings.TrimSpace(task.JobID)
	if task.URL == "" || task.JobID == "" || task.Pages <= 0 || strings.TrimSpace(task.Device) == "" {
		writeError(w, http.StatusBadRequest, "Missing required parameters: url, pages, device, jobId")
		return
	}
	if _, err := pipeline.ParseDevice(task.Device); err != nil {
		fail(w, s.logger, "invalid device", err)
		return
	}
	task.Trace = telemetry.Inject(r.Context())
	if err := s.submitter.Submit(task); err != nil {
		fail(w, s.logger, "queue scrape task", err)
		return
	}
	s.logger.Info("scrape task queued",
		zap.String("job_id", task.JobID),
		zap.Int("pages", int(task.Pages)),
		zap.Int("backlog", s.submitter.Backlog()),
	)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "jobId": task.JobID})
}
