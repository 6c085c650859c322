package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/tagops-pipeline/internal/launcher"
	"github.com/JakeFAU/tagops-pipeline/internal/mcp"
	"github.com/JakeFAU/tagops-pipeline/internal/metrics"
	"github.com/JakeFAU/tagops-pipeline/internal/pipeline"
	"github.com/JakeFAU/tagops-pipeline/internal/store"
)

// Launcher starts jobs.
type Launcher interface {
	Launch(ctx context.Context, req launcher.Request) (string, error)
}

// ReportStage runs Analytic Core.
type ReportStage interface {
	Run(ctx context.Context, jobID string) (pipeline.Job, error)
}

// ExportStage runs TagOps Hub.
type ExportStage interface {
	Run(ctx context.Context, jobID, markdown string) (string, error)
}

// ToolProxy forwards MCP tool calls.
type ToolProxy interface {
	Call(ctx context.Context, c mcp.Call) (mcp.Result, error)
}

// Checker reports whether a dependency is ready.
type Checker func(ctx context.Context) error

// Deps are the collaborators of the public API server. Tools may be nil when
// no MCP endpoint is configured.
type Deps struct {
	Jobs     pipeline.JobStore
	Events   store.EventRepository
	Launcher Launcher
	Report   ReportStage
	Export   ExportStage
	Tools    ToolProxy
	Ready    []Checker
}

// Options tune request handling.
type Options struct {
	// RequestTimeout bounds reads and job launches.
	RequestTimeout time.Duration
	// StageTimeout bounds the synchronous stage endpoints.
	StageTimeout time.Duration
}

// Server wires HTTP handlers to the pipeline stages and stores.
type Server struct {
	handler  http.Handler
	deps     Deps
	progress *ProgressHandler
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("api")
	s := &Server{
		deps:     deps,
		progress: NewProgressHandler(deps.Jobs, deps.Events, logger),
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", healthz)
	r.Get("/readyz", readyz(deps.Ready))
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(opts.RequestTimeout))
			r.Post("/jobs", s.launchJob)
			r.Get("/jobs", s.progress.ListJobs)
			r.Get("/jobs/{job_id}", s.progress.GetJob)
			r.Get("/jobs/{job_id}/events", s.progress.ListEvents)
			r.Put("/jobs/{job_id}/draft", s.saveDraft)
		})
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(opts.StageTimeout))
			r.Post("/jobs/{job_id}/analytic-core", s.runAnalyticCore)
			r.Post("/jobs/{job_id}/tagops-hub", s.runTagOpsHub)
			r.Post("/mcp/tools", s.callTool)
		})
	})

	s.handler = otelhttp.NewHandler(r, "api")
	return s
}

// Handler returns the traced router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func readyz(checks []Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for _, check := range checks {
			if err := check(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func (s *Server) launchJob(w http.ResponseWriter, r *http.Request) {
	var req launcher.Request
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, s.logger, "decode launch request", err)
		return
	}
	jobID, err := s.deps.Launcher.Launch(r.Context(), req)
	if err != nil {
		fail(w, s.logger, "launch job failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

type draftRequest struct {
	Markdown string `json:"markdown"`
}

// saveDraft stores the user's edits. Only statuses where no stage is
// writing the draft accept edits.
func (s *Server) saveDraft(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	var req draftRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, s.logger, "decode draft", err)
		return
	}
	job, err := s.deps.Jobs.UpdateJob(r.Context(), jobID, pipeline.DraftEditableStatuses(), pipeline.JobUpdate{AnalyticCoreDraft: &req.Markdown})
	if err != nil {
		fail(w, s.logger, "save draft failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) runAnalyticCore(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.deps.Report.Run(r.Context(), jobID)
	if err != nil {
		fail(w, s.logger, "analytic core failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Analytic Core completed successfully.",
		"job":     job,
	})
}

type exportRequest struct {
	ModifiedMarkdown string `json:"modifiedMarkdown"`
}

func (s *Server) runTagOpsHub(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	var req exportRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		fail(w, s.logger, "decode export request", err)
		return
	}
	pdfURL, err := s.deps.Export.Run(r.Context(), jobID, req.ModifiedMarkdown)
	if err != nil {
		fail(w, s.logger, "tagops hub failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"pdfUrl": pdfURL})
}

func (s *Server) callTool(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tools == nil {
		writeError(w, http.StatusServiceUnavailable, "mcp endpoint not configured")
		return
	}
	var call mcp.Call
	if err := decodeJSON(w, r, &call); err != nil {
		fail(w, s.logger, "decode tool call", err)
		return
	}
	call.Tool = strings.TrimSpace(call.Tool)
	res, err := s.deps.Tools.Call(r.Context(), call)
	if err != nil {
		fail(w, s.logger, "tool call failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
