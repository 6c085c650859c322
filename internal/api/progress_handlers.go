package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/tagops-pipeline/internal/pipeline"
	"github.com/JakeFAU/tagops-pipeline/internal/store"
)

const (
	defaultJobLimit    = 50
	maxJobLimit        = 500
	defaultEventsLimit = 200
	maxEventsLimit     = 1000
	progressTimeout    = 3 * time.Second
)

// ProgressHandler exposes the read-only job history endpoints.
type ProgressHandler struct {
	jobs    pipeline.JobStore
	events  store.EventRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewProgressHandler wires the stores and logger. events may be nil.
func NewProgressHandler(jobs pipeline.JobStore, events store.EventRepository, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{
		jobs:    jobs,
		events:  events,
		timeout: progressTimeout,
		logger:  logger,
	}
}

// ListJobs handles GET /v1/jobs?status=&limit=&offset=. It returns
// {"jobs": [...]} newest first, or 400 for invalid filters.
func (h *ProgressHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	limit, offset, err := parseLimitOffset(r, defaultJobLimit, maxJobLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := pipeline.ListFilter{Limit: limit, Offset: offset}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status := pipeline.JobStatus(strings.ToLower(raw))
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		filter.Status = status
	}
	jobs, err := h.jobs.ListJobs(ctx, filter)
	if err != nil {
		h.logger.Error("list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// GetJob handles GET /v1/jobs/{job_id}. The dashboard polls it for status.
func (h *ProgressHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	job, err := h.jobs.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, pipeline.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error("get job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

// ListEvents handles GET /v1/jobs/{job_id}/events?limit=. It returns the
// job's timeline oldest first, or 503 when no event store is configured.
func (h *ProgressHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event repository unavailable")
		return
	}
	jobID, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, _, err := parseLimitOffset(r, defaultEventsLimit, maxEventsLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	events, err := h.events.ListEvents(ctx, jobID, limit)
	if err != nil {
		h.logger.Error("list job events failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list job events")
		return
	}
	if events == nil {
		events = []store.JobEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func parseJobID(r *http.Request) (string, error) {
	jobID := strings.TrimSpace(chi.URLParam(r, "job_id"))
	if jobID == "" {
		return "", errors.New("job_id is required")
	}
	return jobID, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
