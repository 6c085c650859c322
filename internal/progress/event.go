package progress

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/tagops-pipeline/internal/pipeline"
)

// Kind denotes the milestone an Event represents.
type Kind string

// Supported event kinds.
const (
	KindStageStart   Kind = "STAGE_START"
	KindStageDone    Kind = "STAGE_DONE"
	KindStageError   Kind = "STAGE_ERROR"
	KindPageCaptured Kind = "PAGE_CAPTURED"
	KindPageSkipped  Kind = "PAGE_SKIPPED"
)

// Event captures one step of a job's progress.
type Event struct {
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Kind  Kind
	Stage pipeline.Stage
	// Status is the job status the stage event moved the job to.
	Status pipeline.JobStatus
	// URL and Site scope page events.
	URL   string
	Site  string
	Bytes int64
	// Dur is the stage or capture latency.
	Dur time.Duration
	// Note carries error text for failures and skips.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Stage == "" {
		return errors.New("stage is required")
	}
	switch e.Kind {
	case KindStageStart, KindStageDone, KindStageError:
		if !e.Status.Valid() {
			return fmt.Errorf("stage event requires a valid status, got %q", e.Status)
		}
	case KindPageCaptured, KindPageSkipped:
		if e.URL == "" {
			return errors.New("page event requires url")
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// IsStage reports whether e is a stage lifecycle event.
func (e Event) IsStage() bool {
	return e.Kind == KindStageStart || e.Kind == KindStageDone || e.Kind == KindStageError
}

// StageEvent builds a lifecycle event.
func StageEvent(jobID string, kind Kind, stage pipeline.Stage, status pipeline.JobStatus, at time.Time) Event {
	return Event{JobID: jobID, TS: at, Kind: kind, Stage: stage, Status: status}
}

// SiteOf extracts the lowercase host of rawURL, or "unknown".
func SiteOf(rawURL string) string {
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
