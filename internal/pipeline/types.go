// Package pipeline defines the job model and the contracts shared by the
// Insight Forge, Analytic Core and TagOps Hub stages.
package pipeline

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// JobStatus is the lifecycle state persisted on a job document.
type JobStatus string

// Job status values, in pipeline order.
const (
	StatusInsightForgePending   JobStatus = "insight_forge_pending"
	StatusInsightForgeCompleted JobStatus = "insight_forge_completed"
	StatusAnalyticCorePending   JobStatus = "analytic_core_pending"
	StatusAnalyticCoreCompleted JobStatus = "analytic_core_completed"
	StatusTagOpsHubPending      JobStatus = "tagops_hub_pending"
	StatusTagOpsHubCompleted    JobStatus = "tagops_hub_completed"
	StatusFailed                JobStatus = "failed"
)

// Stage names a pipeline step.
type Stage string

// Pipeline stages.
const (
	StageInsightForge Stage = "insight_forge"
	StageAnalyticCore Stage = "analytic_core"
	StageTagOpsHub    Stage = "tagops_hub"
)

// Device selects the browser profile used for captures.
type Device string

// Supported capture devices.
const (
	DeviceDesktop Device = "desktop"
	DeviceMobile  Device = "mobile"
)

// ParseDevice validates a device name.
func ParseDevice(raw string) (Device, error) {
	switch Device(strings.ToLower(strings.TrimSpace(raw))) {
	case DeviceDesktop:
		return DeviceDesktop, nil
	case DeviceMobile:
		return DeviceMobile, nil
	default:
		return "", fmt.Errorf("%w: device must be %q or %q", ErrInvalidInput, DeviceDesktop, DeviceMobile)
	}
}

// Job is the single document tracking one analysis request.
type Job struct {
	ID                 string              `json:"id"`
	Status             JobStatus           `json:"status"`
	URL                string              `json:"url"`
	AgentType          string              `json:"agentType"`
	Device             Device              `json:"device"`
	Pages              int                 `json:"pages"`
	CreatedAt          time.Time           `json:"createdAt"`
	UpdatedAt          time.Time           `json:"updatedAt"`
	InsightForgeOutput *InsightForgeOutput `json:"insightForgeOutput,omitempty"`
	SEOReport          *SEOReport          `json:"seoReport,omitempty"`
	AnalyticCoreDraft  *string             `json:"analyticCoreDraft,omitempty"`
	TagOpsHubOutput    *TagOpsHubOutput    `json:"tagOpsHubOutput,omitempty"`
	Error              string              `json:"error,omitempty"`
}

// Draft returns the stored Markdown draft or "".
func (j Job) Draft() string {
	if j.AnalyticCoreDraft == nil {
		return ""
	}
	return *j.AnalyticCoreDraft
}

// InsightForgeOutput points at the artifacts uploaded by the scraper.
type InsightForgeOutput struct {
	// JSONPath is the blob URI of all_pages.json.
	JSONPath string `json:"jsonPath"`
	// JSONObject is the object key of all_pages.json inside the blob store.
	JSONObject     string `json:"jsonObject"`
	ImagesBasePath string `json:"imagesBasePath"`
	PageCount      int    `json:"pageCount"`
}

// SEOReport is the structured SEO assessment produced before the tagging draft.
type SEOReport struct {
	Score           int      `json:"seo_score"`
	Recommendations []string `json:"recommendations"`
}

// TagOpsHubOutput records the exported PDF.
type TagOpsHubOutput struct {
	PDFURL string `json:"pdfUrl"`
}

// JobUpdate carries the fields a stage writes. Nil fields are left untouched;
// an empty Status keeps the current status.
type JobUpdate struct {
	Status             JobStatus
	InsightForgeOutput *InsightForgeOutput
	SEOReport          *SEOReport
	AnalyticCoreDraft  *string
	TagOpsHubOutput    *TagOpsHubOutput
	Error              *string
}

// Apply mutates job with the non-nil fields of u.
func (u JobUpdate) Apply(job *Job, now time.Time) {
	if u.Status != "" {
		job.Status = u.Status
	}
	if u.InsightForgeOutput != nil {
		out := *u.InsightForgeOutput
		job.InsightForgeOutput = &out
	}
	if u.SEOReport != nil {
		rep := *u.SEOReport
		rep.Recommendations = append([]string(nil), u.SEOReport.Recommendations...)
		job.SEOReport = &rep
	}
	if u.AnalyticCoreDraft != nil {
		draft := *u.AnalyticCoreDraft
		job.AnalyticCoreDraft = &draft
	}
	if u.TagOpsHubOutput != nil {
		out := *u.TagOpsHubOutput
		job.TagOpsHubOutput = &out
	}
	if u.Error != nil {
		job.Error = *u.Error
	}
	job.UpdatedAt = now
}

// ListFilter narrows job listings for the dashboard history view.
type ListFilter struct {
	Status JobStatus
	Limit  int
	Offset int
}

// PageCount decodes a page count sent either as a JSON number or a numeric string.
type PageCount int

// UnmarshalJSON accepts 3, 3.0 and "3".
func (p *PageCount) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*p = 0
		return nil
	}
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = strings.TrimSpace(unquoted)
	}
	if raw == "" {
		*p = 0
		return nil
	}
	num := json.Number(raw)
	if n, err := num.Int64(); err == nil {
		*p = PageCount(n)
		return nil
	}
	f, err := num.Float64()
	if err != nil {
		return fmt.Errorf("%w: pages must be a number", ErrInvalidInput)
	}
	*p = PageCount(int(f))
	return nil
}

// ScrapeTask is the payload forwarded from the launcher to the scraper service.
type ScrapeTask struct {
	URL    string    `json:"url"`
	Pages  PageCount `json:"pages"`
	Device string    `json:"device"`
	JobID  string    `json:"jobId"`

	// Trace carries the submitting request's trace headers to the worker.
	Trace map[string]string `json:"-"`
}

// PageEntry is one element of all_pages.json.
type PageEntry struct {
	PageNumber       int    `json:"page_number"`
	URL              string `json:"url"`
	Title            string `json:"title,omitempty"`
	Screenshot       string `json:"screenshot"`
	Coordmap         string `json:"coordmap"`
	Crop             string `json:"crop"`
	ScreenshotSHA256 string `json:"screenshot_sha256,omitempty"`
}

// Component is a visually distinct block located on a captured page.
type Component struct {
	Name        string     `json:"nombre"`
	Type        string     `json:"tipo"`
	Coordinates [4]float64 `json:"coordenadas"`
}

// Coordmap is the per-page component map uploaded next to each screenshot.
type Coordmap struct {
	URL        string      `json:"url"`
	PageType   string      `json:"tipo_pagina"`
	Components []Component `json:"componentes"`
}
