package store

import (
	"context"
	"time"
)

// JobEvent is one persisted row of a job's history.
type JobEvent struct {
	JobID  string    `json:"jobId"`
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"`
	Stage  string    `json:"stage"`
	Status string    `json:"status,omitempty"`
	URL    string    `json:"url,omitempty"`
	DurMS  int64     `json:"durationMs,omitempty"`
	Note   string    `json:"note,omitempty"`
}

// EventRepository appends and lists job history rows.
type EventRepository interface {
	AppendEvents(ctx context.Context, events []JobEvent) error
	// ListEvents returns a job's events oldest first.
	ListEvents(ctx context.Context, jobID string, limit int) ([]JobEvent, error)
}
