package pipeline

import (
	"context"
	"io"
	"time"
)

// JobStore persists job documents.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context, filter ListFilter) ([]Job, error)
	// UpdateJob applies upd only if the job's current status is in from.
	// An empty from skips the status check. A refused update returns a
	// *StatusConflictError and leaves the job untouched.
	UpdateJob(ctx context.Context, jobID string, from []JobStatus, upd JobUpdate) (Job, error)
}

// BlobStore writes and reads raw artifacts.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
	// PublicURL returns the address a browser can fetch path from.
	PublicURL(path string) string
}

// Hasher computes digests for artifact integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
