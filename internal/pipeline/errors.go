package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a job does not exist.
	ErrNotFound = errors.New("job not found")
	// ErrObjectNotFound is returned by blob stores for missing artifacts.
	ErrObjectNotFound = errors.New("object not found")
	// ErrInvalidInput marks caller mistakes (missing or malformed parameters).
	ErrInvalidInput = errors.New("invalid input")
	// ErrPrecondition is returned when a stage's input artifact is missing.
	ErrPrecondition = errors.New("precondition failed")
	// ErrUnavailable wraps failures of downstream services (scraper, LLM, browser).
	ErrUnavailable = errors.New("dependency unavailable")
	// ErrStatusConflict is matched by *StatusConflictError.
	ErrStatusConflict = errors.New("status conflict")
)

// StatusConflictError reports a refused transition.
type StatusConflictError struct {
	JobID   string
	Current JobStatus
	Target  JobStatus
}

func (e *StatusConflictError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("job %s: status %q does not allow this operation", e.JobID, e.Current)
	}
	return fmt.Sprintf("job %s: cannot move from %q to %q", e.JobID, e.Current, e.Target)
}

// Is lets errors.Is(err, ErrStatusConflict) match.
func (e *StatusConflictError) Is(target error) bool {
	return target == ErrStatusConflict
}
