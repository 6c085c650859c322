package pipeline

import (
	"fmt"
	"strings"
)

// InputPrefix is where the scrape stage writes a job's artifacts.
func InputPrefix(jobID string) string {
	return "jobs/" + jobID + "/input/"
}

// ScreenPath is the object key of page i's full-page screenshot.
func ScreenPath(jobID string, i int) string {
	return fmt.Sprintf("%sscreens/screen_%d.png", InputPrefix(jobID), i)
}

// CoordmapPath is the object key of page i's component map.
func CoordmapPath(jobID string, i int) string {
	return fmt.Sprintf("%scoordmaps/coordmap_%d.json", InputPrefix(jobID), i)
}

// CropPath is the object key of page i's above-the-fold crop.
func CropPath(jobID string, i int) string {
	return fmt.Sprintf("%scrops/crop_%d.png", InputPrefix(jobID), i)
}

// AllPagesPath is the object key of the page index.
func AllPagesPath(jobID string) string {
	return InputPrefix(jobID) + "all_pages.json"
}

// ReportPath is the object key of the exported PDF.
func ReportPath(jobID string) string {
	return "reports/" + jobID + ".pdf"
}

// KeyFromURI recovers the object key of a job artifact from any blob URI
// (gs://bucket/jobs/..., file:///dir/jobs/..., memory://jobs/...).
func KeyFromURI(uri, jobID string) (string, error) {
	marker := "jobs/" + jobID + "/"
	idx := strings.Index(uri, marker)
	if idx < 0 {
		return "", fmt.Errorf("uri %q is not an artifact of job %s: %w", uri, jobID, ErrInvalidInput)
	}
	return uri[idx:], nil
}
