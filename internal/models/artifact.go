package models

import (
	"fmt"
	"strings"
)

const (
	traceKeyPrefix      = "trace:"
	screenshotKeyPrefix = "screenshot:"

	// ContentTypePNG is served for screenshots
	ContentTypePNG = "image/png"
	// ContentTypeZip is served for trace bundles
	ContentTypeZip = "application/zip"
)

// TraceKey is the artifact key of a job's trace bundle
func TraceKey(jobID string) string {
	return traceKeyPrefix + jobID
}

// ScreenshotKey is the artifact key of one screenshot
func ScreenshotKey(jobID, shotID string) string {
	return ScreenshotPrefix(jobID) + shotID
}

// ScreenshotPrefix matches every screenshot of a job
func ScreenshotPrefix(jobID string) string {
	return screenshotKeyPrefix + jobID + ":"
}

// ScreenshotPath is the retrieval path returned to clients for a screenshot key
func ScreenshotPath(jobID, shotID string) string {
	return fmt.Sprintf("/api/v1/jobs/%s/screenshots/%s", jobID, shotID)
}

// TracePath is the retrieval path of a job's trace bundle
func TracePath(jobID string) string {
	return fmt.Sprintf("/api/v1/jobs/%s/trace", jobID)
}

// ScreenshotKeyFromPath maps a retrieval path back onto its artifact key
func ScreenshotKeyFromPath(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, "/api/v1/jobs/")
	if !ok {
		return "", false
	}
	jobID, shotID, ok := strings.Cut(rest, "/screenshots/")
	if !ok || jobID == "" || shotID == "" || strings.Contains(shotID, "/") {
		return "", false
	}
	return ScreenshotKey(jobID, shotID), true
}
