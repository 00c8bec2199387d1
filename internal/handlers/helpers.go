package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/ghostrun/internal/services/validation"
)

// JobsPathPrefix is the mount point of the job resource
const JobsPathPrefix = "/api/v1/jobs/"

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"error": message,
	})
}

// WriteValidationError writes 400 with the structured problem list
func WriteValidationError(w http.ResponseWriter, err *validation.ValidationError) error {
	return WriteJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error":   "Invalid job configuration",
		"details": err.Details,
	})
}

// WriteBlob writes an artifact body with caching headers
func WriteBlob(w http.ResponseWriter, contentType string, data []byte) error {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, err := w.Write(data)
	return err
}

// JobPathSegments splits /api/v1/jobs/{id}/... into its segments after the prefix
func JobPathSegments(path string) []string {
	rest, ok := strings.CutPrefix(path, JobsPathPrefix)
	if !ok {
		return nil
	}
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

// GetLimitParam reads a positive limit query parameter, capped at max.
// Returns ok=false for malformed values.
func GetLimitParam(r *http.Request, max int) (limit int, ok bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, false
	}
	if limit > max {
		limit = max
	}
	return limit, true
}
