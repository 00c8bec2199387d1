package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ghostrun/internal/common"
	"github.com/ternarybob/ghostrun/internal/interfaces"
	"github.com/ternarybob/ghostrun/internal/jobs"
	"github.com/ternarybob/ghostrun/internal/models"
	"github.com/ternarybob/ghostrun/internal/services/validation"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

const (
	maxSubmitBody = 1 << 20
	maxListLimit  = 500
)

// JobHandler serves the browser job REST API
type JobHandler struct {
	service JobService
	limiter *rate.Limiter // nil disables submission throttling
	logger  arbor.ILogger
}

// NewJobHandler creates the handler. Submissions are throttled by config when SubmitRate > 0.
func NewJobHandler(service JobService, config common.APIConfig, logger arbor.ILogger) *JobHandler {
	h := &JobHandler{
		service: service,
		logger:  logger,
	}
	if config.SubmitRate > 0 {
		burst := config.SubmitBurst
		if burst < 1 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(config.SubmitRate), burst)
	}
	return h
}

// SubmitJobHandler accepts a job config as JSON or YAML and answers 202
func (h *JobHandler) SubmitJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if h.limiter != nil && !h.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		WriteError(w, http.StatusTooManyRequests, "Too many job submissions, retry shortly")
		return
	}

	config, err := decodeJobConfig(r.Body, r.Header.Get("Content-Type"))
	if err != nil {
		WriteValidationError(w, validation.NewDecodeError(err))
		return
	}

	job, err := h.service.Submit(r.Context(), config)
	if err != nil {
		var validationErr *validation.ValidationError
		switch {
		case errors.As(err, &validationErr):
			WriteValidationError(w, validationErr)
		case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrDispatcherStopped):
			w.Header().Set("Retry-After", "5")
			WriteError(w, http.StatusServiceUnavailable, "Job queue is unavailable, retry later")
		default:
			h.logger.Error().Err(err).Msg("Failed to submit job")
			WriteError(w, http.StatusInternalServerError, "Failed to submit job")
		}
		return
	}

	WriteJSON(w, http.StatusAccepted, models.SubmitResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Message: "Job submitted successfully",
	})
}

// decodeJobConfig rejects unknown fields in either encoding
func decodeJobConfig(body io.Reader, contentType string) (*models.JobConfig, error) {
	var config models.JobConfig
	body = io.LimitReader(body, maxSubmitBody)

	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch mediaType {
	case "application/yaml", "application/x-yaml", "text/yaml":
		decoder := yaml.NewDecoder(body)
		decoder.KnownFields(true)
		if err := decoder.Decode(&config); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errors.New("request body is empty")
			}
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
	default:
		decoder := json.NewDecoder(body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&config); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errors.New("request body is empty")
			}
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
	}
	return &config, nil
}

// ListJobsHandler returns live jobs newest first, filtered by ?status= and ?limit=
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	opts := interfaces.JobListOptions{Status: models.JobStatus(r.URL.Query().Get("status"))}
	switch opts.Status {
	case "", models.JobStatusPending, models.JobStatusRunning, models.JobStatusCompleted, models.JobStatusFailed:
	default:
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("Unknown status %q", opts.Status))
		return
	}

	limit, ok := GetLimitParam(r, maxListLimit)
	if !ok {
		WriteError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	opts.Limit = limit

	list, err := h.service.ListJobs(r.Context(), opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if list == nil {
		list = []*models.Job{}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  list,
		"count": len(list),
	})
}

// GetJobHandler returns the current job snapshot
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	segments := JobPathSegments(r.URL.Path)
	if len(segments) != 1 {
		WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	job, err := h.service.GetJob(r.Context(), segments[0])
	if err != nil {
		h.writeLookupError(w, err, "Job not found")
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

// DeleteJobHandler removes a job and its artifacts
func (h *JobHandler) DeleteJobHandler(w http.ResponseWriter, r *http.Request) {
	segments := JobPathSegments(r.URL.Path)
	if len(segments) != 1 {
		WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	jobID := segments[0]

	if err := h.service.DeleteJob(r.Context(), jobID); err != nil {
		if errors.Is(err, jobs.ErrInvalidJobID) {
			WriteError(w, http.StatusBadRequest, "Invalid job id")
			return
		}
		h.writeLookupError(w, err, "Job not found")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Job deleted successfully",
		"jobId":   jobID,
	})
}

// GetTraceHandler serves the trace bundle as a zip download
func (h *JobHandler) GetTraceHandler(w http.ResponseWriter, r *http.Request) {
	segments := JobPathSegments(r.URL.Path)
	if len(segments) != 2 || segments[1] != "trace" {
		WriteError(w, http.StatusNotFound, "Trace not found")
		return
	}
	jobID := segments[0]

	data, err := h.service.GetTrace(r.Context(), jobID)
	if err != nil {
		h.writeLookupError(w, err, "Trace not found")
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="trace-%s.zip"`, jobID))
	WriteBlob(w, models.ContentTypeZip, data)
}

// GetScreenshotHandler serves one stored PNG
func (h *JobHandler) GetScreenshotHandler(w http.ResponseWriter, r *http.Request) {
	segments := JobPathSegments(r.URL.Path)
	if len(segments) != 3 || segments[1] != "screenshots" {
		WriteError(w, http.StatusNotFound, "Screenshot not found")
		return
	}

	data, err := h.service.GetScreenshot(r.Context(), segments[0], segments[2])
	if err != nil {
		h.writeLookupError(w, err, "Screenshot not found")
		return
	}

	WriteBlob(w, models.ContentTypePNG, data)
}

func (h *JobHandler) writeLookupError(w http.ResponseWriter, err error, notFound string) {
	if errors.Is(err, interfaces.ErrJobNotFound) || errors.Is(err, interfaces.ErrArtifactNotFound) {
		WriteError(w, http.StatusNotFound, notFound)
		return
	}
	h.logger.Error().Err(err).Msg("Job lookup failed")
	WriteError(w, http.StatusInternalServerError, "Internal server error")
}
