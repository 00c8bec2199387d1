// -----------------------------------------------------------------------
// Browser Job - job record, configuration snapshot and result
// -----------------------------------------------------------------------

package models

import (
	"time"
)

// JobStatus represents the lifecycle state of a browser job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal returns true for completed and failed
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo enforces pending -> running -> completed|failed.
// pending -> failed is allowed for jobs refused by the queue or interrupted by a restart.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusRunning || next == JobStatusFailed
	case JobStatusRunning:
		return next.IsTerminal()
	default:
		return false
	}
}

// ResultStatus is the outcome reported inside a JobResult
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultFail    ResultStatus = "fail"
)

// Job is the externally visible job record.
// Result and CompletedAt are set only once Status is terminal.
type Job struct {
	ID          string     `json:"id"`
	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Config      JobConfig  `json:"config"`
	Result      *JobResult `json:"result,omitempty"`
}

// NewJob creates a pending job for an already validated config
func NewJob(id string, config JobConfig, now time.Time) *Job {
	return &Job{
		ID:        id,
		Status:    JobStatusPending,
		CreatedAt: now.UTC(),
		Config:    config,
	}
}

// Running returns a copy of the job in the running state
func (j *Job) Running() *Job {
	next := *j
	next.Status = JobStatusRunning
	next.Result = nil
	next.CompletedAt = nil
	return &next
}

// Finished returns a copy of the job in the terminal state matching result
func (j *Job) Finished(result *JobResult, now time.Time) *Job {
	next := *j
	next.Status = JobStatusCompleted
	if result.Status != ResultSuccess {
		next.Status = JobStatusFailed
	}
	completed := now.UTC()
	next.CompletedAt = &completed
	next.Result = result
	return &next
}

// JobConfig is the immutable configuration snapshot supplied at submission
type JobConfig struct {
	DeviceType  DeviceType   `json:"deviceType" yaml:"deviceType" validate:"required,oneof=desktop mobile tablet"`
	BrowserType BrowserType  `json:"browserType" yaml:"browserType" validate:"required,oneof=chromium firefox webkit"`
	Actions     []ActionSpec `json:"actions" yaml:"actions" validate:"required,min=1,max=50,dive"`
	Options     *JobOptions  `json:"options,omitempty" yaml:"options,omitempty" validate:"omitempty"`
}

// JobOptions carries per-job overrides
type JobOptions struct {
	Timeout       *int      `json:"timeout,omitempty" yaml:"timeout,omitempty" validate:"omitempty,min=1000,max=300000"` // Default per-action timeout in ms
	Viewport      *Viewport `json:"viewport,omitempty" yaml:"viewport,omitempty" validate:"omitempty"`
	UserAgent     string    `json:"userAgent,omitempty" yaml:"userAgent,omitempty" validate:"omitempty,max=1024"`
	GenerateTrace bool      `json:"generateTrace,omitempty" yaml:"generateTrace,omitempty"`
}

// Viewport is a browser window size in CSS pixels
type Viewport struct {
	Width  int `json:"width" yaml:"width" validate:"min=320,max=1920"`
	Height int `json:"height" yaml:"height" validate:"min=240,max=1080"`
}

// JobResult is the terminal outcome of a run
type JobResult struct {
	Status     ResultStatus `json:"status"`
	Duration   int64        `json:"duration"` // Milliseconds
	Timestamp  time.Time    `json:"timestamp"`
	Statistics *Statistics  `json:"statistics,omitempty"`
	Error      *JobError    `json:"error,omitempty"`
	Trace      *TraceInfo   `json:"trace,omitempty"`
}

// Statistics are collected over the whole browser session.
// LoadTime and DOMContentLoaded are relative to the start of the most recent goto.
type Statistics struct {
	LoadTime         int64    `json:"loadTime"`
	DOMContentLoaded int64    `json:"domContentLoaded"`
	NetworkRequests  int      `json:"networkRequests"`
	TotalSize        int64    `json:"totalSize"`
	Screenshots      []string `json:"screenshots"`
	FinalURL         string   `json:"finalUrl"`
}

// JobError describes why a job failed
type JobError struct {
	Message    string `json:"message"`
	Stack      string `json:"stack,omitempty"`
	Screenshot string `json:"screenshot,omitempty"`
}

// TraceInfo holds per-step records and, when generated, the trace bundle location
type TraceInfo struct {
	Steps          []TraceStep `json:"steps"`
	TraceFile      string      `json:"traceFile,omitempty"`
	TraceViewerURL string      `json:"traceViewerUrl,omitempty"`
}

// TraceStep records one executed action
type TraceStep struct {
	Action     string    `json:"action"`
	Timestamp  time.Time `json:"timestamp"`
	Duration   int64     `json:"duration"` // Milliseconds
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	Screenshot string    `json:"screenshot,omitempty"`
}

// SubmitResponse is returned with 202 Accepted
type SubmitResponse struct {
	JobID   string    `json:"jobId"`
	Status  JobStatus `json:"status"`
	Message string    `json:"message"`
}

// JobEvent is published on every job state transition
type JobEvent struct {
	JobID     string     `json:"jobId"`
	Status    JobStatus  `json:"status"`
	Timestamp time.Time  `json:"timestamp"`
	Result    *JobResult `json:"result,omitempty"`
}

// JobStepEvent is published after every executed action
type JobStepEvent struct {
	JobID string    `json:"jobId"`
	Index int       `json:"index"` // Zero-based position in the action list
	Step  TraceStep `json:"step"`
}
