package importjob

import (
	"encoding/json"
	"time"
)

// Status is both the job status and the step name of an event.
type Status string

const (
	StatusUploading        Status = "uploading"
	StatusValidating       Status = "validating"
	StatusExtracting       Status = "extracting"
	StatusParsingContent   Status = "parsing_content"
	StatusProcessingAssets Status = "processing_assets"
	StatusMapping          Status = "mapping"
	StatusReady            Status = "ready"
	StatusFailed           Status = "failed"
)

func (s Status) Terminal() bool { return s == StatusReady || s == StatusFailed }

type StepStatus string

const (
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

// Event is one immutable entry of a job's event log.
type Event struct {
	Seq       int        `json:"seq"`
	Step      Status     `json:"step"`
	Status    StepStatus `json:"status"`
	Message   string     `json:"message"`
	Progress  int        `json:"progress"`
	CreatedAt time.Time  `json:"timestamp"`
}

// LogEntry is an event as shown to callers, after collapsing re-reports of
// the same step.
type LogEntry struct {
	Step      Status     `json:"step"`
	Status    StepStatus `json:"status"`
	Message   string     `json:"message"`
	Progress  int        `json:"progress"`
	Timestamp time.Time  `json:"timestamp"`
}

type Job struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organization_id"`
	UserID         string          `json:"user_id"`
	FileName       string          `json:"file_name"`
	FileSize       int64           `json:"file_size"`
	FileURL        string          `json:"file_url,omitempty"`
	Status         Status          `json:"status"`
	Progress       int             `json:"progress"`
	Steps          []LogEntry      `json:"steps,omitempty"`
	Manifest       json.RawMessage `json:"manifest,omitempty"`
	Structure      json.RawMessage `json:"structure,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// Update carries job fields written together with an event. Empty fields are
// left unchanged.
type Update struct {
	FileURL   string
	Manifest  json.RawMessage
	Structure json.RawMessage
}

type ListOpts struct {
	OrganizationID string
	Limit          int
	Offset         int
}
