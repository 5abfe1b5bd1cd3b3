package domain

import "time"

// ErrorReport is an internally raised error tied to a submission, fed to
// the classification engine by the error processor.
type ErrorReport struct {
	ID           string         `json:"id"`
	SubmissionID string         `json:"submission_id"`
	Source       string         `json:"source"`
	Message      string         `json:"message"`
	Code         string         `json:"code,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

// Severity of a classified error report.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
	SeverityFatal    Severity = "fatal"
)
