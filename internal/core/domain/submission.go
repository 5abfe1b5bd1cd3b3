package domain

import "time"

// Submission tracks one document through the authority submission lifecycle.
type Submission struct {
	ID           string            `json:"id"`
	DocumentID   string            `json:"document_id"`
	OrgID        string            `json:"org_id"`
	Type         SubmissionType    `json:"type"`
	Priority     Priority          `json:"priority"`
	Status       Status            `json:"status"`
	SubmittedBy  string            `json:"submitted_by"`
	AuthorityRef string            `json:"authority_ref,omitempty"`
	AuthorityMsg string            `json:"authority_msg,omitempty"`
	RetryCount   int               `json:"retry_count"`
	MaxRetries   int               `json:"max_retries"`
	TimeoutAt    time.Time         `json:"timeout_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	History      []Transition      `json:"history,omitempty"`
}

// Transition is one immutable entry of a submission's status history.
type Transition struct {
	From      Status         `json:"from_status"`
	To        Status         `json:"to_status"`
	Reason    string         `json:"reason"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Duration  time.Duration  `json:"duration"`
}

type SubmissionType string

const (
	TypeInvoice    SubmissionType = "invoice"
	TypeCreditNote SubmissionType = "credit_note"
	TypeReceipt    SubmissionType = "receipt"
	TypeReport     SubmissionType = "report"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank orders priorities for minimum-priority recipient filters.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityNormal:
		return 1
	case PriorityHigh:
		return 2
	case PriorityUrgent:
		return 3
	default:
		return 1
	}
}

type Status string

const (
	StatusPending      Status = "pending"
	StatusValidating   Status = "validating"
	StatusValidated    Status = "validated"
	StatusQueued       Status = "queued"
	StatusTransmitting Status = "transmitting"
	StatusTransmitted  Status = "transmitted"
	StatusProcessing   Status = "processing"
	StatusAcknowledged Status = "acknowledged"
	StatusAccepted     Status = "accepted"
	StatusRejected     Status = "rejected"
	StatusFailed       Status = "failed"
	StatusTimeout      Status = "timeout"
	StatusCancelled    Status = "cancelled"
	StatusRetry        Status = "retry"
)

// Terminal reports whether no further transitions are legal from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusAccepted, StatusRejected, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}
