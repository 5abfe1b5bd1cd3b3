package domain

import "time"

// StatusEvent is published on every successful submission transition.
type StatusEvent struct {
	EventID      string            `json:"event_id"`
	EventType    string            `json:"event_type"`
	SubmissionID string            `json:"submission_id"`
	DocumentID   string            `json:"document_id"`
	OrgID        string            `json:"org_id"`
	OldStatus    Status            `json:"old_status"`
	NewStatus    Status            `json:"new_status"`
	Priority     Priority          `json:"priority"`
	Reason       string            `json:"reason,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
	Data         map[string]string `json:"data,omitempty"`
}

const (
	EventStatusChanged        = "submission.status_changed"
	EventSubmissionCreated    = "submission.created"
	EventSubmissionAccepted   = "submission.accepted"
	EventSubmissionRejected   = "submission.rejected"
	EventSubmissionFailed     = "submission.failed"
	EventSubmissionTimeout    = "submission.timeout"
	EventSubmissionCancelled  = "submission.cancelled"
	EventDeliveryDeadLettered = "delivery.dead_lettered"
)

// EventTypeFor maps a target status to its specific event type. Statuses
// without a dedicated type fall back to the generic status_changed.
func EventTypeFor(to Status) string {
	switch to {
	case StatusAccepted:
		return EventSubmissionAccepted
	case StatusRejected:
		return EventSubmissionRejected
	case StatusFailed:
		return EventSubmissionFailed
	case StatusTimeout:
		return EventSubmissionTimeout
	case StatusCancelled:
		return EventSubmissionCancelled
	default:
		return EventStatusChanged
	}
}
