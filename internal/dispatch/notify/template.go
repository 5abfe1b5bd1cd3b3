package notify

import (
	"strings"

	"github.com/regbridge/subtrack/internal/core/domain"
)

// Notification types keyed off status events.
const (
	TypeStatusChanged = "status_changed"
	TypeAccepted      = "submission_accepted"
	TypeRejected      = "submission_rejected"
	TypeFailed        = "submission_failed"
	TypeTimeout       = "submission_timeout"
	TypeCancelled     = "submission_cancelled"
)

// Template is a channel-agnostic message with {placeholder} slots.
type Template struct {
	Subject string
	Body    string
}

// Render substitutes {name} placeholders from vars. Unknown placeholders
// are left intact so a bad template is visible rather than silent.
func (t Template) Render(vars map[string]string) (string, string) {
	return substitute(t.Subject, vars), substitute(t.Body, vars)
}

func substitute(s string, vars map[string]string) string {
	for k, v := range vars {
		s = strings.ReplaceAll(s, "{"+k+"}", v)
	}
	return s
}

// defaultTemplates cover every notification type. A missing type falls back
// to TypeStatusChanged.
var defaultTemplates = map[string]Template{
	TypeStatusChanged: {
		Subject: "Submission {submission_id} is now {new_status}",
		Body:    "Document {document_id} moved from {old_status} to {new_status}. Reason: {reason}",
	},
	TypeAccepted: {
		Subject: "Submission {submission_id} accepted",
		Body:    "Document {document_id} was accepted by the authority.",
	},
	TypeRejected: {
		Subject: "Submission {submission_id} rejected",
		Body:    "Document {document_id} was rejected by the authority. Reason: {reason}",
	},
	TypeFailed: {
		Subject: "Submission {submission_id} failed",
		Body:    "Document {document_id} failed processing. Reason: {reason}",
	},
	TypeTimeout: {
		Subject: "Submission {submission_id} timed out",
		Body:    "Document {document_id} did not complete within its SLA window.",
	},
	TypeCancelled: {
		Subject: "Submission {submission_id} cancelled",
		Body:    "Document {document_id} was cancelled. Reason: {reason}",
	},
}

// notifTypeFor maps an event type to its notification type.
func notifTypeFor(eventType string) string {
	switch eventType {
	case domain.EventSubmissionAccepted:
		return TypeAccepted
	case domain.EventSubmissionRejected:
		return TypeRejected
	case domain.EventSubmissionFailed:
		return TypeFailed
	case domain.EventSubmissionTimeout:
		return TypeTimeout
	case domain.EventSubmissionCancelled:
		return TypeCancelled
	default:
		return TypeStatusChanged
	}
}
