package domain

import "time"

// DeliveryItem is one unit of work for the reliable delivery engine.
// It is owned by the engine from enqueue until a terminal state.
type DeliveryItem struct {
	ID            string            `json:"id"`
	Kind          DeliveryKind      `json:"kind"`
	Channel       string            `json:"channel"`
	Target        string            `json:"target"`
	Payload       []byte            `json:"payload"`
	Headers       map[string]string `json:"headers,omitempty"`
	State         DeliveryState     `json:"state"`
	Attempts      int               `json:"attempts"`
	MaxAttempts   int               `json:"max_attempts"`
	NextAttemptAt time.Time         `json:"next_attempt_at"`
	LastError     string            `json:"last_error,omitempty"`
	EventID       string            `json:"event_id,omitempty"`
	SubmissionID  string            `json:"submission_id,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

type DeliveryKind string

const (
	DeliveryKindWebhook      DeliveryKind = "webhook"
	DeliveryKindNotification DeliveryKind = "notification"
)

type DeliveryState string

const (
	DeliveryPending      DeliveryState = "pending"
	DeliveryInFlight     DeliveryState = "in_flight"
	DeliveryPendingRetry DeliveryState = "pending_retry"
	DeliveryDelivered    DeliveryState = "delivered"
	DeliveryFailed       DeliveryState = "failed"
	DeliveryCancelled    DeliveryState = "cancelled"
)

// TerminalDelivery reports whether the engine is done with this state.
func (s DeliveryState) Terminal() bool {
	switch s {
	case DeliveryDelivered, DeliveryFailed, DeliveryCancelled:
		return true
	}
	return false
}

// DeadLetter is a failed delivery parked for manual remediation.
type DeadLetter struct {
	ItemID       string    `json:"item_id"`
	Kind         string    `json:"kind"`
	Target       string    `json:"target"`
	LastError    string    `json:"last_error"`
	Attempts     int       `json:"attempts"`
	SubmissionID string    `json:"submission_id,omitempty"`
	FailedAt     time.Time `json:"failed_at"`
}
