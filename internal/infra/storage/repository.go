package storage

import (
	"context"
	"errors"
	"time"

	"github.com/regbridge/subtrack/internal/core/domain"
)

var (
	// ErrSubmissionNotFound is returned when a submission doesn't exist
	ErrSubmissionNotFound = errors.New("submission not found")

	// ErrEndpointNotFound is returned when an endpoint doesn't exist
	ErrEndpointNotFound = errors.New("endpoint not found")

	// ErrRecipientNotFound is returned when a recipient doesn't exist
	ErrRecipientNotFound = errors.New("recipient not found")

	// ErrItemNotFound is returned when a delivery item doesn't exist
	ErrItemNotFound = errors.New("delivery item not found")
)

// SubmissionRepository handles submission and transition storage.
type SubmissionRepository interface {
	// Create persists a new submission record. History rows are appended
	// by ApplyTransition only, so a fresh submission has no history.
	Create(ctx context.Context, sub *domain.Submission) error

	// ApplyTransition persists the updated record and appends the
	// transition row in a single transaction.
	ApplyTransition(ctx context.Context, sub *domain.Submission, tr domain.Transition) error

	// Get retrieves a submission without history.
	Get(ctx context.Context, id string) (*domain.Submission, error)

	// GetHistory retrieves the ordered transition history.
	GetHistory(ctx context.Context, id string) ([]domain.Transition, error)

	// ListActive retrieves all non-terminal submissions (crash recovery).
	ListActive(ctx context.Context) ([]*domain.Submission, error)

	// ListByStatus retrieves submissions in a given status, optionally
	// scoped to an organization. Empty orgID means all organizations.
	ListByStatus(ctx context.Context, status domain.Status, orgID string, limit int) ([]*domain.Submission, error)

	// Archive moves terminal submissions completed before cutoff to the
	// archive table and returns how many were moved.
	Archive(ctx context.Context, cutoff time.Time) (int, error)
}

// DeliveryRepository handles retryable delivery item storage.
type DeliveryRepository interface {
	// Save inserts or updates a delivery item.
	Save(ctx context.Context, item *domain.DeliveryItem) error

	// Get retrieves a delivery item.
	Get(ctx context.Context, id string) (*domain.DeliveryItem, error)

	// GetDue retrieves items in the given state whose next_attempt_at has
	// elapsed, oldest first.
	GetDue(ctx context.Context, state domain.DeliveryState, now time.Time, limit int) ([]*domain.DeliveryItem, error)

	// UpdateState transitions an item only if it is still in from; returns
	// false when another worker got there first.
	UpdateState(ctx context.Context, id string, from, to domain.DeliveryState) (bool, error)

	// ResetInFlight moves items stuck in in_flight back to pending_retry
	// (boot recovery after a crash mid-send).
	ResetInFlight(ctx context.Context) (int, error)

	// CountByState returns the number of items per state.
	CountByState(ctx context.Context) (map[domain.DeliveryState]int, error)
}

// EndpointRepository handles webhook endpoint configuration.
type EndpointRepository interface {
	Save(ctx context.Context, ep *domain.Endpoint) error
	Get(ctx context.Context, id string) (*domain.Endpoint, error)
	ListActive(ctx context.Context) ([]*domain.Endpoint, error)
	SetActive(ctx context.Context, id string, active bool) error
}

// RecipientRepository handles notification recipient configuration.
type RecipientRepository interface {
	Save(ctx context.Context, rc *domain.Recipient) error
	Get(ctx context.Context, id string) (*domain.Recipient, error)
	ListActive(ctx context.Context) ([]*domain.Recipient, error)
	SetActive(ctx context.Context, id string, active bool) error
}
