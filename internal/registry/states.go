package registry

import (
	"fmt"

	"github.com/regbridge/subtrack/internal/core/domain"
)

// transitionTable maps each status to its legal successor set. Terminal
// statuses have no successors.
var transitionTable = map[domain.Status][]domain.Status{
	domain.StatusPending: {
		domain.StatusValidating, domain.StatusCancelled,
		domain.StatusFailed, domain.StatusTimeout,
	},
	domain.StatusValidating: {
		domain.StatusValidated, domain.StatusRejected, domain.StatusRetry,
		domain.StatusCancelled, domain.StatusFailed, domain.StatusTimeout,
	},
	domain.StatusValidated: {
		domain.StatusQueued, domain.StatusCancelled,
		domain.StatusFailed, domain.StatusTimeout,
	},
	domain.StatusQueued: {
		domain.StatusTransmitting, domain.StatusRetry,
		domain.StatusCancelled, domain.StatusFailed, domain.StatusTimeout,
	},
	domain.StatusTransmitting: {
		domain.StatusTransmitted, domain.StatusRetry,
		domain.StatusCancelled, domain.StatusFailed, domain.StatusTimeout,
	},
	domain.StatusTransmitted: {
		domain.StatusProcessing, domain.StatusAcknowledged,
		domain.StatusAccepted, domain.StatusRejected, domain.StatusRetry,
		domain.StatusCancelled, domain.StatusFailed, domain.StatusTimeout,
	},
	domain.StatusProcessing: {
		domain.StatusAcknowledged, domain.StatusAccepted, domain.StatusRejected,
		domain.StatusRetry, domain.StatusCancelled, domain.StatusFailed, domain.StatusTimeout,
	},
	domain.StatusAcknowledged: {
		domain.StatusAccepted, domain.StatusRejected,
		domain.StatusCancelled, domain.StatusFailed, domain.StatusTimeout,
	},
	domain.StatusRetry: {
		domain.StatusValidating, domain.StatusQueued, domain.StatusTransmitting,
		domain.StatusCancelled, domain.StatusFailed, domain.StatusTimeout,
	},
	domain.StatusAccepted:  {},
	domain.StatusRejected:  {},
	domain.StatusFailed:    {},
	domain.StatusTimeout:   {},
	domain.StatusCancelled: {},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to domain.Status) bool {
	if from == to {
		return false
	}
	for _, s := range transitionTable[from] {
		if s == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError is returned when a caller requests an illegal
// transition. The caller must not retry with the same target status.
type InvalidTransitionError struct {
	SubmissionID string
	From         domain.Status
	To           domain.Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for submission %s: %s -> %s", e.SubmissionID, e.From, e.To)
}
