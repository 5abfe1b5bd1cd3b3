package registry

import (
	"testing"

	"github.com/regbridge/subtrack/internal/core/domain"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to domain.Status
		want     bool
	}{
		{domain.StatusPending, domain.StatusValidating, true},
		{domain.StatusPending, domain.StatusCancelled, true},
		{domain.StatusPending, domain.StatusAccepted, false},
		{domain.StatusValidating, domain.StatusRejected, true},
		{domain.StatusTransmitted, domain.StatusAccepted, true},
		{domain.StatusRetry, domain.StatusQueued, true},
		{domain.StatusAccepted, domain.StatusPending, false},
		{domain.StatusFailed, domain.StatusRetry, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestSelfTransitionRejected(t *testing.T) {
	for from := range transitionTable {
		if CanTransition(from, from) {
			t.Errorf("self transition allowed for %s", from)
		}
	}
}

func TestTerminalStatusesHaveNoSuccessors(t *testing.T) {
	for from, successors := range transitionTable {
		if from.Terminal() && len(successors) != 0 {
			t.Errorf("terminal status %s has successors %v", from, successors)
		}
		if !from.Terminal() && len(successors) == 0 {
			t.Errorf("non-terminal status %s has no successors", from)
		}
	}
}

func TestEveryNonTerminalCanFail(t *testing.T) {
	// Every live status must be able to reach failed, timeout and cancelled
	// so sweeps and operators are never stuck.
	for from := range transitionTable {
		if from.Terminal() {
			continue
		}
		for _, to := range []domain.Status{domain.StatusFailed, domain.StatusTimeout, domain.StatusCancelled} {
			if !CanTransition(from, to) {
				t.Errorf("%s cannot reach %s", from, to)
			}
		}
	}
}
