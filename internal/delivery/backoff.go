package delivery

import (
	"math"
	"time"

	"github.com/regbridge/subtrack/internal/core/config"
)

// Backoff returns the delay before the next attempt: exponential in the
// number of attempts already made, capped at MaxBackoff. attempts is 1 for
// the first failed attempt.
func Backoff(cfg config.DeliveryConfig, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	mult := cfg.BackoffMultiplier
	if mult < 1 {
		mult = 2.0
	}

	delay := float64(cfg.BaseBackoff) * math.Pow(mult, float64(attempts-1))
	if delay > float64(cfg.MaxBackoff) || delay < 0 {
		return cfg.MaxBackoff
	}
	return time.Duration(delay)
}
