package client

import (
	"math"
	"time"

	"github.com/rs/zerolog"
)

// Policy bounds a retried operation: up to MaxAttempts tries with
// Backoff^attempt seconds between them.
type Policy struct {
	MaxAttempts int
	Backoff     float64
}

// DefaultPolicy matches the coordinator contract: 3 attempts with
// delays of 2 and 4 seconds.
var DefaultPolicy = Policy{MaxAttempts: 3, Backoff: 2}

// Do runs fn under the policy. Idempotent operations opt in;
// non-idempotent ones (heartbeat, progress PUT) must not use it.
func Do(logger zerolog.Logger, name string, policy Policy, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if attempt < policy.MaxAttempts {
			delay := time.Duration(math.Pow(policy.Backoff, float64(attempt))) * time.Second
			logger.Warn().
				Err(lastErr).
				Str("op", name).
				Int("attempt", attempt).
				Int("max_attempts", policy.MaxAttempts).
				Dur("retry_in", delay).
				Msg("Operation failed, retrying")
			time.Sleep(delay)
		} else {
			logger.Error().
				Err(lastErr).
				Str("op", name).
				Int("attempts", policy.MaxAttempts).
				Msg("Operation failed, giving up")
		}
	}
	return lastErr
}
