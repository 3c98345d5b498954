// Package retry provides error classification and capped exponential backoff
// for provider and tool calls.
package retry

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Policy configures a retry loop.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultPolicy returns the policy used across the daemon.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// nonRetryable is the fixed vocabulary of fatal error fragments. Unknown
// errors are retried optimistically; extend this list explicitly as new
// fatal cases are discovered.
var nonRetryable = []string{
	"not found",
	"404",
	"api key",
	"unauthorized",
	"401",
	"403",
	"forbidden",
	"invalid",
}

// IsRetryable reports whether an error is worth retrying. An error is fatal
// iff its lower-cased message contains one of the non-retryable fragments.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range nonRetryable {
		if strings.Contains(msg, fragment) {
			return false
		}
	}

	return true
}

// Do executes op, retrying transient failures with capped exponential
// backoff. Fatal errors and exhausted attempts return the last error
// unchanged. The backoff sleep respects ctx cancellation.
func Do[T any](ctx context.Context, policy Policy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	if policy.BaseDelay <= 0 {
		policy.BaseDelay = time.Second
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 30 * time.Second
	}

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			log.Debug().
				Str("op", name).
				Err(err).
				Msg("Error is not retryable, failing immediately")
			return zero, err
		}

		if attempt == policy.MaxRetries {
			break
		}

		delay := Backoff(policy, attempt)
		log.Warn().
			Str("op", name).
			Int("attempt", attempt+1).
			Int("maxRetries", policy.MaxRetries).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying after transient error")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}

	return zero, lastErr
}

// Backoff returns the sleep before the next attempt: min(base*2^attempt, cap).
func Backoff(policy Policy, attempt int) time.Duration {
	delay := policy.BaseDelay << uint(attempt)
	if delay > policy.MaxDelay || delay <= 0 {
		return policy.MaxDelay
	}
	return delay
}
