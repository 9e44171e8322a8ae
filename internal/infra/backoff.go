package infra

import (
	"time"
)

const (
	// Reconnect backoff constants
	baseDelay = 1 * time.Second
	maxDelay  = 60 * time.Second

	// Request retry backoff constants
	retryBaseDelay  = 250 * time.Millisecond
	retryMaxAttempt = 6
)

// CalculateBackoff returns the exponential reconnect delay for a given retry count.
// Logic: baseDelay * 2^retryCount, capped at maxDelay.
// If retryCount is negative, it returns baseDelay.
func CalculateBackoff(retryCount int) time.Duration {
	if retryCount < 0 {
		return baseDelay
	}

	// 2^30 is already > 1 billion seconds > maxDelay.
	if retryCount > 30 {
		return maxDelay
	}

	backoff := baseDelay * time.Duration(1<<retryCount)

	if backoff > maxDelay {
		return maxDelay
	}

	return backoff
}

// ComputeBackoff returns the delay before retrying a request.
// A positive retryAfter from the server is returned verbatim. Otherwise the
// delay is 250ms * 2^min(attempt, 6) plus a fixed 20% (floored to the ms).
func ComputeBackoff(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt > retryMaxAttempt {
		attempt = retryMaxAttempt
	}
	exp := retryBaseDelay * time.Duration(1<<attempt)
	extra := (exp / 5).Truncate(time.Millisecond)
	return exp + extra
}
