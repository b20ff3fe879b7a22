package scheduler

import (
	"time"
)

// MaxAttempts is the number of failed attempts after which a relay event is
// parked as failed for operator triage.
const MaxAttempts = 5

const maxBackoffMinutes = 60

// Backoff returns the delay before retry number attempt: min(60, 2^attempt)
// minutes.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	minutes := maxBackoffMinutes
	if attempt < 6 {
		minutes = min(maxBackoffMinutes, 1<<attempt)
	}
	return time.Duration(minutes) * time.Minute
}

// Exhausted reports whether attempt has reached the failure threshold.
func Exhausted(attempt int) bool {
	return attempt >= MaxAttempts
}
