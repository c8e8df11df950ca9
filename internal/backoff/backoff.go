// Package backoff computes the exponential retry delay for failed jobs.
package backoff

import (
	"math"
	"time"
)

// Delay returns the wait before a job that has failed attempts times (after
// incrementing) should become eligible again: 5^attempts minutes. attempts=1
// yields 5 minutes, attempts=2 yields 25 minutes, attempts=3 yields 125
// minutes.
func Delay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	minutes := math.Pow(5, float64(attempts))
	return time.Duration(minutes * float64(time.Minute))
}

// NextRetryAt returns the timestamp a failed job becomes eligible again,
// measured from now.
func NextRetryAt(now time.Time, attempts int) time.Time {
	return now.Add(Delay(attempts))
}
