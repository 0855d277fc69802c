package queue

import (
	"math/rand/v2"
	"time"
)

const (
	backoffBase = 10 * time.Second
	backoffCap  = 15 * time.Minute
	// backoffJitter is the exclusive upper bound of the uniform jitter added
	// to every retry delay.
	backoffJitter = time.Second
)

// backoffDelay returns the retry delay after the attempt-th failure
// (1-based): base·2^(attempt−1) capped at backoffCap, plus uniform jitter
// in [0, 1s).
func backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := backoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= backoffCap {
			delay = backoffCap
			break
		}
	}
	jitter := time.Duration(rand.Int64N(int64(backoffJitter / time.Millisecond))) * time.Millisecond //nolint:gosec // G404: backoff jitter is not security-sensitive
	return delay + jitter
}
