package service

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy decides how long a failed task waits before it is eligible again.
// The zero value retries immediately.
type RetryPolicy struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns the wait before the next attempt, given how many attempts have already run.
func (p RetryPolicy) Delay(attempts int) time.Duration {
	if p.Initial <= 0 {
		return 0
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < attempts; i++ {
		delay = b.NextBackOff()
	}
	return delay
}
