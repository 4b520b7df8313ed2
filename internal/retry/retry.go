// Package retry provides a small bounded-retry policy with exponential
// backoff and jitter.
package retry

import (
	"math"
	"math/rand"
	"time"
)

// Policy retries an operation a bounded number of times. Only errors the
// Retryable predicate accepts are retried; everything else propagates
// immediately.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration
	// Retryable decides whether an error is worth another attempt.
	// A nil predicate retries every error.
	Retryable func(error) bool

	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

// New creates a policy with the given attempt budget and a 60 second
// backoff ceiling.
func New(maxAttempts int, retryable func(error) bool) *Policy {
	return &Policy{
		MaxAttempts: maxAttempts,
		MaxBackoff:  60 * time.Second,
		Retryable:   retryable,
		sleep:       time.Sleep,
	}
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempt budget is exhausted. The final error is returned on exhaustion.
func (p *Policy) Do(fn func() error) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt >= p.MaxAttempts {
			return err
		}
		sleep(p.backoff(attempt))
	}
}

// backoff returns a randomized delay of up to 2^attempt seconds, capped at
// MaxBackoff (exponential backoff with full jitter).
func (p *Policy) backoff(attempt int) time.Duration {
	ceiling := time.Duration(math.Pow(2, float64(attempt))) * time.Second
	if ceiling > p.MaxBackoff {
		ceiling = p.MaxBackoff
	}
	return time.Duration(rand.Int63n(int64(ceiling) + 1))
}
