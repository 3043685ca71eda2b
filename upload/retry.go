package upload

import "time"

// RetryPolicy is a bounded-attempt policy with exponential backoff. It is
// plain data consumed by the coordinator, independent of any scheduling
// primitive, so the same policy works for sequential and pooled uploads.
type RetryPolicy struct {
	// MaxAttempts is the total number of upload attempts per part, including
	// the first one. Minimum 1.
	MaxAttempts int

	// InitialWait is the backoff before the second attempt.
	InitialWait time.Duration

	// Multiplier grows the wait after every failed attempt.
	Multiplier float64

	// MaxWait caps the backoff. Zero means no cap.
	MaxWait time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured:
// 3 attempts, 1s initial wait, doubling, capped at 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		InitialWait: 1 * time.Second,
		Multiplier:  2,
		MaxWait:     30 * time.Second,
	}
}

// WaitFor returns the backoff to apply after the given failed attempt
// (1-based).
func (p RetryPolicy) WaitFor(attempt int) time.Duration {
	wait := p.InitialWait
	for i := 1; i < attempt; i++ {
		wait = time.Duration(float64(wait) * p.Multiplier)
	}
	if p.MaxWait > 0 && wait > p.MaxWait {
		wait = p.MaxWait
	}
	return wait
}
