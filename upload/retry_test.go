package upload

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_WaitFor(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts: 5,
		InitialWait: time.Second,
		Multiplier:  2,
		MaxWait:     5 * time.Second,
	}

	assert.Equal(t, 1*time.Second, policy.WaitFor(1))
	assert.Equal(t, 2*time.Second, policy.WaitFor(2))
	assert.Equal(t, 4*time.Second, policy.WaitFor(3))
	assert.Equal(t, 5*time.Second, policy.WaitFor(4), "backoff is capped at MaxWait")
	assert.Equal(t, 5*time.Second, policy.WaitFor(10))
}

func TestRetryPolicy_NoCap(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts: 3,
		InitialWait: time.Second,
		Multiplier:  3,
	}

	assert.Equal(t, 9*time.Second, policy.WaitFor(3))
}

func TestDefaultRetryPolicy(t *testing.T) {
	policy := DefaultRetryPolicy()

	assert.Equal(t, 3, policy.MaxAttempts)
	assert.NotZero(t, policy.InitialWait)
}
