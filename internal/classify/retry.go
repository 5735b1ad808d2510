package classify

import "time"

// RetryPolicy bounds the number of consecutive transient-failure retries
// for a single turn (default 5 attempts). A successful response resets
// the counter.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     BackoffPolicy
}

// DefaultRetryPolicy returns the default 5-attempt policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, Backoff: DefaultBackoffPolicy()}
}

// Counter tracks consecutive retry attempts for one in-flight turn.
type Counter struct {
	policy  RetryPolicy
	attempt int
}

// NewCounter creates a counter bound to policy, starting at zero attempts.
func NewCounter(policy RetryPolicy) *Counter {
	return &Counter{policy: policy}
}

// Reset clears the attempt counter; called on a successful response.
func (c *Counter) Reset() { c.attempt = 0 }

// Attempts returns the number of retries consumed so far.
func (c *Counter) Attempts() int { return c.attempt }

// ExhaustedBudget reports whether the retry budget is already spent.
func (c *Counter) ExhaustedBudget() bool { return c.attempt >= c.policy.MaxAttempts }

// NextDelay consumes one attempt from the budget and returns the delay to
// wait before retrying, or ok=false if the budget is exhausted.
func (c *Counter) NextDelay() (delay time.Duration, ok bool) {
	if c.ExhaustedBudget() {
		return 0, false
	}
	c.attempt++
	return c.policy.Backoff.Compute(c.attempt), true
}
