package classify

import (
	"errors"
	"testing"
	"time"
)

func TestIsOverflowMatchesAllDocumentedPatterns(t *testing.T) {
	for _, phrase := range overflowSubstrings {
		err := errors.New("Error: " + phrase + " for this request")
		if !IsOverflow(err) {
			t.Errorf("expected overflow match for phrase %q", phrase)
		}
	}
}

func TestIsOverflowCaseInsensitive(t *testing.T) {
	err := errors.New("CONTEXT_LENGTH_EXCEEDED: too many tokens")
	if !IsOverflow(err) {
		t.Fatal("expected case-insensitive match")
	}
}

func TestIsOverflowFalseOnUnrelatedError(t *testing.T) {
	if IsOverflow(errors.New("permission denied")) {
		t.Fatal("did not expect overflow match")
	}
	if IsOverflow(nil) {
		t.Fatal("nil error must not be overflow")
	}
}

func TestIsRetryableTransientPatterns(t *testing.T) {
	cases := []string{"connection reset by peer", "503 Service Unavailable", "request timed out"}
	for _, c := range cases {
		if !IsRetryable(errors.New(c)) {
			t.Errorf("expected %q to be retryable", c)
		}
	}
}

func TestIsRetryableFatalErrorsAreNot(t *testing.T) {
	if IsRetryable(errors.New("invalid api key")) {
		t.Fatal("auth errors should not be retryable")
	}
}

func TestBackoffComputeWithRandIsDeterministic(t *testing.T) {
	p := DefaultBackoffPolicy()
	d1 := p.ComputeWithRand(1, 0.0)
	d2 := p.ComputeWithRand(1, 0.0)
	if d1 != d2 {
		t.Fatalf("expected deterministic output, got %v and %v", d1, d2)
	}
	// attempt 1, randomValue 0.0 -> base=1s, jitter=0.5 -> 500ms
	if d1 != 500*time.Millisecond {
		t.Fatalf("got %v, want 500ms", d1)
	}
}

func TestBackoffComputeWithRandClampsBaseBeforeJitter(t *testing.T) {
	p := DefaultBackoffPolicy()
	// huge exponent forces base to clamp to MaxDelay; with zero jitter
	// sample the result should be exactly MaxDelay * JitterMin.
	d := p.ComputeWithRand(10, 0.0)
	want := time.Duration(float64(p.MaxDelay) * p.JitterMin)
	if d != want {
		t.Fatalf("got %v, want %v", d, want)
	}
}

func TestCounterExhaustsAfterMaxAttempts(t *testing.T) {
	c := NewCounter(RetryPolicy{MaxAttempts: 2, Backoff: DefaultBackoffPolicy()})
	if _, ok := c.NextDelay(); !ok {
		t.Fatal("expected first attempt to succeed")
	}
	if _, ok := c.NextDelay(); !ok {
		t.Fatal("expected second attempt to succeed")
	}
	if _, ok := c.NextDelay(); ok {
		t.Fatal("expected budget to be exhausted after MaxAttempts")
	}
}

func TestCounterResetClearsBudget(t *testing.T) {
	c := NewCounter(RetryPolicy{MaxAttempts: 1, Backoff: DefaultBackoffPolicy()})
	c.NextDelay()
	if !c.ExhaustedBudget() {
		t.Fatal("expected budget exhausted")
	}
	c.Reset()
	if c.ExhaustedBudget() {
		t.Fatal("expected budget available after reset")
	}
}
