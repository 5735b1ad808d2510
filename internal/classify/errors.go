package classify

import "strings"

// retryableSubstrings is the allowlist of transient-error phrasings: network
// failures, 5xx responses, and provider-reported transient conditions.
var retryableSubstrings = []string{
	"connection reset",
	"connection refused",
	"timeout",
	"timed out",
	"temporary failure",
	"service unavailable",
	"502 bad gateway",
	"503 service unavailable",
	"504 gateway timeout",
	"internal server error",
	"too many requests",
	"rate limit",
	"overloaded",
	"eof",
	"broken pipe",
}

// overflowSubstrings is the fixed, case-insensitive pattern set matched
// against the stringified provider error when detecting context overflow
// via the error-based path. It covers common phrasings from multiple
// vendors.
var overflowSubstrings = []string{
	"context_length_exceeded",
	"maximum context length",
	"prompt is too long",
	"token limit",
	"input too long",
	"exceeds the model's maximum",
	"reduce the length",
	"content_too_large",
}

// IsRetryable reports whether err's message matches a known transient
// pattern. A nil error is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range retryableSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// IsOverflow reports whether err's message matches a known context-
// overflow phrasing from any of several provider vendors.
func IsOverflow(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range overflowSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
