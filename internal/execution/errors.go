package execution

import (
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

// MissingInputError is returned when a node's execute runs without a value
// on a required input slot. It fails that node only; the engine decides
// whether the run fails based on the node's continue-on-error flag.
type MissingInputError struct {
	NodeID string
	Slot   string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("node '%s': missing required input '%s'", e.NodeID, e.Slot)
}

// LoopLimitError is returned when a loop node's condition stays true past
// its configured maximum iteration count.
type LoopLimitError struct {
	NodeID        string
	MaxIterations int
}

func (e *LoopLimitError) Error() string {
	return fmt.Sprintf("node '%s': loop exceeded maximum of %d iterations", e.NodeID, e.MaxIterations)
}

// ErrorCategory classifies errors for retry decisions
type ErrorCategory int

const (
	// ErrorCategoryUnknown - unclassified error, default to not retryable
	ErrorCategoryUnknown ErrorCategory = iota

	// ErrorCategoryTransient - temporary failures that may succeed on retry
	// Examples: timeout, rate limit (429), server error (5xx), network error
	ErrorCategoryTransient

	// ErrorCategoryPermanent - errors that will not succeed on retry
	// Examples: auth error (401/403), bad request (400), parse error
	ErrorCategoryPermanent
)

// String returns a human-readable category name
func (c ErrorCategory) String() string {
	switch c {
	case ErrorCategoryTransient:
		return "transient"
	case ErrorCategoryPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ExecutionError wraps errors with classification for retry logic
type ExecutionError struct {
	Category   ErrorCategory
	Message    string
	StatusCode int   // HTTP status code if applicable
	Retryable  bool  // Explicit retryable flag
	RetryAfter int   // Seconds to wait before retry (from Retry-After header)
	Cause      error // Original error
}

func (e *ExecutionError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%d] %s", e.StatusCode, e.Message)
	}
	return e.Message
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// ClassifyHTTPError classifies an HTTP response error
func ClassifyHTTPError(statusCode int, body string) *ExecutionError {
	err := &ExecutionError{
		StatusCode: statusCode,
		Message:    fmt.Sprintf("HTTP %d: %s", statusCode, truncateString(body, 200)),
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		err.Category = ErrorCategoryTransient
		err.Retryable = true
		err.RetryAfter = 60

	case statusCode >= 500 && statusCode < 600:
		err.Category = ErrorCategoryTransient
		err.Retryable = true

	case statusCode == http.StatusRequestTimeout:
		err.Category = ErrorCategoryTransient
		err.Retryable = true

	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		err.Category = ErrorCategoryPermanent
		err.Retryable = false

	case statusCode >= 400 && statusCode < 500:
		err.Category = ErrorCategoryPermanent
		err.Retryable = false

	default:
		err.Category = ErrorCategoryUnknown
		err.Retryable = false
	}

	return err
}

// ClassifyError classifies a general error
func ClassifyError(err error) *ExecutionError {
	if err == nil {
		return nil
	}

	if execErr, ok := err.(*ExecutionError); ok {
		return execErr
	}

	errStr := err.Error()

	if strings.Contains(errStr, "context deadline exceeded") ||
		strings.Contains(errStr, "context canceled") {
		return &ExecutionError{
			Category:  ErrorCategoryTransient,
			Message:   "Request timed out",
			Retryable: true,
			Cause:     err,
		}
	}

	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "network is unreachable") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "EOF") {
		return &ExecutionError{
			Category:  ErrorCategoryTransient,
			Message:   fmt.Sprintf("Network error: %s", truncateString(errStr, 100)),
			Retryable: true,
			Cause:     err,
		}
	}

	if strings.Contains(errStr, "certificate") ||
		strings.Contains(errStr, "tls:") ||
		strings.Contains(errStr, "x509:") {
		return &ExecutionError{
			Category:  ErrorCategoryPermanent,
			Message:   "TLS/Certificate error",
			Retryable: false,
			Cause:     err,
		}
	}

	return &ExecutionError{
		Category:  ErrorCategoryUnknown,
		Message:   truncateString(errStr, 200),
		Retryable: false,
		Cause:     err,
	}
}

// BackoffCalculator computes retry delays with exponential backoff and jitter
type BackoffCalculator struct {
	initialDelay  time.Duration
	maxDelay      time.Duration
	multiplier    float64
	jitterPercent int
}

// NewBackoffCalculator creates a calculator with specified parameters
func NewBackoffCalculator(initialDelayMs, maxDelayMs int, multiplier float64, jitterPercent int) *BackoffCalculator {
	if initialDelayMs <= 0 {
		initialDelayMs = 1000
	}
	if maxDelayMs <= 0 {
		maxDelayMs = 30000
	}
	if multiplier <= 0 {
		multiplier = 2.0
	}
	if jitterPercent < 0 {
		jitterPercent = 20
	}

	return &BackoffCalculator{
		initialDelay:  time.Duration(initialDelayMs) * time.Millisecond,
		maxDelay:      time.Duration(maxDelayMs) * time.Millisecond,
		multiplier:    multiplier,
		jitterPercent: jitterPercent,
	}
}

// NextDelay calculates the delay for the given attempt number (0-indexed)
func (b *BackoffCalculator) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(b.initialDelay) * math.Pow(b.multiplier, float64(attempt))
	if delay > float64(b.maxDelay) {
		delay = float64(b.maxDelay)
	}

	// Jitter prevents thundering herd when several schedules retry together
	if b.jitterPercent > 0 {
		jitterRange := delay * float64(b.jitterPercent) / 100.0
		jitter := (rand.Float64()*2 - 1) * jitterRange
		delay += jitter
	}

	if delay < 0 {
		delay = float64(b.initialDelay)
	}

	return time.Duration(delay)
}

// ShouldRetry determines if the error type should be retried based on policy
func ShouldRetry(err *ExecutionError, retryOn []string) bool {
	if err == nil || !err.Retryable {
		return false
	}

	if len(retryOn) == 0 {
		return err.Retryable
	}

	errorType := getErrorType(err)
	for _, retryType := range retryOn {
		if retryType == errorType || retryType == "all_transient" {
			return true
		}
	}

	return false
}

// getErrorType maps an ExecutionError to a type string for retry matching
func getErrorType(err *ExecutionError) string {
	if err.StatusCode == 429 {
		return "rate_limit"
	}
	if err.StatusCode >= 500 {
		return "server_error"
	}
	if strings.Contains(strings.ToLower(err.Message), "timeout") ||
		strings.Contains(strings.ToLower(err.Message), "deadline exceeded") {
		return "timeout"
	}
	if strings.Contains(strings.ToLower(err.Message), "network") ||
		strings.Contains(strings.ToLower(err.Message), "connection") {
		return "network_error"
	}
	return "unknown"
}

// truncateString truncates a string to maxLen characters
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
