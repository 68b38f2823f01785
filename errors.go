package eduapi

import (
	"errors"
	"fmt"
	"time"
)

// Error type constants used in ClientError.Type.
const (
	// ErrorTypeTimeout is a client-synthesized deadline failure (status 408).
	ErrorTypeTimeout = "Timeout"
	// ErrorTypeNetwork is a transport failure before any response (status 0).
	ErrorTypeNetwork = "Network"
	// ErrorTypeCredential is a failed or malformed credential issuance.
	ErrorTypeCredential = "Credential"
	// ErrorTypeAuthRejected means the server rejected the credential and the
	// single recovery attempt was also rejected.
	ErrorTypeAuthRejected = "AuthRejected"
	// ErrorTypeServer is any non-2xx response with a real status.
	ErrorTypeServer = "Server"
	// ErrorTypeRateLimit is a local rate limiter rejection.
	ErrorTypeRateLimit = "RateLimit"
	// ErrorTypeValidation is a client configuration error.
	ErrorTypeValidation = "Validation"
)

// Sentinel errors for common failure scenarios.
var (
	// ErrRateLimited is returned when a request is denied by the local rate limiter.
	ErrRateLimited = errors.New("eduapi: rate limited")

	// ErrNotFound is returned by a Store when a key has no value.
	ErrNotFound = errors.New("eduapi: key not found")

	// ErrNoCredential is returned by a closed provider, which has nothing
	// cached and no way to acquire.
	ErrNoCredential = errors.New("eduapi: no credential available")
)

// ClientError is the single error type the pipeline surfaces. Status is the
// HTTP status the failure is attributed to: a real server status, 408 for
// synthesized timeouts, or 0 for network-level failures.
type ClientError struct {
	Type      string
	Status    int
	Message   string
	Cause     error
	RequestID string
	Method    string
	URL       string
	Attempt   int
	Timestamp time.Time
	Duration  time.Duration
}

// Error implements error interface.
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*ClientError); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// IsTransient determines if an error represents a transient failure that a
// higher layer may reasonably retry. Timeouts, network failures, 5xx server
// responses and local rate limiting are transient; credential failures and
// terminal auth rejections are not (the pipeline already spent its one retry).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrRateLimited) {
		return true
	}

	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		switch clientErr.Type {
		case ErrorTypeTimeout, ErrorTypeNetwork, ErrorTypeRateLimit:
			return true
		case ErrorTypeServer:
			return clientErr.Status >= 500 || clientErr.Status == 429
		default:
			return false
		}
	}

	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *ClientError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.URL != "" {
		info += fmt.Sprintf("URL: %s\n", e.URL)
	}
	if e.Status > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.Status)
	}
	if e.Attempt > 0 {
		info += fmt.Sprintf("Attempt: %d\n", e.Attempt)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}
