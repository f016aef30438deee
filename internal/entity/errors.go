package entity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrSymbolRulesNotFound = errors.New("symbol rules not found")
	ErrSymbolLocked        = errors.New("symbol is locked by another operation")
	ErrCredentialsMissing  = errors.New("exchange credentials are missing in config")
)

// ValidationError is returned for bad input before any exchange call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// TransportError wraps a failure to get any HTTP response (DNS, refused connection, timeout).
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPError is a non-2xx response. Code and Message come from the exchange error body when present.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Code       int
	Message    string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error: %s %s: status=%d code=%d message=%s", e.Method, e.Path, e.StatusCode, e.Code, e.Message)
}

func (e *HTTPError) IsServerError() bool {
	return e.StatusCode >= http.StatusInternalServerError
}

// BusinessRejection means the exchange processed the request and refused the order.
type BusinessRejection struct {
	Symbol string
	Code   int
	Reason string
	Err    error
}

func (e *BusinessRejection) Error() string {
	return fmt.Sprintf("order rejected by exchange: symbol=%s code=%d reason=%s", e.Symbol, e.Code, e.Reason)
}

func (e *BusinessRejection) Unwrap() error {
	return e.Err
}

// StaleStateError marks a position that must be treated as unknown until the next successful refresh.
type StaleStateError struct {
	Symbol string
	Err    error
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("position state for %s is stale: %v", e.Symbol, e.Err)
}

func (e *StaleStateError) Unwrap() error {
	return e.Err
}

// SubmissionFailedError is returned when every submission attempt failed; no order exists.
type SubmissionFailedError struct {
	Symbol   string
	Attempts int
	Err      error
}

func (e *SubmissionFailedError) Error() string {
	return fmt.Sprintf("order submission failed after %d attempt(s): symbol=%s: %v", e.Attempts, e.Symbol, e.Err)
}

func (e *SubmissionFailedError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether a gateway failure may be retried: transport failures and 5xx responses.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.IsServerError()
	}

	return false
}

// AsBusinessRejection converts a 4xx exchange error into a BusinessRejection.
func AsBusinessRejection(symbol string, err error) (*BusinessRejection, bool) {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.IsServerError() {
		return nil, false
	}

	reason := strings.TrimSpace(httpErr.Message)
	if reason == "" {
		reason = strings.TrimSpace(httpErr.Body)
	}

	return &BusinessRejection{
		Symbol: symbol,
		Code:   httpErr.Code,
		Reason: reason,
		Err:    err,
	}, true
}
