// Package llmerrors provides structured error classification for calls to completion services.
package llmerrors

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrorType represents the category of a failed remote call.
type ErrorType int8

const (
	// Retryable error types.

	// ErrorTypeNetwork represents transient network failures (connection reset, EOF, DNS).
	ErrorTypeNetwork ErrorType = iota
	// ErrorTypeTimeout represents a call that did not finish within its deadline.
	ErrorTypeTimeout
	// ErrorTypeRateLimit represents 429 responses; RetryAfter may carry the server hint.
	ErrorTypeRateLimit
	// ErrorTypeServiceUnavailable represents 5xx or overloaded responses.
	ErrorTypeServiceUnavailable
	// ErrorTypeEmptyResponse represents a successful status with no usable content.
	ErrorTypeEmptyResponse

	// Retryability decided by the provider.

	// ErrorTypeProvider represents an error reported by the provider; Retryable carries its verdict.
	ErrorTypeProvider

	// Non-retryable error types.

	// ErrorTypeAuth represents authentication and authorization failures (401/403).
	ErrorTypeAuth
	// ErrorTypeQuota represents an exhausted account quota or billing limit.
	ErrorTypeQuota
	// ErrorTypeMalformed represents a response that could not be parsed.
	ErrorTypeMalformed
	// ErrorTypeBadPrompt represents a request the provider rejected as invalid (400).
	ErrorTypeBadPrompt
	// ErrorTypeUnknown represents unclassified errors.
	ErrorTypeUnknown

	// ErrorTypeCancelled represents caller cancellation. It is not a dependency failure.
	ErrorTypeCancelled
)

// String returns the string representation of the error type.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeNetwork:
		return "network"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeServiceUnavailable:
		return "service_unavailable"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeProvider:
		return "provider"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeQuota:
		return "quota"
	case ErrorTypeMalformed:
		return "malformed"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeUnknown:
		return "unknown"
	case ErrorTypeCancelled:
		return "cancelled"
	default:
		return "invalid"
	}
}

// Error represents a classified remote-call error.
type Error struct {
	Err        error         // Wrapped underlying error
	Message    string        // Human-readable error message
	BodyStub   string        // First portion of response body (guards PII)
	RetryAfter time.Duration // Server-supplied retry hint, zero if absent
	Type       ErrorType     // Classified error type
	StatusCode int           // HTTP status code if applicable
	Retryable  bool          // Only consulted for ErrorTypeProvider
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		if e.Err != nil {
			return fmt.Sprintf("LLM error (%s): %s: %v", e.Type.String(), e.Message, e.Err)
		}
		return fmt.Sprintf("LLM error (%s): %s", e.Type.String(), e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("LLM error (%s): %v", e.Type.String(), e.Err)
	}
	return fmt.Sprintf("LLM error (%s): status %d", e.Type.String(), e.StatusCode)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether another attempt could succeed.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit,
		ErrorTypeServiceUnavailable, ErrorTypeEmptyResponse:
		return true
	case ErrorTypeProvider:
		return e.Retryable
	default:
		return false
	}
}

// Is checks if an error is of a specific type.
func Is(err error, errorType ErrorType) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == errorType
	}
	return false
}

// TypeOf returns the error type of an error, or ErrorTypeUnknown if not classified.
// Bare context errors are classified as well.
func TypeOf(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	switch {
	case errors.Is(err, context.Canceled):
		return ErrorTypeCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	}
	return ErrorTypeUnknown
}

// RetryAfterOf returns the retry-after hint carried by err, if any.
func RetryAfterOf(err error) (time.Duration, bool) {
	var llmErr *Error
	if errors.As(err, &llmErr) && llmErr.RetryAfter > 0 {
		return llmErr.RetryAfter, true
	}
	return 0, false
}

// IsCancelled reports whether err represents caller cancellation.
func IsCancelled(err error) bool {
	return Is(err, ErrorTypeCancelled) || errors.Is(err, context.Canceled)
}

// NewError creates a new classified error.
func NewError(errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
	}
}

// NewErrorWithStatus creates a new classified error with HTTP status.
func NewErrorWithStatus(errorType ErrorType, statusCode int, message string) *Error {
	return &Error{
		Type:       errorType,
		StatusCode: statusCode,
		Message:    message,
	}
}

// NewErrorWithCause creates a new classified error wrapping another error.
func NewErrorWithCause(errorType ErrorType, cause error, message string) *Error {
	return &Error{
		Type:    errorType,
		Err:     cause,
		Message: message,
	}
}

// NewRateLimitError creates a rate-limit error carrying the server retry hint.
func NewRateLimitError(statusCode int, retryAfter time.Duration, message string) *Error {
	return &Error{
		Type:       ErrorTypeRateLimit,
		StatusCode: statusCode,
		RetryAfter: retryAfter,
		Message:    message,
	}
}

// NewProviderError creates a provider-reported error with an explicit retry verdict.
func NewProviderError(cause error, retryable bool, message string) *Error {
	return &Error{
		Type:      ErrorTypeProvider,
		Err:       cause,
		Retryable: retryable,
		Message:   message,
	}
}

// NewServiceUnavailableError creates a ServiceUnavailable error.
func NewServiceUnavailableError(cause error, message string) *Error {
	return &Error{
		Type:    ErrorTypeServiceUnavailable,
		Err:     cause,
		Message: message,
	}
}

// FromContext classifies a context error. Returns nil when ctxErr is nil.
func FromContext(ctxErr error) *Error {
	switch {
	case ctxErr == nil:
		return nil
	case errors.Is(ctxErr, context.Canceled):
		return NewErrorWithCause(ErrorTypeCancelled, ctxErr, "request cancelled")
	case errors.Is(ctxErr, context.DeadlineExceeded):
		return NewErrorWithCause(ErrorTypeTimeout, ctxErr, "request timed out")
	default:
		return NewErrorWithCause(ErrorTypeUnknown, ctxErr, "context error")
	}
}

// FromStatus classifies an HTTP status code. retryAfter is only attached to 429s.
func FromStatus(statusCode int, retryAfter time.Duration, cause error) *Error {
	var e *Error
	switch {
	case statusCode == 401 || statusCode == 403:
		e = NewErrorWithStatus(ErrorTypeAuth, statusCode, "authentication failed - check API key")
	case statusCode == 402:
		e = NewErrorWithStatus(ErrorTypeQuota, statusCode, "quota exceeded")
	case statusCode == 429:
		e = NewRateLimitError(statusCode, retryAfter, "rate limit exceeded")
	case statusCode == 408:
		e = NewErrorWithStatus(ErrorTypeTimeout, statusCode, "request timeout")
	case statusCode == 400 || statusCode == 404 || statusCode == 413 || statusCode == 422:
		e = NewErrorWithStatus(ErrorTypeBadPrompt, statusCode, "bad request - check prompt format and parameters")
	case statusCode == 529 || statusCode >= 500:
		e = NewErrorWithStatus(ErrorTypeServiceUnavailable, statusCode, "server error")
	default:
		e = NewErrorWithStatus(ErrorTypeProvider, statusCode, "unexpected status")
	}
	e.Err = cause
	return e
}

// ParseRetryAfter parses a Retry-After header value given in seconds or as an HTTP date.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := time.Parse(time.RFC1123, value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// SanitizePrompt creates a safe representation of a prompt for logging.
// For large prompts, it returns first/last portions plus a hash of the full content.
func SanitizePrompt(prompt string, maxChars int) string {
	if len(prompt) <= maxChars {
		return prompt
	}

	halfMax := maxChars / 2
	if halfMax < 100 {
		halfMax = 100
	}
	if 2*halfMax >= len(prompt) {
		return prompt
	}

	first := prompt[:halfMax]
	last := prompt[len(prompt)-halfMax:]

	hash := sha256.Sum256([]byte(prompt))
	hashStr := fmt.Sprintf("%x", hash)[:16]

	return fmt.Sprintf("%s...[%d chars, hash:%s]...%s",
		first, len(prompt), hashStr, last)
}
