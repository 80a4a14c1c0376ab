package api

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors - use with errors.Is()
var (
	// API errors
	ErrUnauthorized    = errors.New("relaygo: unauthorized (invalid credential)")
	ErrForbidden       = errors.New("relaygo: forbidden")
	ErrNotFound        = errors.New("relaygo: not found")
	ErrTooManyRequests = errors.New("relaygo: too many requests")
	ErrUnknownChannel  = errors.New("relaygo: unknown channel")
	ErrMissingAccess   = errors.New("relaygo: missing access")

	// Client errors
	ErrCircuitOpen      = errors.New("relaygo: circuit breaker open")
	ErrMaxRetries       = errors.New("relaygo: max retries exceeded")
	ErrResponseTooLarge = errors.New("relaygo: response too large")

	// Local errors
	ErrNoCredential  = errors.New("relaygo: no credential available")
	ErrInvalidConfig = errors.New("relaygo: invalid configuration")
)

// Messaging API error codes with a dedicated sentinel.
const (
	CodeUnknownChannel = 10003
	CodeMissingAccess  = 50001
)

// APIError represents a non-2xx response from the messaging endpoint.
// Use errors.As() to extract details, errors.Is() to match sentinels.
type APIError struct {
	StatusCode int           // HTTP status
	Code       int           // API error code from the body, 0 if absent
	Message    string        // API error message from the body
	RetryAfter time.Duration // From the body or Retry-After header
	ChannelID  string
	cause      error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "request failed"
	}
	if e.RetryAfter > 0 {
		return fmt.Sprintf("relaygo: send to channel %s failed: %s (status=%d, code=%d, retry_after=%s)",
			e.ChannelID, msg, e.StatusCode, e.Code, e.RetryAfter)
	}
	return fmt.Sprintf("relaygo: send to channel %s failed: %s (status=%d, code=%d)",
		e.ChannelID, msg, e.StatusCode, e.Code)
}

// Unwrap returns the underlying sentinel error for errors.Is() support.
func (e *APIError) Unwrap() error { return e.cause }

// IsRetryable reports whether the status is one of the transient server
// errors retried automatically: 500, 502, 503 or 504.
// 429 is deliberately excluded; see IsRateLimited.
func (e *APIError) IsRetryable() bool {
	switch e.StatusCode {
	case 500, 502, 503, 504:
		return true
	}
	return false
}

// IsRateLimited reports whether the endpoint answered 429.
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// NewAPIError creates an APIError with automatic sentinel detection.
func NewAPIError(channelID string, status, code int, message string) *APIError {
	return &APIError{
		StatusCode: status,
		Code:       code,
		Message:    message,
		ChannelID:  channelID,
		cause:      DetectSentinel(status, code),
	}
}

// NewAPIErrorWithRetry creates an APIError with retry information.
func NewAPIErrorWithRetry(channelID string, status, code int, message string, retryAfter time.Duration) *APIError {
	e := NewAPIError(channelID, status, code, message)
	e.RetryAfter = retryAfter
	return e
}

// DetectSentinel maps HTTP status and API error codes to sentinel errors.
// API codes are more specific and win over the status.
func DetectSentinel(status, code int) error {
	switch code {
	case CodeUnknownChannel:
		return ErrUnknownChannel
	case CodeMissingAccess:
		return ErrMissingAccess
	}

	switch status {
	case 401:
		return ErrUnauthorized
	case 403:
		return ErrForbidden
	case 404:
		return ErrNotFound
	case 429:
		return ErrTooManyRequests
	}

	return nil
}

// ValidationError represents a request validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("relaygo: validation: %s - %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Key     string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("relaygo: config: %s - %s", e.Key, e.Message)
}

// Unwrap lets errors.Is match ErrInvalidConfig.
func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// NewConfigError creates a new ConfigError.
func NewConfigError(key, message string) *ConfigError {
	return &ConfigError{Key: key, Message: message}
}
