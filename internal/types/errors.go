package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Components MUST use these instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidEvent ErrorCode = "validation_invalid_event"
	ErrCodeValidationInvalidJob   ErrorCode = "validation_invalid_job"
	ErrCodeValidationInvalidJSON  ErrorCode = "validation_invalid_json"

	// Auth (401)
	ErrCodeAuthTokenMissing ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid ErrorCode = "auth_token_invalid"

	// Not Found (404)
	ErrCodeNotFoundJob    ErrorCode = "not_found_job"
	ErrCodeNotFoundStream ErrorCode = "not_found_stream"
	ErrCodeNotFoundMember ErrorCode = "not_found_member"

	// Storage (503): the job log or a domain store is unavailable.
	ErrCodeStorage ErrorCode = "storage_unavailable"

	// Delivery outcomes reported by push and webhook transports.
	ErrCodeDeliveryTransient    ErrorCode = "delivery_transient"
	ErrCodeDeliveryPermanent    ErrorCode = "delivery_permanent"
	ErrCodeDeliveryInvalidToken ErrorCode = "delivery_invalid_token"

	// Configuration (fatal at startup)
	ErrCodeConfiguration ErrorCode = "configuration_invalid"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB          ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case c == ErrCodeStorage:
		return http.StatusServiceUnavailable
	case c == ErrCodeUpstreamRateLimited:
		return http.StatusTooManyRequests
	case strings.HasPrefix(s, "upstream_"), strings.HasPrefix(s, "delivery_"):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard application error type used throughout the pipeline.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewStorageError wraps a store failure. Enqueue and Poll surface these
// directly so the caller can decide whether to retry the business operation.
func NewStorageError(op string, err error) *AppError {
	return NewAppError(ErrCodeStorage, op+" failed: job store unavailable", err)
}

// NewTransientDeliveryError marks a transport failure that is worth retrying.
func NewTransientDeliveryError(message string, err error) *AppError {
	return NewAppError(ErrCodeDeliveryTransient, message, err)
}

// NewPermanentDeliveryError marks a failure that no amount of retrying fixes.
func NewPermanentDeliveryError(message string, err error) *AppError {
	return NewAppError(ErrCodeDeliveryPermanent, message, err)
}

// CodeOf returns the ErrorCode of the first AppError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsPermanentDelivery reports whether err is a permanent delivery failure.
// Invalid device tokens are a permanent failure for that device.
func IsPermanentDelivery(err error) bool {
	switch CodeOf(err) {
	case ErrCodeDeliveryPermanent, ErrCodeDeliveryInvalidToken:
		return true
	}
	return false
}

// IsInvalidToken reports whether err says the device token is no longer valid.
func IsInvalidToken(err error) bool {
	return CodeOf(err) == ErrCodeDeliveryInvalidToken
}

// IsStorageError reports whether err originated from an unavailable store.
func IsStorageError(err error) bool {
	return CodeOf(err) == ErrCodeStorage
}
