// Package errors provides structured error handling with context propagation and HTTP status code mapping.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of error for metrics and response formatting.
type ErrorType string

const (
	// TypeValidation indicates invalid input (HTTP 400)
	TypeValidation ErrorType = "validation"
	// TypeNotFound indicates resource not found (HTTP 404)
	TypeNotFound ErrorType = "not_found"
	// TypeAuthRejected indicates the bearer token was rejected by an upstream
	// service (HTTP 401). Never retried; triggers forced local logout.
	TypeAuthRejected ErrorType = "auth_rejected"
	// TypeArtifactUnavailable indicates a session artifact could not be
	// fetched (missing or expired link). Recovered locally as "no prior state".
	TypeArtifactUnavailable ErrorType = "artifact_unavailable"
	// TypeAutomationFailure indicates the automation host reported a failed run (HTTP 502)
	TypeAutomationFailure ErrorType = "automation_failure"
	// TypeUploadFailure indicates persisting a session artifact failed.
	// Logged for operators, never surfaced as a launch failure.
	TypeUploadFailure ErrorType = "upload_failure"
	// TypeNetwork indicates a transport-level failure with no response (HTTP 502)
	TypeNetwork ErrorType = "network"
	// TypeExternal indicates an upstream service responded with an error (HTTP 502)
	TypeExternal ErrorType = "external"
	// TypeInternal indicates an error inside this process (HTTP 500)
	TypeInternal ErrorType = "internal"
)

// Error represents a structured error with type, message, and context.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the appropriate HTTP status code for this error type.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeNotFound:
		return http.StatusNotFound
	case TypeAuthRejected:
		return http.StatusUnauthorized
	case TypeArtifactUnavailable:
		return http.StatusNotFound
	case TypeAutomationFailure, TypeNetwork, TypeExternal, TypeUploadFailure:
		return http.StatusBadGateway
	case TypeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ValidationError creates a new validation error (HTTP 400).
func ValidationError(message string) *Error {
	return &Error{
		Type:    TypeValidation,
		Message: message,
		Context: make(map[string]any),
	}
}

// NotFoundError creates a new not-found error (HTTP 404).
func NotFoundError(message string) *Error {
	return &Error{
		Type:    TypeNotFound,
		Message: message,
		Context: make(map[string]any),
	}
}

// AuthRejectedError creates an error for an upstream 401.
func AuthRejectedError(message string, cause error) *Error {
	return &Error{
		Type:    TypeAuthRejected,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// ArtifactUnavailableError creates an error for a failed artifact fetch.
func ArtifactUnavailableError(message string, cause error) *Error {
	return &Error{
		Type:    TypeArtifactUnavailable,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// AutomationFailureError creates an error for a failed automation run.
func AutomationFailureError(message string, cause error) *Error {
	return &Error{
		Type:    TypeAutomationFailure,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// UploadFailureError creates an error for a failed artifact upload.
func UploadFailureError(message string, cause error) *Error {
	return &Error{
		Type:    TypeUploadFailure,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// ExternalError creates an error for an upstream service error response.
func ExternalError(message string, cause error) *Error {
	return &Error{
		Type:    TypeExternal,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// NetworkError creates an error for a transport-level failure with no response.
func NetworkError(message string, cause error) *Error {
	return &Error{
		Type:    TypeNetwork,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// InternalError creates a new internal error (HTTP 500).
func InternalError(message string, cause error) *Error {
	return &Error{
		Type:    TypeInternal,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// WithContext adds context fields to the error (chainable).
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// IsAuthRejected reports whether err is (or wraps) an upstream token rejection.
func IsAuthRejected(err error) bool {
	var structured *Error
	return errors.As(err, &structured) && structured.Type == TypeAuthRejected
}

// ErrorResponse represents the JSON structure sent to clients.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Type    ErrorType      `json:"type"`
	Context map[string]any `json:"context,omitempty"`
}

// ToResponse converts an Error to an ErrorResponse for JSON serialization.
func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error:   e.Message,
		Type:    e.Type,
		Context: e.Context,
	}
}

// AsStructuredError converts any error into a structured Error.
// If err is already an *Error, returns it unchanged.
// Otherwise wraps it as an internal error.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}

	var structuredErr *Error
	if errors.As(err, &structuredErr) {
		return structuredErr
	}

	return InternalError("internal error", err)
}
