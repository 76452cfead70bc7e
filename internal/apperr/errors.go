// Package apperr defines the error taxonomy shared by the store, the inference
// client, the services and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

// Error codes returned to API callers.
const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeNotFound         = "NOT_FOUND"
	CodeTurnInFlight     = "TURN_IN_FLIGHT"
	CodeUpstreamError    = "UPSTREAM_ERROR"
	CodeNetworkError     = "NETWORK_ERROR"
	CodeInternalError    = "INTERNAL_ERROR"
	CodeUnauthorized     = "UNAUTHORIZED"
)

var (
	// ErrNotFound matches every *NotFoundError through errors.Is.
	ErrNotFound = errors.New("not found")

	// ErrBusy is returned when a chat turn is already in flight for a project.
	ErrBusy = errors.New("a chat turn is already in progress for this project")
)

// ValidationError is a client-detectable input problem. It never reaches the
// inference service.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validation creates a ValidationError for field.
func Validation(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError reports a missing project or message.
type NotFoundError struct {
	Resource string
	ID       int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NotFound creates a NotFoundError.
func NotFound(resource string, id int64) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// UpstreamError means a dependency answered, but with a failure status or a
// body we could not use. Timeouts are reported as UpstreamError too.
type UpstreamError struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s responded with status %d: %s", e.Service, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Service, e.Message)
}

// NetworkError means the request to a dependency did not complete.
type NetworkError struct {
	Service string
	Err     error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s request failed: %v", e.Service, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsUpstream reports whether err is an UpstreamError.
func IsUpstream(err error) bool {
	var u *UpstreamError
	return errors.As(err, &u)
}

// IsNetwork reports whether err is a NetworkError.
func IsNetwork(err error) bool {
	var n *NetworkError
	return errors.As(err, &n)
}
