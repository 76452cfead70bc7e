package client

import (
	"errors"
	"fmt"
)

// Server error codes.
const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeNotFound         = "NOT_FOUND"
	CodeTurnInFlight     = "TURN_IN_FLIGHT"
	CodeUpstreamError    = "UPSTREAM_ERROR"
	CodeNetworkError     = "NETWORK_ERROR"
)

var (
	// ErrNotFound matches every *NotFoundError.
	ErrNotFound = errors.New("not found")

	// ErrTurnInFlight is returned when a Conversation already has a send in
	// progress, or the server reports one for the project.
	ErrTurnInFlight = errors.New("a chat turn is already in progress")
)

// ValidationError is an input problem detected before or by the server.
// Errors detected locally never cost a network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NetworkError means the request did not complete.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// UpstreamError is a non-2xx response or a body that could not be parsed.
type UpstreamError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server responded %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server responded %d: %s", e.StatusCode, e.Message)
}

func (e *UpstreamError) Is(target error) bool {
	return target == ErrTurnInFlight && e.Code == CodeTurnInFlight
}

type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string {
	return e.Message
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
