// Package errors provides structured error types for the packet tunnel.
// All errors are designed to be safe to show to operators without exposing
// internal implementation details.
//
// This package provides:
//   - Sentinel errors for common error conditions
//   - Error codes for categorizing failures
//   - Error wrapping with context preservation
//   - Tunnel-specific sentinels for rejected reconnects and invalid transitions
package errors

import (
	"errors"
	"fmt"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// Error codes for categorizing errors. These follow JSON-RPC 2.0 numbering
// where applicable, with custom codes in the -32000 to -32099 range.
const (
	CodeInvalidParams = -32602 // Invalid parameters
	CodeInternal      = -32603 // Internal error

	CodeNotFound      = -32003 // Resource not found
	CodeTimeout       = -32005 // Operation timeout
	CodeUnavailable   = -32007 // Service unavailable
	CodeValidation    = -32008 // Validation failed
	CodeState         = -32010 // Invalid state
	CodeConfiguration = -32011 // Configuration error
	CodeRejected      = -32012 // Request rejected in the current state
)

// Sentinel errors for common error conditions.
// Use errors.Is() to check for these conditions.
var (
	// ErrNotFound indicates a resource was not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates invalid input was provided.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTimeout indicates an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrUnavailable indicates a service is unavailable.
	ErrUnavailable = errors.New("service unavailable")

	// ErrClosed indicates a resource is closed.
	ErrClosed = errors.New("closed")

	// ErrInvalidState indicates an invalid state transition.
	ErrInvalidState = errors.New("invalid state")

	// ErrConfiguration indicates a configuration error.
	ErrConfiguration = errors.New("configuration error")

	// ErrRejected indicates a request that is not valid in the current state.
	ErrRejected = errors.New("rejected")
)

// Tunnel errors
var (
	// ErrReconnectRejected indicates the current state has no reconnect target.
	ErrReconnectRejected = fmt.Errorf("tunnel: reconnect %w", ErrRejected)

	// ErrInvalidTransition indicates an operation not allowed from the current state.
	ErrInvalidTransition = fmt.Errorf("tunnel: transition %w", ErrInvalidState)

	// ErrTunnelClosed indicates the tunnel actor has been closed.
	ErrTunnelClosed = fmt.Errorf("tunnel: %w", ErrClosed)
)

// Relay errors
var (
	// ErrNoRelays indicates no relay satisfies the current constraints.
	ErrNoRelays = fmt.Errorf("relays: none available: %w", ErrUnavailable)
)

// Key rotation errors
var (
	// ErrUnknownRotation indicates a confirmation for a rotation that is not pending.
	ErrUnknownRotation = fmt.Errorf("key rotation: %w", ErrNotFound)
)

// Config errors
var (
	// ErrConfigInvalid indicates a configuration value failed validation.
	ErrConfigInvalid = fmt.Errorf("config: %w", ErrConfiguration)
)

// Error is a structured error with a code and safe message.
// It implements the error interface and provides methods for
// error handling and response generation.
type Error struct {
	// Code is the error code for categorization
	Code int `json:"code"`
	// Message is a safe, user-facing error message
	Message string `json:"message"`
	// Err is the underlying error (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// SafeMessage returns a client-safe error message without internal details.
func (e *Error) SafeMessage() string {
	return e.Message
}

// New creates a new structured error with the given code and message.
// The message should be safe to return to clients.
func New(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a code and safe message.
// The original error is preserved for debugging but not exposed to clients.
func Wrap(code int, message string, err error) *Error {
	if err != nil {
		log.WithField("code", code).WithError(err).Debug("wrapping error")
	}
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// FromSentinel creates a structured error from any error, sentinel or
// wrapped. The code comes from CodeOf and the message is the full error
// text, so it is meant for operator-facing output such as the CLI.
func FromSentinel(err error) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:    CodeOf(err),
		Message: err.Error(),
		Err:     err,
	}
}

// CodeOf maps err to an error code. A structured *Error keeps its own code;
// sentinels are mapped by errors.Is.
func CodeOf(err error) int {
	var structured *Error
	if errors.As(err, &structured) {
		return structured.Code
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrUnavailable):
		return CodeUnavailable
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidParams
	case errors.Is(err, ErrInvalidState):
		return CodeState
	case errors.Is(err, ErrConfiguration):
		return CodeConfiguration
	case errors.Is(err, ErrRejected):
		return CodeRejected
	default:
		return CodeInternal
	}
}

// IsClosed returns true if the error indicates a resource is closed.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}

// Join combines multiple errors into a single error.
// Returns nil if all errors are nil.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target,
// and if so, sets target to that error value and returns true.
func As(err error, target any) bool {
	return errors.As(err, target)
}
