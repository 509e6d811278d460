// Package shared contains the error taxonomy and small value types shared by
// the session, cache and gateway layers. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Error kinds returned by the request gateway. Check them with errors.Is().
var (
	// ErrUnauthenticated means there is no credential or the server rejected it.
	// It always routes through the expiry coordinator.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrApplication means the server understood the request and refused it.
	ErrApplication = errors.New("application error")

	// ErrNetwork means no response was received.
	ErrNetwork = errors.New("network error")

	// ErrUnknownServer means the response carried an unrecognised application code.
	ErrUnknownServer = errors.New("unknown server error")
)

// Local state errors.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

// GatewayError is a classified failure of a single request.
type GatewayError struct {
	Kind    error  // one of the Err* kinds above
	Op      string // "GET /courses"
	Code    int    // application code from the response body, 0 if none
	Message string // user-facing message
	Err     error  // underlying cause (optional)
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %s: %v", e.Op, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Message)
}

// Unwrap returns the underlying error, or the kind when there is none.
func (e *GatewayError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching against the kind and the cause.
func (e *GatewayError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewGatewayError creates a classified error.
func NewGatewayError(kind error, op string, code int, message string) *GatewayError {
	return &GatewayError{Kind: kind, Op: op, Code: code, Message: message}
}

// WrapGatewayError attaches a cause to a classified error.
func WrapGatewayError(kind error, op string, message string, err error) *GatewayError {
	return &GatewayError{Kind: kind, Op: op, Message: message, Err: err}
}

// IsUnauthenticated reports whether err is an authentication failure.
func IsUnauthenticated(err error) bool { return errors.Is(err, ErrUnauthenticated) }

// IsNetwork reports whether err is a transport failure.
func IsNetwork(err error) bool { return errors.Is(err, ErrNetwork) }

// UserMessage extracts the user-facing message of a classified error.
func UserMessage(err error) string {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
