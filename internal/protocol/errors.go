// ABOUTME: Wire-level error codes and the error type carried by server/error
// ABOUTME: Lets callers match protocol failures with errors.Is
package protocol

import (
	"errors"
	"fmt"
)

// Error codes carried in server/error
const (
	CodeNotFound   = "not_found"
	CodeBusy       = "busy"
	CodeBadRequest = "bad_request"
	CodeInternal   = "internal"
)

// Sentinel errors matched by *Error
var (
	ErrNotFound   = errors.New("not found")
	ErrBusy       = errors.New("stream already active")
	ErrBadRequest = errors.New("bad request")
	ErrInternal   = errors.New("internal server error")
)

// Error is a failure reported by the server for a single request
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error: %s", e.Code)
	}
	return e.Message
}

// Is maps the wire code onto the package sentinels
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Code == CodeNotFound
	case ErrBusy:
		return e.Code == CodeBusy
	case ErrBadRequest:
		return e.Code == CodeBadRequest
	case ErrInternal:
		return e.Code == CodeInternal
	}
	return false
}

// ErrorFromPayload converts a server/error body into an error
func ErrorFromPayload(p ErrorPayload) *Error {
	return &Error{Code: p.Code, Message: p.Message}
}

// IsNotFound reports whether err is a not_found failure
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
