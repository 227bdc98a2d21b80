package domain

import (
	"errors"
	"fmt"
)

// Wire error codes.
const (
	CodeUnauthorized = "UNAUTHORIZED"
	CodeBadRequest   = "BAD_REQUEST"
	CodeForbidden    = "FORBIDDEN"
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeInternal     = "INTERNAL_ERROR"
)

// Error kinds. Match with errors.Is.
var (
	ErrAuthentication  = errors.New("authentication failed")
	ErrValidation      = errors.New("validation failed")
	ErrAccessDenied    = errors.New("access denied")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrTerminalChannel = errors.New("channel already ended")
)

// Error is a classified error whose Message is safe to send to clients.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func newError(kind error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Authentication reports a bad, expired or missing credential.
func Authentication(format string, args ...interface{}) error {
	return newError(ErrAuthentication, format, args...)
}

// Validation reports a malformed request.
func Validation(format string, args ...interface{}) error {
	return newError(ErrValidation, format, args...)
}

// AccessDenied reports an action on a resource the caller does not take
// part in.
func AccessDenied(format string, args ...interface{}) error {
	return newError(ErrAccessDenied, format, args...)
}

// NotFound reports an unknown chat, channel, message or user.
func NotFound(format string, args ...interface{}) error {
	return newError(ErrNotFound, format, args...)
}

// Conflict reports an action that clashes with current state.
func Conflict(format string, args ...interface{}) error {
	return newError(ErrConflict, format, args...)
}

// TerminalChannel reports an action on a channel that has already ended.
func TerminalChannel(channelID string) error {
	return newError(ErrTerminalChannel, "channel %s has ended", channelID)
}

// CodeOf maps err to its wire error code.
func CodeOf(err error) string {
	switch {
	case errors.Is(err, ErrAuthentication):
		return CodeUnauthorized
	case errors.Is(err, ErrValidation):
		return CodeBadRequest
	case errors.Is(err, ErrAccessDenied):
		return CodeForbidden
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrTerminalChannel):
		return CodeConflict
	default:
		return CodeInternal
	}
}

// PublicMessage returns the client-safe text of err. Unclassified errors
// never leak their details.
func PublicMessage(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "internal error"
}

// IsClientError reports whether err was caused by the request rather than by
// the server.
func IsClientError(err error) bool {
	return CodeOf(err) != CodeInternal
}
