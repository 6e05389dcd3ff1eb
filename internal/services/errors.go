package services

import "errors"

// ErrorType is the wire-level error taxonomy. Every rejected action maps to
// exactly one of these and is reported only to the originating connection.
type ErrorType string

const (
	ErrTypeNotFound         ErrorType = "not_found"
	ErrTypeUnauthorized     ErrorType = "unauthorized"
	ErrTypePhaseConflict    ErrorType = "phase_conflict"
	ErrTypeValidationFailed ErrorType = "validation_failed"
	ErrTypeInternal         ErrorType = "internal"
)

// Error is a domain error with a classified type and a caller-facing message.
type Error struct {
	Type    ErrorType
	Message string
}

func (e *Error) Error() string {
	return string(e.Type) + ": " + e.Message
}

func NotFound(message string) *Error {
	return &Error{Type: ErrTypeNotFound, Message: message}
}

func Unauthorized(message string) *Error {
	return &Error{Type: ErrTypeUnauthorized, Message: message}
}

func PhaseConflict(message string) *Error {
	return &Error{Type: ErrTypePhaseConflict, Message: message}
}

func ValidationFailed(message string) *Error {
	return &Error{Type: ErrTypeValidationFailed, Message: message}
}

func Internal(message string) *Error {
	return &Error{Type: ErrTypeInternal, Message: message}
}

// TypeOf classifies any error for wire reporting. Unclassified errors are
// internal failures; their details stay out of the client message.
func TypeOf(err error) ErrorType {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ErrTypeInternal
}

// ClientMessageOf returns the message safe to send to the originating
// connection.
func ClientMessageOf(err error) string {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return "an internal error occurred while processing your request"
}
