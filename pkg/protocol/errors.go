package protocol

import "fmt"

// ErrorCode is the closed set of codes carried by ERROR frames.
type ErrorCode string

const (
	ErrCodeValidation    ErrorCode = "validation_error"
	ErrCodeNotJoined     ErrorCode = "not_joined"
	ErrCodeAlreadyJoined ErrorCode = "already_joined"
	ErrCodeUnknownRoom   ErrorCode = "unknown_room"
	ErrCodeRateLimited   ErrorCode = "rate_limited"
	ErrCodeStaleBase     ErrorCode = "stale_base"
	ErrCodeInternal      ErrorCode = "internal_error"
)

// ValidationError describes a rejected inbound frame. Validation failures
// are answered with an ERROR frame; the connection stays open.
type ValidationError struct {
	Field   string // offending field, empty when the frame as a whole is bad
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid frame: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid frame: %s", e.Message)
}

func invalidf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
