package persist

import (
	"errors"
	"fmt"
)

// ErrorCode classifies store failures.
type ErrorCode string

const (
	ErrNotFound ErrorCode = "not_found"
	ErrIO       ErrorCode = "io_error"
	ErrEncoding ErrorCode = "encoding_error"
)

// StoreError is the error type returned by Store implementations.
type StoreError struct {
	Code    ErrorCode
	RoomID  string
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.RoomID != "" {
		return fmt.Sprintf("persist: %s: room %s: %s", e.Code, e.RoomID, e.Message)
	}
	return fmt.Sprintf("persist: %s: %s", e.Code, e.Message)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a StoreError with ErrNotFound.
func IsNotFound(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Code == ErrNotFound
}

// NotFound builds an ErrNotFound StoreError.
func NotFound(roomID, what string) *StoreError {
	return &StoreError{Code: ErrNotFound, RoomID: roomID, Message: what + " not found"}
}
