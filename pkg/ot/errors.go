package ot

import (
	"errors"
	"fmt"
)

// TransformErrorCode classifies why an operation could not be applied.
type TransformErrorCode string

const (
	// CodeStaleBase means the operation's base version is ahead of the
	// server's version. The client is confused; it must resync.
	CodeStaleBase TransformErrorCode = "stale_base"

	// CodeHistoryTruncated means the operation's base version predates the
	// oldest retained history entry, so the concurrent set cannot be
	// reconstructed. The client must resync from a snapshot.
	CodeHistoryTruncated TransformErrorCode = "history_truncated"

	// CodeInvalidTruncation means a history truncation was requested past
	// the current version.
	CodeInvalidTruncation TransformErrorCode = "invalid_truncation"
)

// TransformError is returned by DocumentState.Apply and
// TruncateHistoryBefore for operations that violate versioning invariants.
// The document is never modified when a TransformError is returned.
type TransformError struct {
	Code    TransformErrorCode
	Message string
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("ot: %s: %s", e.Code, e.Message)
}

// IsStaleBase reports whether err is a TransformError that requires the
// client to resync (stale base or truncated history).
func IsStaleBase(err error) bool {
	var te *TransformError
	if errors.As(err, &te) {
		return te.Code == CodeStaleBase || te.Code == CodeHistoryTruncated
	}
	return false
}
