// Package rerr defines recall's error taxonomy. Sub-component failures are
// recovered locally wherever a degraded result exists; only embedding failure
// or total retrieval failure reach the caller, carrying a stable code and no
// internal identifiers.
package rerr

import (
	"errors"
	"fmt"
)

// Stable user-facing error codes.
const (
	CodeTransientIndex  = "TRANSIENT_INDEX"
	CodeEmbeddingFailed = "EMBEDDING_FAILED"
	CodeExternalCall    = "EXTERNAL_CALL_FAILED"
	CodeConsistency     = "CONSISTENCY_VIOLATION"
	CodeRetrievalFailed = "RETRIEVAL_FAILED"
	CodeSessionNotFound = "SESSION_NOT_FOUND"
	CodeInvalidRequest  = "INVALID_REQUEST"
)

// Error pairs a stable code with a wrapped cause. The cause is for logs; only
// Code and Message are safe to show a caller.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a coded error wrapping cause (cause may be nil).
func New(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

// CodeOf extracts the stable code from err, or "" if err carries none.
func CodeOf(err error) string {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// Embedding reports a fatal embedding failure for the current query.
func Embedding(cause error) *Error {
	return New(CodeEmbeddingFailed, "could not embed query", cause)
}

// Retrieval reports that every retrieval path errored.
func Retrieval(cause error) *Error {
	return New(CodeRetrievalFailed, "all retrieval paths failed", cause)
}
