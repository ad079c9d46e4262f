package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures so that callers can
// distinguish "too slow" from "produced bad output". The string
// values are persisted in the job record.
type ErrorKind string

const (
	KindValidation           ErrorKind = "validation"
	KindInsufficientEvidence ErrorKind = "insufficient_evidence"
	KindDraftGeneration      ErrorKind = "draft_generation"
	KindEvaluation           ErrorKind = "evaluation"
	KindTransient            ErrorKind = "transient"
	KindTimeout              ErrorKind = "timeout"
	KindPollingTimeout       ErrorKind = "polling_timeout"
	KindInternal             ErrorKind = "internal"
)

// Error carries a classified pipeline failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind and message. err may be nil.
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the error kind from err, mapping context deadline
// errors to the timeout kind and everything unclassified to internal.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}
