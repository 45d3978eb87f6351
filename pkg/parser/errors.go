package parser

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedRecord marks a handled record that could not be decoded.
	// Decode never returns it; callers that want a malformed record as an
	// error use AsError.
	ErrMalformedRecord = errors.New("parser: malformed record")
)

// RecordError describes a malformed record.
type RecordError struct {
	Line   int
	Code   string
	Reason string
}

// Error implements the error interface.
func (e *RecordError) Error() string {
	return fmt.Sprintf("parser: line %d: event %s: %s", e.Line, e.Code, e.Reason)
}

// Unwrap returns ErrMalformedRecord.
func (e *RecordError) Unwrap() error {
	return ErrMalformedRecord
}

// AsError returns a *RecordError for a malformed record and nil otherwise.
func AsError(rec Record) error {
	if rec.Kind != KindMalformed {
		return nil
	}
	return &RecordError{Line: rec.Line, Code: rec.Code, Reason: rec.Reason}
}
