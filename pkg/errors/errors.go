// Package errors provides structured errors with codes, context, and stack
// traces for commtrace.
package errors

import (
	"errors"
	"fmt"
	"io/fs"
	"runtime"
	"sort"
	"strings"
)

// Error codes for programmatic handling
type Code string

const (
	// Input errors (1xx)
	CodeFileNotFound   Code = "E101"
	CodeFilePermission Code = "E102"
	CodeInvalidFormat  Code = "E103"
	CodeReadFailed     Code = "E106"

	// Processing errors (2xx)
	CodeExtractFailed Code = "E201"
	CodeCacheFailed   Code = "E202"

	// Output errors (3xx)
	CodeWriteFailed  Code = "E301"
	CodeUploadFailed Code = "E302"

	// System errors (4xx)
	CodeCanceled Code = "E401"
	CodeConfig   Code = "E402"

	// Unknown
	CodeUnknown Code = "E999"
)

// Error is the base error type for all commtrace errors.
type Error struct {
	Code       Code
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace []Frame
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface. Context keys are printed in
// sorted order so messages are stable.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new Error.
func New(code Code, message string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Wrap wraps an existing error with a code and message.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// captureStack captures the current stack trace.
func captureStack(skip int) []Frame {
	var frames []Frame
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	pcs = pcs[:n]

	cf := runtime.CallersFrames(pcs)
	for {
		frame, more := cf.Next()
		frames = append(frames, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// FormatStack returns a formatted stack trace.
func (e *Error) FormatStack() string {
	var sb strings.Builder
	for _, f := range e.StackTrace {
		sb.WriteString(fmt.Sprintf("  at %s\n    %s:%d\n", f.Function, f.File, f.Line))
	}
	return sb.String()
}

// --- Convenience constructors ---

// OpenFailed classifies a failure to open a trace or output path.
func OpenFailed(path string, err error) *Error {
	code := CodeReadFailed
	switch {
	case errors.Is(err, fs.ErrNotExist):
		code = CodeFileNotFound
	case errors.Is(err, fs.ErrPermission):
		code = CodeFilePermission
	}
	return Wrap(err, code, "open failed").WithContext("path", path)
}

// ReadFailed wraps an I/O error raised while reading a trace.
func ReadFailed(err error) *Error {
	return Wrap(err, CodeReadFailed, "read failed")
}

// WriteFailed wraps an error raised while writing an output.
func WriteFailed(target string, err error) *Error {
	return Wrap(err, CodeWriteFailed, "write failed").WithContext("output", target)
}

// Canceled creates a cancellation error. cause is normally ctx.Err().
func Canceled(operation string, cause error) *Error {
	e := New(CodeCanceled, "operation canceled").WithContext("operation", operation)
	e.Cause = cause
	return e
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var ctErr *Error
	if errors.As(err, &ctErr) {
		return ctErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var ctErr *Error
	if errors.As(err, &ctErr) {
		return ctErr.Code
	}
	return CodeUnknown
}

// MultiError collects multiple errors.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:\n", len(m.Errors)))
	for i, err := range m.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// ErrorOrNil returns nil if there are no errors.
func (m *MultiError) ErrorOrNil() error {
	if len(m.Errors) == 0 {
		return nil
	}
	return m
}

// Unwrap returns the collected errors for errors.Is and errors.As.
func (m *MultiError) Unwrap() []error {
	return m.Errors
}
