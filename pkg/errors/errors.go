// Package errors provides coded errors for svctools.
// Fatal conditions (missing columns, bad parameters) surface as *SvcError;
// row-level problems are counted by the normalizer instead of returned.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// Code identifies an error class for programmatic handling.
type Code string

const (
	// Input errors (1xx)
	CodeFileNotFound   Code = "E101"
	CodeFilePermission Code = "E102"
	CodeInvalidFormat  Code = "E103"
	CodeMissingField   Code = "E104"
	CodeEmptyInput     Code = "E105"
	CodeInputTooLarge  Code = "E106"

	// Processing errors (2xx)
	CodeParseFailed   Code = "E201"
	CodeInvalidParams Code = "E203"

	// Output errors (3xx)
	CodeWriteFailed Code = "E301"

	// System errors (4xx)
	CodeContextCanceled Code = "E401"
	CodeTimeout         Code = "E402"

	// Unknown
	CodeUnknown Code = "E999"
)

// SvcError is the base error type for all svctools errors.
type SvcError struct {
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

// Error implements the error interface. Context keys are printed in sorted
// order so messages are stable.
func (e *SvcError) Error() string {
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
func (e *SvcError) Unwrap() error {
	return e.Cause
}

// Is matches another *SvcError with the same code.
func (e *SvcError) Is(target error) bool {
	if t, ok := target.(*SvcError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *SvcError) WithContext(key string, value interface{}) *SvcError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new SvcError.
func New(code Code, message string) *SvcError {
	return &SvcError{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Wrap wraps an existing error with a code and message. Returns nil for a nil err.
func Wrap(err error, code Code, message string) *SvcError {
	if err == nil {
		return nil
	}

	return &SvcError{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *SvcError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

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
func (e *SvcError) FormatStack() string {
	var sb strings.Builder
	for _, f := range e.StackTrace {
		sb.WriteString(fmt.Sprintf("  at %s\n    %s:%d\n", f.Function, f.File, f.Line))
	}
	return sb.String()
}

// --- Convenience constructors ---

// FileNotFound creates a file not found error.
func FileNotFound(path string) *SvcError {
	return New(CodeFileNotFound, "file not found").WithContext("path", path)
}

// MissingField reports canonical fields that could not be mapped to a column.
func MissingField(fields []string, available []string) *SvcError {
	return New(CodeMissingField, "required field not resolved").
		WithContext("fields", fields).
		WithContext("available", available)
}

// InvalidParams reports a parameter problem that prevents a run.
func InvalidParams(message string) *SvcError {
	return New(CodeInvalidParams, message)
}

// ContextCanceled creates a cancellation error.
func ContextCanceled(operation string, cause error) *SvcError {
	return Wrap(cause, CodeContextCanceled, "operation canceled").
		WithContext("operation", operation)
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var svcErr *SvcError
	if errors.As(err, &svcErr) {
		return svcErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var svcErr *SvcError
	if errors.As(err, &svcErr) {
		return svcErr.Code
	}
	return CodeUnknown
}

// Fields returns the unresolved field names carried by a MissingField error.
func Fields(err error) []string {
	var svcErr *SvcError
	if !errors.As(err, &svcErr) || svcErr.Code != CodeMissingField {
		return nil
	}
	fields, _ := svcErr.Context["fields"].([]string)
	return fields
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

// HasErrors returns true if any errors were collected.
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// Combined returns nil if no errors, the single error if one, or the MultiError.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}
