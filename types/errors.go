package types

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors classifying orchestration failures.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrInvalidInput indicates blank or malformed caller input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound indicates a referenced image does not exist.
	ErrNotFound = errors.New("not found")

	// ErrToolFailure indicates a nonzero exit or a missing output file.
	ErrToolFailure = errors.New("tool failure")

	// ErrProtocolFailure indicates a clean exit without a usable result.
	ErrProtocolFailure = errors.New("protocol failure")

	// ErrIOFailure indicates a filesystem or storage error.
	ErrIOFailure = errors.New("io failure")

	// ErrToolTimeout indicates the tool exceeded its configured time bound.
	ErrToolTimeout = errors.New("tool timeout")

	// ErrBusy indicates another run holds the artifact for the same image.
	ErrBusy = errors.New("artifact busy")
)

// NoExitCode marks a RunError that did not come from a finished process.
const NoExitCode = -1

// RunError wraps a failure with its classification and diagnostics.
// It preserves the underlying error for errors.As inspection.
type RunError struct {
	// Kind is the sentinel used for classification (e.g. ErrToolFailure).
	Kind error
	// Op names the operation that failed (e.g. "segment", "markers").
	Op string
	// Message is a human-readable description.
	Message string
	// ExitCode is the tool exit status, or NoExitCode.
	ExitCode int
	// Output is an excerpt of the captured tool output, if any.
	Output string
	// Err is the underlying error, if any.
	Err error
}

// NewRunError creates a classified error without process diagnostics.
func NewRunError(kind error, op, message string, err error) *RunError {
	return &RunError{
		Kind:     kind,
		Op:       op,
		Message:  message,
		ExitCode: NoExitCode,
		Err:      err,
	}
}

// WithTool attaches the exit code and an output excerpt.
func (e *RunError) WithTool(exitCode int, output string) *RunError {
	e.ExitCode = exitCode
	e.Output = output
	return e
}

func (e *RunError) Error() string {
	msg := fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Message)
	if e.ExitCode != NoExitCode {
		msg = fmt.Sprintf("%s (exit code %d)", msg, e.ExitCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *RunError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *RunError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// HTTPStatus maps an error to the status a web layer should return.
// Caller mistakes map to 4xx, everything else to 5xx.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBusy):
		return http.StatusConflict
	case errors.Is(err, ErrToolTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
