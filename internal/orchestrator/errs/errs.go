// Package errs defines the error taxonomy shared by the orchestration engine.
//
// Validation problems are reported before anything runs. Execution, timeout
// and retry-exhaustion errors describe a single test; the batch scheduler turns
// them into failed results instead of aborting the batch. Assertion failures
// are never errors: they are reported in the result.
package errs

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a malformed spec or configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Err returns the collection as an error, or nil when it is empty.
func (e *ValidationErrors) Err() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// ExecutionError reports that the request executor failed a test.
type ExecutionError struct {
	Test    string
	Failed  int64
	Total   int64
	LastErr error
}

func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("execution of %q failed: %d/%d requests failed", e.Test, e.Failed, e.Total)
	if e.LastErr != nil {
		msg += ": " + e.LastErr.Error()
	}
	return msg
}

func (e *ExecutionError) Unwrap() error { return e.LastErr }

// TimeoutError reports that a request or test ceiling was exceeded.
type TimeoutError struct {
	Test    string
	Ceiling time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("test %q exceeded its %s ceiling", e.Test, e.Ceiling)
}

// RetryExhaustedError reports that a batch sub-test failed after all retries.
type RetryExhaustedError struct {
	Test     string
	Attempts int
	LastErr  error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("test %q failed after %d attempts: %v", e.Test, e.Attempts, e.LastErr)
}

func (e *RetryExhaustedError) Unwrap() error { return e.LastErr }

// IsValidation reports whether err is (or wraps) a validation failure.
func IsValidation(err error) bool {
	var single *ValidationError
	var multi *ValidationErrors
	return errors.As(err, &single) || errors.As(err, &multi)
}
