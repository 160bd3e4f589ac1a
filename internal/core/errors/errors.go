// Package errors provides centralized error definitions for the application.
//
// Naming conventions:
//   - Exported errors (Err*): Use for errors that callers need to check with errors.Is
//   - All sentinel errors should be defined as variables, not inline errors.New calls
//   - Use fmt.Errorf with %w to wrap sentinel errors with context
package errors

import "errors"

// Pipeline stage preconditions.
var (
	// ErrNoQuotes indicates a stage completed without producing or finding any
	// quotes. Callers may clean up the partially created output directory.
	ErrNoQuotes = errors.New("no quotes found")

	// ErrNoInput indicates no input rows were available for a stage.
	ErrNoInput = errors.New("no input rows")

	// ErrAnalysisMissing indicates categorization started before the code
	// analysis file was produced.
	ErrAnalysisMissing = errors.New("analysis file missing")
)

// Model response errors.
var (
	// ErrEmptyResponse indicates the model returned no usable content.
	ErrEmptyResponse = errors.New("empty response")

	// ErrMalformedResponse indicates the model returned content that does not
	// decode into the expected schema. Never retried.
	ErrMalformedResponse = errors.New("malformed model response")
)

// Server state errors.
var (
	// ErrBusy indicates a processing run is already in progress.
	ErrBusy = errors.New("processing already in progress")
)

// Is is a convenience wrapper around errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
