package merge

import (
	"errors"
	"fmt"

	"github.com/wstermayne/espmerge/internal/record"
)

// RunError represents an error detected during a merge run.
//
// Run errors abort the current output target entirely and propagate to
// the caller with the identity of the offending plugin, cell, or
// reference attached. Recoverable conditions (ignored missing
// references, truncation) never surface as RunError; they go through
// the reporting channel instead.
type RunError struct {
	// Code identifies the error category.
	Code RunErrorCode

	// Message is a human-readable description.
	Message string

	// Plugin is the plugin being merged when the error occurred.
	Plugin string

	// Cell identifies the affected cell, when applicable.
	Cell string

	// Ref identifies the affected reference, when applicable.
	Ref record.RefKey
}

// RunErrorCode categorizes run errors.
type RunErrorCode string

const (
	// ErrCodeFormat indicates a malformed plugin (bad header, duplicate
	// header, undecodable record).
	ErrCodeFormat RunErrorCode = "FORMAT"

	// ErrCodeRefrOverflow indicates the global reference id allocator
	// ran out of representable indices.
	ErrCodeRefrOverflow RunErrorCode = "REFR_OVERFLOW"

	// ErrCodeMissingRef indicates an external reference pointing at a
	// cell or instance absent from its declared master, raised only
	// under the strict (no-ignore-errors) policy.
	ErrCodeMissingRef RunErrorCode = "MISSING_REF"

	// ErrCodeInternal indicates an index-consistency violation that
	// should be unreachable (e.g. a moved-instance source or
	// destination cell missing from the cell index).
	ErrCodeInternal RunErrorCode = "INTERNAL"

	// ErrCodeUnexpectedTag indicates plugin content the decoder cannot
	// model and the ignore-list does not cover.
	ErrCodeUnexpectedTag RunErrorCode = "UNEXPECTED_TAG"
)

// Error implements the error interface.
func (e *RunError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Plugin != "" {
		msg += fmt.Sprintf(" (plugin=%s", e.Plugin)
		if e.Cell != "" {
			msg += fmt.Sprintf(", cell=%s", e.Cell)
		}
		msg += ")"
	} else if e.Cell != "" {
		msg += fmt.Sprintf(" (cell=%s)", e.Cell)
	}
	return msg
}

// IsFormatError reports whether err is a plugin format violation.
// Uses errors.As to handle wrapped errors.
func IsFormatError(err error) bool {
	var re *RunError
	if errors.As(err, &re) {
		return re.Code == ErrCodeFormat
	}
	return false
}

// IsMissingRefError reports whether err is a strict-policy missing
// reference error.
func IsMissingRefError(err error) bool {
	var re *RunError
	if errors.As(err, &re) {
		return re.Code == ErrCodeMissingRef
	}
	return false
}

// IsOverflowError reports whether err is a reference allocator
// overflow.
func IsOverflowError(err error) bool {
	var re *RunError
	if errors.As(err, &re) {
		return re.Code == ErrCodeRefrOverflow
	}
	return false
}
