// Package validation defines the structured, field-attributable errors
// returned by domain validation. Every failure carries a machine-readable
// code, the offending field, and a human message so the HTTP layer can map
// it to a wire response without parsing strings.
package validation

import (
	"errors"
	"strings"
)

// Code identifies a class of validation failure.
type Code string

const (
	// File upload pipeline.
	CodeEmptyFile          Code = "empty_file"
	CodeFileTooLarge       Code = "file_too_large"
	CodeDisallowedExt      Code = "disallowed_extension"
	CodeMimeTypeSpoofing   Code = "mime_type_spoofing"
	CodeDisallowedMimeType Code = "disallowed_mime_type"
	CodeCorruptFile        Code = "corrupt_file"
	CodeInvalidOwnerID     Code = "invalid_owner_id"

	// Status lifecycles.
	CodeInvalidTransition         Code = "invalid_transition"
	CodeMissingRejectionReason    Code = "missing_rejection_reason"
	CodeUnexpectedRejectionReason Code = "unexpected_rejection_reason"
	CodePrescriptionNotVerified   Code = "prescription_not_verified"
	CodeMissingTrackingNumber     Code = "missing_tracking_number"

	// Numeric invariants.
	CodeInvalidAmount   Code = "invalid_amount"
	CodeInvalidQuantity Code = "invalid_quantity"
	CodeInvalidPrice    Code = "invalid_price"

	// Generic field checks.
	CodeRequired      Code = "required"
	CodeTooLong       Code = "too_long"
	CodeInvalidFormat Code = "invalid_format"
	CodeInvalidValue  Code = "invalid_value"
	CodeAlreadyExists Code = "already_exists"
	CodeWeakPassword  Code = "weak_password"
)

// Error is a single validation failure attributed to one field.
type Error struct {
	Field   string `json:"field"`
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// NewError builds a validation error for a field.
func NewError(code Code, field, message string) *Error {
	return &Error{Field: field, Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Errors aggregates the failures of one validation pass. Pipelines fail
// fast and return a single *Error; entity field validation collects every
// violated rule into one Errors value.
type Errors []*Error

func (es Errors) Error() string {
	parts := make([]string, 0, len(es))
	for _, e := range es {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}

// Add appends a failure to the collection.
func (es *Errors) Add(code Code, field, message string) {
	*es = append(*es, NewError(code, field, message))
}

// ErrOrNil returns the collection as an error, or nil when empty.
func (es Errors) ErrOrNil() error {
	if len(es) == 0 {
		return nil
	}
	return es
}

// Flatten extracts the individual field errors from err, whether err is a
// single *Error, an Errors aggregate, or wraps one of them. Returns nil for
// non-validation errors.
func Flatten(err error) []*Error {
	var single *Error
	if errors.As(err, &single) {
		return []*Error{single}
	}
	var many Errors
	if errors.As(err, &many) {
		return many
	}
	return nil
}

// HasCode reports whether err contains a validation failure with the code.
func HasCode(err error, code Code) bool {
	for _, e := range Flatten(err) {
		if e.Code == code {
			return true
		}
	}
	return false
}

// IsValidation reports whether err is a validation failure of any kind.
func IsValidation(err error) bool {
	return len(Flatten(err)) > 0
}
