// Package apperr defines the error taxonomy shared by the ingest, store and
// HTTP layers. Callers match with errors.Is / errors.As.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput is returned when an uploaded roster export has no data rows.
	ErrEmptyInput = errors.New("empty file: no member rows found")

	// ErrNotFound is returned when a management operation references an
	// unknown link, member or user.
	ErrNotFound = errors.New("not found")
)

// DecodeError reports a roster export whose bytes could not be turned into
// CSV records.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode failure: %s: %v", e.Reason, e.Err)
	}
	return "decode failure: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// StorageError reports a failed store transaction. The transaction has been
// rolled back when this is returned.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ValidationError reports malformed identity, URL or credential input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid is shorthand for constructing a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFound wraps ErrNotFound with the kind and key of the missing entity.
func NotFound(kind string, key any) error {
	return fmt.Errorf("%s %v: %w", kind, key, ErrNotFound)
}

// IsDecode reports whether err is (or wraps) a DecodeError.
func IsDecode(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// IsStorage reports whether err is (or wraps) a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
