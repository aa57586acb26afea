package domain

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrNotFound is returned for absent entities and for entities owned by
	// someone else. Callers never learn that a foreign entity exists.
	ErrNotFound = errors.New("not found")

	// ErrInvalidStatus is returned when an operation requires a job status
	// the job is not in.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrConflict is returned when an optimistic-concurrency write lost a race
	// more times than the caller is willing to retry.
	ErrConflict = errors.New("concurrent modification")

	// ErrDuplicateJobID marks a repeated id inside a bulk request.
	ErrDuplicateJobID = errors.New("duplicate job id")
)

// ValidationError reports an invalid field in caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Invalid builds a *ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err carries a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
