// Package queryerr defines the error taxonomy shared by the query compiler and the
// row-set session. Callers match with errors.Is; every returned error wraps exactly one
// of the sentinels below and carries the offending key or range in its message.
package queryerr

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidQuery reports a malformed lookup key, a traversal segment that is not a
	// foreign key, a non-sequence value for "in", or an unsupported range stride.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrObjectNotFound is returned when a single-object lookup matched no rows.
	ErrObjectNotFound = errors.New("object does not exist")

	// ErrMultipleObjects is returned when a single-object lookup matched more than one row.
	ErrMultipleObjects = errors.New("multiple objects returned")

	// ErrInvalidRange reports a negative index or offset, or an end before the start.
	ErrInvalidRange = errors.New("invalid range")
)

// Invalid wraps ErrInvalidQuery with a formatted detail message.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}

// Range wraps ErrInvalidRange with a formatted detail message.
func Range(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRange, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrObjectNotFound for the named entity.
func NotFound(entity string) error {
	return fmt.Errorf("%s: %w", entity, ErrObjectNotFound)
}

// Multiple wraps ErrMultipleObjects for the named entity and match count.
func Multiple(entity string, count int) error {
	return fmt.Errorf("%s: %w (got %d)", entity, ErrMultipleObjects, count)
}
