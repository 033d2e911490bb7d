package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates a malformed or otherwise rejected input.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates an equivalent active record already exists.
	ErrConflict = errors.New("conflict")
	// ErrUnavailable indicates the backing store could not be reached.
	ErrUnavailable = errors.New("store unavailable")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// ErrValidationf wraps ErrValidation with a formatted detail message.
func ErrValidationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
