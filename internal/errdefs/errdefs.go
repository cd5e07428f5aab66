// Package errdefs defines the error taxonomy shared by the vault, the router
// and the transports that map it to status codes.
package errdefs

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration reports a missing or invalid master key. Fatal.
	ErrConfiguration = errors.New("configuration error")
	// ErrIntegrity reports a ciphertext that failed authentication.
	ErrIntegrity = errors.New("integrity check failed")
	// ErrNotFound reports an unknown credential, integration or magic-link token.
	ErrNotFound = errors.New("not found")
	// ErrGone reports a campaign that is no longer active.
	ErrGone = errors.New("gone")
	// ErrValidation reports malformed caller input.
	ErrValidation = errors.New("validation failed")
)

// ValidationError describes which input was rejected and why.
type ValidationError struct {
	Field  string
	Reason string
	Cause  error
}

// Validation returns a *ValidationError for field.
func Validation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) true for every *ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}
