package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown devices, alerts, or empty histories.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned when device or dashboard credentials are rejected.
	ErrUnauthorized = errors.New("unauthorized")
)

// ValidationError rejects input before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
