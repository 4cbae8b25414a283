package types

import aferrors "github.com/mantonx/audioforge/internal/modules/audiomodule/errors"

// ValidationError represents an option validation error with field context
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Unwrap lets callers match option problems against ErrInvalidOptions.
func (e *ValidationError) Unwrap() error {
	return aferrors.ErrInvalidOptions
}
