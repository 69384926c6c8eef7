package billing

import (
	"errors"
	"fmt"
)

// ErrIdentityNotResolved is reported when the company name matches no row
// of the external ledger. It rejects a save only when resolution is
// required and the request does not allow unresolved names.
var ErrIdentityNotResolved = errors.New("company identity not resolved")

// ValidationError represents a malformed request field.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s (value: %v)", e.Field, e.Message, e.Value)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}
