// Package shared provides domain types and errors used across the authorization domain.
package shared

import (
	"errors"
	"fmt"
)

// Domain errors.
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrConflict        = errors.New("conflict")
	ErrValidation      = errors.New("validation error")
	ErrTenantIsolation = errors.New("tenant isolation violation")
	ErrTransport       = errors.New("transport error")
)

// DomainError carries a machine-readable code alongside a wrapped sentinel.
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError.
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewValidationError returns a DomainError wrapping ErrValidation.
func NewValidationError(message string) *DomainError {
	return NewDomainError("VALIDATION", message, ErrValidation)
}

// NewTenantIsolationError returns a DomainError wrapping ErrTenantIsolation.
func NewTenantIsolationError(message string) *DomainError {
	return NewDomainError("TENANT_ISOLATION", message, ErrTenantIsolation)
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsTenantIsolation checks if the error crossed an organization boundary.
func IsTenantIsolation(err error) bool {
	return errors.Is(err, ErrTenantIsolation)
}
