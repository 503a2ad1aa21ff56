package shared

import "errors"

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common domain errors
var (
	ErrNotFound      = NewDomainError("NOT_FOUND", "Resource not found")
	ErrAlreadyExists = NewDomainError("ALREADY_EXISTS", "Resource already exists")
	ErrInvalidInput  = NewDomainError("INVALID_INPUT", "Invalid input provided")
	ErrInvalidState  = NewDomainError("INVALID_STATE", "Operation not allowed in current state")
	ErrForbidden     = NewDomainError("FORBIDDEN", "Access to this resource is forbidden")
)

// Sentinel errors used across the event and webhook pipeline
var (
	// ErrTenantIDRequired is returned when an operation that must run inside a
	// tenant context is invoked without one.
	ErrTenantIDRequired = errors.New("tenant id is required")
	// ErrUnknownEventType is returned when an event type is not in the registry.
	ErrUnknownEventType = errors.New("unknown event type")
	// ErrCrossTenant is returned when an operation would mix records that
	// belong to different tenants.
	ErrCrossTenant = errors.New("cross-tenant operation rejected")
)
