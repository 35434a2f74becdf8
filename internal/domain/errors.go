package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{Code: code, Message: message, Err: err}
}

// Common domain error codes
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeTransient     = "TRANSIENT_ERROR"
	ErrCodeUnavailable   = "CAPABILITY_UNAVAILABLE"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// Validation errors
var (
	ErrInvalidStatus        = NewDomainError(ErrCodeValidation, "invalid status value")
	ErrMissingSourceItemID  = NewDomainError(ErrCodeValidation, "source item has no identifier")
	ErrInvalidLabelerOutput = NewDomainError(ErrCodeValidation, "labeler returned malformed output")
	ErrEmptyContent         = NewDomainError(ErrCodeValidation, "content is empty")
)

// Not found errors
var (
	ErrUnitNotFound      = NewDomainError(ErrCodeNotFound, "content unit not found")
	ErrContainerNotFound = NewDomainError(ErrCodeNotFound, "container record not found")
)

// Capability errors
var (
	ErrLabelerUnavailable     = NewDomainError(ErrCodeUnavailable, "labeler capability not configured")
	ErrIndexUnavailable       = NewDomainError(ErrCodeUnavailable, "index service not configured")
	ErrTranscriberUnavailable = NewDomainError(ErrCodeUnavailable, "transcriber capability not configured")
)

// NewTransientError wraps an error that is expected to clear on retry,
// such as a timeout or refused connection from an external service.
func NewTransientError(message string, err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeTransient, message, err)
}

// IsTransient reports whether err carries the transient error code
// anywhere in its chain.
func IsTransient(err error) bool {
	for err != nil {
		if de, ok := err.(*DomainError); ok && de.Code == ErrCodeTransient {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
