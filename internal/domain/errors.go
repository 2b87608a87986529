package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent rule violations. They are distinct from
// infrastructure errors (database, filesystem, network).

var (
	// ===========================================
	// Ingestion Errors
	// ===========================================

	// ErrUnsupportedType indicates the declared content type is not in the allow-list.
	ErrUnsupportedType = errors.New("unsupported content type")

	// ErrTooLarge indicates the upload exceeded the configured size limit.
	ErrTooLarge = errors.New("content too large")

	// ===========================================
	// Lookup Errors
	// ===========================================

	// ErrObjectNotFound indicates the requested object does not exist.
	ErrObjectNotFound = errors.New("object not found")

	// ErrThumbnailNotFound indicates no thumbnail was derived for the object.
	ErrThumbnailNotFound = errors.New("thumbnail not found")

	// ===========================================
	// Request Errors
	// ===========================================

	// ErrInvalidArgument indicates a malformed or out of range parameter.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidCursor indicates a pagination cursor that could not be decoded.
	ErrInvalidCursor = &DomainError{Err: ErrInvalidArgument, Message: "malformed cursor"}
)

// DomainError wraps a domain error with additional context.
type DomainError struct {
	// Err is the underlying domain error.
	Err error

	// Message provides additional context.
	Message string

	// Resource identifies the affected resource (object id, filename, tag).
	Resource string
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Err.Error(), e.Message, e.Resource)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/errors.As.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError with context.
func NewDomainError(err error, message, resource string) *DomainError {
	return &DomainError{
		Err:      err,
		Message:  message,
		Resource: resource,
	}
}

// Kind returns a short machine readable name for the class of err.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedType):
		return "UnsupportedType"
	case errors.Is(err, ErrTooLarge):
		return "TooLarge"
	case errors.Is(err, ErrObjectNotFound), errors.Is(err, ErrThumbnailNotFound):
		return "NotFound"
	case errors.Is(err, ErrInvalidArgument):
		return "InvalidArgument"
	default:
		return "InternalError"
	}
}
