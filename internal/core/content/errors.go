package content

import (
	"errors"
	"fmt"
)

var (
	// ErrNoNetwork indicates the remote call never reached the server.
	ErrNoNetwork = errors.New("no network")

	// ErrNotFound indicates the server confirmed the item does not exist.
	ErrNotFound = errors.New("content not found")

	// ErrNotAuthenticated indicates the request was rejected for missing or
	// expired credentials. Not retried automatically.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrNotCached indicates the item is absent from the local store.
	ErrNotCached = errors.New("content not cached")

	// ErrStorage wraps local I/O failures. Fatal to the operation, not the
	// process.
	ErrStorage = errors.New("storage error")
)

// ValidationError is a field-scoped validation failure, produced either by
// local draft validation or mapped back from a server rejection.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// NewValidationError creates a field-scoped validation error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError checks whether err carries a field-scoped validation
// failure anywhere in its chain.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound checks if an error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotCached)
}

// IsOffline checks if an error means no remote call could be attempted.
func IsOffline(err error) bool {
	return errors.Is(err, ErrNoNetwork)
}
