package core

import "errors"

// Error codes delivered to the originating connection. ErrCodeConflict is
// part of the wire taxonomy but currently unused: uniqueness conflicts are
// recovered internally (resolver re-query, join re-lookup) and never surface.
const (
	ErrCodeInvalidRequest    = "invalid_request"
	ErrCodeForbidden         = "forbidden"
	ErrCodeNotFound          = "not_found"
	ErrCodeConflict          = "conflict"
	ErrCodeUnavailable       = "unavailable"
	ErrCodeInconsistentState = "inconsistent_state"
)

var (
	// ErrInvalidPair is returned when a direct conversation is requested
	// between an identity and itself.
	ErrInvalidPair = errors.New("invalid identity pair")
	// ErrInconsistentState is returned when the resolver's retry after a
	// uniqueness conflict still finds no conversation. This indicates a
	// broken uniqueness constraint in the persistence collaborator.
	ErrInconsistentState = errors.New("inconsistent state")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}
