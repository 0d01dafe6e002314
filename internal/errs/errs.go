// Package errs defines the error taxonomy shared across the pyramid:
// configuration errors are fatal at startup, external-service errors
// surface to the caller of the enclosing operation, and consistency
// errors are detected when loading persisted index state.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrConfiguration = errors.New("configuration error")
	ErrExternal      = errors.New("external service error")
	ErrConsistency   = errors.New("consistency error")
	ErrRetrieval     = errors.New("retrieval error")
	ErrInvalidInput  = errors.New("invalid input")
)

// Configf wraps a configuration problem. Not retried.
func Configf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrConfiguration}, args...)...)
}

// External wraps a failed embedding/generation call.
func External(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrExternal, op, err)
}

// Externalf wraps an external-service problem without an underlying error,
// such as an unrecognized provider response shape.
func Externalf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrExternal}, args...)...)
}

// Consistencyf wraps a vector/metadata pairing violation.
func Consistencyf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrConsistency}, args...)...)
}

// HTTPStatusCode maps a taxonomy error to an HTTP status for the tier
// service surface.
func HTTPStatusCode(err error) int {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, ErrExternal):
		return http.StatusBadGateway
	case errors.Is(err, ErrConsistency):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
