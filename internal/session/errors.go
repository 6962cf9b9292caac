package session

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the session layer.
var (
	// ErrMissingToken indicates a 2xx auth response without the expected
	// access_token field. This is a contract violation by the backend,
	// distinct from a transport failure, but callers treat both as
	// "no usable token was produced".
	ErrMissingToken = errors.New("auth response missing access token")

	// ErrSessionExpired is the terminal recovery error: renewal and full
	// re-exchange were both attempted and failed (or no identity
	// assertion was available for re-exchange). The stored token has
	// been removed by the time this error is returned.
	ErrSessionExpired = errors.New("session expired")

	// ErrUnsupportedContext is returned at startup when no identity
	// assertion exists in the launch environment at all. The client
	// cannot function outside a host-platform launch context.
	ErrUnsupportedContext = errors.New("unsupported launch context: no init data available")
)

// AuthError wraps a failure of an auth network operation (exchange or
// renewal) with the operation that produced it.
type AuthError struct {
	// Op is the failed operation, "exchange" or "renew".
	Op string

	// Err is the underlying cause: a transport error, a non-2xx status,
	// or ErrMissingToken.
	Err error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return fmt.Sprintf("auth %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause for error chain inspection.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// StatusError reports a non-2xx response from an auth endpoint.
type StatusError struct {
	StatusCode int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// IsAuthorizationFailure reports whether err came out of an auth
// operation, regardless of the specific cause.
func IsAuthorizationFailure(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
