// Package types provides shared types, interfaces, and errors for the application.
package types

import "errors"

// Sentinel errors for consistent error handling across the application.
// These errors can be checked with errors.Is() for type-safe error handling.
var (
	// Remote auth errors
	ErrNetworkFailure = errors.New("network failure talking to auth backend")
	ErrAuthRejected   = errors.New("auth backend rejected the request")

	// Host capability errors (proxy settings, identity, storage)
	ErrHostCapability = errors.New("host capability call failed")

	// Session errors
	ErrNoSession       = errors.New("no stored session")
	ErrNoIdentityToken = errors.New("no identity token available")

	// Proxy errors
	ErrInvalidRule = errors.New("invalid proxy rule")

	// Message errors
	ErrUnknownAction = errors.New("Unknown action")
)

// AuthError provides detailed information about remote auth failures.
// It implements the error interface and supports error unwrapping.
type AuthError struct {
	Op      string // Operation: "login" or "verify"
	Status  int    // HTTP status code, 0 when no response was received
	Message string // Human-readable error message
	Err     error  // ErrNetworkFailure or ErrAuthRejected (for unwrapping)
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates an error for transport or decoding failures.
func NewNetworkError(op string, cause error) *AuthError {
	msg := op + " request failed"
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return &AuthError{
		Op:      op,
		Message: msg,
		Err:     errors.Join(ErrNetworkFailure, cause),
	}
}

// NewAuthRejectedError creates an error for a success:false backend reply.
func NewAuthRejectedError(op string, status int, reason string) *AuthError {
	if reason == "" {
		reason = "rejected"
	}
	return &AuthError{
		Op:      op,
		Status:  status,
		Message: op + " rejected by backend: " + reason,
		Err:     ErrAuthRejected,
	}
}

// HostError describes a failed call into a host capability.
type HostError struct {
	Capability string // "proxy", "identity", "storage"
	Op         string // e.g. "set", "clear", "get"
	Err        error  // Underlying error
}

// Error implements the error interface.
func (e *HostError) Error() string {
	msg := e.Capability + " " + e.Op + " failed"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns both the sentinel and the underlying cause.
func (e *HostError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrHostCapability}
	}
	return []error{ErrHostCapability, e.Err}
}

// NewHostError wraps err as a host capability failure.
func NewHostError(capability, op string, err error) *HostError {
	return &HostError{
		Capability: capability,
		Op:         op,
		Err:        err,
	}
}

// IsInvalidSession reports whether err means the stored session can no
// longer be trusted and must be cleared.
func IsInvalidSession(err error) bool {
	return errors.Is(err, ErrAuthRejected)
}
