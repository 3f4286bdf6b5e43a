package marketplace

import (
	"errors"
	"fmt"
)

var (
	// ErrUpstream wraps every non-2xx marketplace response.
	ErrUpstream = errors.New("marketplace request failed")
	// ErrAuth wraps token endpoint failures.
	ErrAuth = errors.New("marketplace authentication failed")
	// ErrCredentials means the stored credential blob cannot authenticate a request.
	ErrCredentials = errors.New("invalid channel credentials")
	// ErrUnsupported is returned when a marketplace lacks the requested capability.
	ErrUnsupported = errors.New("operation not supported by marketplace")
	// ErrNotConfigured means the OAuth app for the marketplace has no client id/secret/redirect.
	ErrNotConfigured = errors.New("marketplace app not configured")
)

// UpstreamError carries the HTTP status and body text of a failed call.
// Callers must not retry on it.
type UpstreamError struct {
	Marketplace string
	Status      int
	Body        string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s API request failed: %d %s", e.Marketplace, e.Status, e.Body)
}

func (e *UpstreamError) Unwrap() error { return ErrUpstream }

// AuthError is an UpstreamError raised by a token endpoint.
type AuthError struct {
	Marketplace string
	Err         error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s token request failed: %v", e.Marketplace, e.Err)
}

func (e *AuthError) Unwrap() []error { return []error{ErrAuth, e.Err} }
