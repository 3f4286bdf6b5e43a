package reconcile

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by Service is a *SyncError whose Kind is
// one of these, so callers can switch on errors.Is.
var (
	ErrUnauthorized          = errors.New("unauthorized")
	ErrChannelNotFound       = errors.New("channel not found")
	ErrProductNotFound       = errors.New("product not found")
	ErrInvalidChannelType    = errors.New("invalid channel type")
	ErrValidation            = errors.New("validation failed")
	ErrInvalidState          = errors.New("invalid or expired oauth state")
	ErrSyncInProgress        = errors.New("sync already in progress for channel")
	ErrNotConfigured         = errors.New("marketplace app not configured")
	ErrUpstreamRequestFailed = errors.New("upstream request failed")
	ErrPersistenceFailed     = errors.New("persistence failed")
)

// SyncError pairs a kind with a client-safe message and the underlying cause.
// Msg is shown to callers; Err is for logs only.
type SyncError struct {
	Kind error
	Msg  string
	Err  error
}

func (e *SyncError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *SyncError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Public is the message safe to return over HTTP. Upstream and persistence
// failures get a generic text.
func (e *SyncError) Public() string {
	switch e.Kind {
	case ErrUpstreamRequestFailed:
		return "marketplace request failed"
	case ErrPersistenceFailed:
		return "internal error"
	}
	if e.Msg != "" {
		return e.Msg
	}
	return e.Kind.Error()
}

func fail(kind error, msg string, err error) *SyncError {
	return &SyncError{Kind: kind, Msg: msg, Err: err}
}

// NewError builds a *SyncError for packages that share this taxonomy.
func NewError(kind error, msg string, err error) *SyncError { return fail(kind, msg, err) }
