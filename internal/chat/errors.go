package chat

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds reported at the boundary where they occur.
var (
	ErrValidation = errors.New("validation error")
	ErrUpstream   = errors.New("upstream error")
	ErrIdentity   = errors.New("identity error")
	ErrStorage    = errors.New("storage error")
	ErrCancelled  = errors.New("cancelled")
	ErrTimeout    = fmt.Errorf("%w: request timed out", ErrUpstream)
)

// UpstreamError describes a failed completion stream, preserving whatever
// content had arrived before the failure.
type UpstreamError struct {
	StatusCode int    // HTTP status from the relay, 0 when the stream broke mid-body
	Partial    string // content received before the error
	Err        error
}

func (e *UpstreamError) Error() string {
	msg := "upstream error"
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("upstream error (status %d)", e.StatusCode)
	}
	if e.Partial != "" {
		msg = fmt.Sprintf("%s after %d bytes", msg, len(e.Partial))
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Is matches ErrUpstream always and ErrTimeout for gateway timeouts.
func (e *UpstreamError) Is(target error) bool {
	switch target {
	case ErrUpstream:
		return true
	case ErrTimeout:
		return e.StatusCode == http.StatusGatewayTimeout
	}
	return false
}
