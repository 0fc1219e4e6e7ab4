package onebot

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is wrapped in a TransportError when the socket is not open.
	ErrNotConnected = errors.New("onebot: socket not connected")
	// ErrActionTimeout is returned when no response arrives within the action window.
	ErrActionTimeout = errors.New("onebot: action timed out")
	// ErrStopped is returned to every pending request when the client stops.
	ErrStopped = errors.New("onebot: client stopped")
	// ErrHTTPNotConfigured is returned by the HTTP transport without a base URL.
	ErrHTTPNotConfigured = errors.New("onebot: http fallback not configured")
	// ErrDecode marks a frame that is neither an event nor a response.
	ErrDecode = errors.New("onebot: unrecognized frame")
	// ErrMissingURL is returned before any network attempt when ws_url is unset.
	ErrMissingURL = errors.New("onebot: ws_url is required")
)

// TransportError reports that the socket path could not carry an action.
// It is the only failure that makes FallbackTransport try HTTP.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("onebot: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ActionFailedError is a response with status "failed".
type ActionFailedError struct {
	Action  string
	Retcode int
	Message string
}

func (e *ActionFailedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("onebot: action %s failed (retcode %d): %s", e.Action, e.Retcode, e.Message)
	}
	return fmt.Sprintf("onebot: action %s failed (retcode %d)", e.Action, e.Retcode)
}

// HTTPStatusError is a non-2xx response from the HTTP fallback.
type HTTPStatusError struct {
	Action     string
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("onebot: http %s returned %d: %s", e.Action, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("onebot: http %s returned %d", e.Action, e.StatusCode)
}

// IsTransportError reports whether err is a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
