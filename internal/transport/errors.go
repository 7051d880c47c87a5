package transport

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotOpen is reported when an operation needs an open channel.
var ErrNotOpen = errors.New("channel not open")

// ConnectError is returned when the channel handshake fails. It is never
// retried by the transport itself.
type ConnectError struct {
	URL string
	// StatusCode is the HTTP status of the upgrade response, or 0 when the
	// server was never reached.
	StatusCode int
	Err        error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Rejected reports whether the server refused the credential during the
// handshake.
func (e *ConnectError) Rejected() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// ChannelError describes an unexpected loss of an established channel.
type ChannelError struct {
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel closed: %v", e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// MalformedEventError is produced for inbound payloads that cannot be decoded.
// Such events are dropped.
type MalformedEventError struct {
	Payload string
	Err     error
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed event %q: %v", e.Payload, e.Err)
}

func (e *MalformedEventError) Unwrap() error { return e.Err }
