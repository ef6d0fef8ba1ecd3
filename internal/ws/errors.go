package ws

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by Send when no socket is open. Expected
// during connectivity gaps; callers match it with errors.Is and fall back to
// the retry path instead of treating it as fatal.
var ErrNotConnected = errors.New("websocket not connected")

// SendError wraps a transport-level write failure.
type SendError struct {
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed: %v", e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// SendStatus is the explicit result of a Send attempt. Expected network
// conditions are values, not control-flow exceptions.
type SendStatus int

const (
	SendOK SendStatus = iota
	SendNotConnected
	SendTransportError
)

func (s SendStatus) String() string {
	switch s {
	case SendOK:
		return "ok"
	case SendNotConnected:
		return "not_connected"
	case SendTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}
