package sensor

import "errors"

// Error kinds surfaced by the control plane. Callers match them with
// errors.Is; every returned error wraps exactly one of these.
var (
	ErrInvalidWidth    = errors.New("invalid address or data width")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrTransport       = errors.New("bus transaction failed")
	ErrDeviceMismatch  = errors.New("device id mismatch")
	ErrUnsupported     = errors.New("operation not supported by sensor")
	ErrUnknownCommand  = errors.New("unknown command")
	ErrSessionClosed   = errors.New("sensor session not open")
)
