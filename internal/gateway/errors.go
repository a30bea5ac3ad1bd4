package gateway

import "errors"

var (
	ErrConnClosed       = errors.New("connection closed")
	ErrWriteChannelFull = errors.New("write channel full")
	ErrInvalidProtocol  = errors.New("invalid protocol")
	ErrUnknownRequest   = errors.New("unknown request identifier")
	// ErrPanic ends a session whose read loop recovered from a panic
	ErrPanic = errors.New("session panic")
)
