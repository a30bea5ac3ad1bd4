package errcode

import (
	"errors"
	"fmt"
)

var (
	// ErrBlankBody is returned when a message body is empty after trimming.
	ErrBlankBody = errors.New("message body is blank")
	// ErrCancelled ends a realtime subscription that was detached by its owner.
	ErrCancelled = errors.New("subscription cancelled")
	// ErrUnknownAccountType is returned for account payloads with an unrecognized "tipo".
	ErrUnknownAccountType = errors.New("unknown account type")
	// ErrInvalidCNPJ is returned when an institution carries a malformed tax id.
	ErrInvalidCNPJ = errors.New("invalid cnpj")
)

// NetworkError is a transport failure talking to the repository (no connectivity, timeout).
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: op=%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is a non-2xx answer from the repository.
type ServerError struct {
	Code int
	Msg  string
}

func (e *ServerError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("server error: status=%d", e.Code)
	}
	return fmt.Sprintf("server error: status=%d, msg=%s", e.Code, e.Msg)
}

// RealtimeError is a realtime store failure (permission, configuration or write error).
type RealtimeError struct {
	Op  string
	Err error
}

func (e *RealtimeError) Error() string {
	return fmt.Sprintf("realtime error: op=%s: %v", e.Op, e.Err)
}

func (e *RealtimeError) Unwrap() error { return e.Err }

// IsNetwork reports whether err is or wraps a NetworkError.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsServer reports whether err is or wraps a ServerError.
func IsServer(err error) bool {
	var se *ServerError
	return errors.As(err, &se)
}

// IsRealtime reports whether err is or wraps a RealtimeError.
func IsRealtime(err error) bool {
	var re *RealtimeError
	return errors.As(err, &re)
}

// IsCancelled reports whether err is or wraps ErrCancelled.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// FromError maps any error onto a wire-facing *Error.
// ServerError keeps the upstream message verbatim.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	var se *ServerError
	if errors.As(err, &se) {
		msg := se.Msg
		if msg == "" {
			msg = fmt.Sprintf("%s: status %d", ErrCodeServer.Msg, se.Code)
		}
		return New(ErrCodeServer.Code, msg)
	}

	switch {
	case errors.Is(err, ErrBlankBody):
		return ErrCodeBlankBody
	case errors.Is(err, ErrCancelled):
		return ErrCodeCancelled
	case errors.Is(err, ErrUnknownAccountType):
		return ErrCodeAccountType
	case errors.Is(err, ErrInvalidCNPJ):
		return ErrCodeInvalidCNPJ
	case IsNetwork(err):
		return ErrCodeNetwork.Wrap(errors.Unwrap(err))
	case IsRealtime(err):
		return ErrCodeRealtime
	}
	return ErrInternalServer
}
