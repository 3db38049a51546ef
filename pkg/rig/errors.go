package rig

import (
	"errors"
	"fmt"
)

// ErrorKind classifies rig failures for the retry policy.
type ErrorKind int

const (
	// KindTransient covers timeouts, partial frames and serial stalls.
	// The controller retries these with backoff.
	KindTransient ErrorKind = iota
	// KindInvalidState marks commands rejected by the state machine.
	KindInvalidState
	// KindNotSupported marks a capability the backend lacks.
	KindNotSupported
	// KindProtocol marks frame decode failures (bad BCD, bad framing).
	KindProtocol
	// KindFatal marks unrecoverable failures (open failure, device gone).
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindInvalidState:
		return "invalid state"
	case KindNotSupported:
		return "not supported"
	case KindProtocol:
		return "protocol"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is the neutral wrapper backends use for wire-level failures.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient reports whether err is a retryable rig error.
func Transient(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind == KindTransient
	}
	return false
}

// NotSupportedErr reports whether err marks a missing capability.
func NotSupportedErr(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind == KindNotSupported
	}
	return false
}

// ProtocolErr reports whether err is a frame decode failure.
func ProtocolErr(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind == KindProtocol
	}
	return false
}

// ErrTimeout constructs a transient timeout error for op.
func ErrTimeout(op string) error {
	return &Error{Kind: KindTransient, Op: op, Message: "timeout"}
}

// ErrTransient wraps err as a transient failure of op.
func ErrTransient(op string, err error) error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// ErrNotSupported constructs a missing-capability error for op.
func ErrNotSupported(op string) error {
	return &Error{Kind: KindNotSupported, Op: op, Message: "not supported by this backend"}
}

// ErrInvalidState constructs a state-machine rejection with msg.
func ErrInvalidState(msg string) error {
	return &Error{Kind: KindInvalidState, Op: "validate", Message: msg}
}

// ErrProtocol wraps a frame decode failure of op.
func ErrProtocol(op, msg string) error {
	return &Error{Kind: KindProtocol, Op: op, Message: msg}
}

// ErrFatal wraps err as an unrecoverable failure of op.
func ErrFatal(op string, err error) error {
	return &Error{Kind: KindFatal, Op: op, Err: err}
}
