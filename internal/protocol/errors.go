package protocol

import (
	"errors"
	"fmt"
)

// Error classes. Every failure surfaced by the transport wraps exactly one.
var (
	ErrFraming   = errors.New("protocol: framing error")
	ErrDecode    = errors.New("protocol: decode error")
	ErrRouting   = errors.New("protocol: no module registered for kind")
	ErrTimeout   = errors.New("protocol: transaction timeout")
	ErrTransport = errors.New("protocol: transport error")
	ErrIntegrity = errors.New("protocol: reply kind mismatch")
)

// Error carries the operation and message kind alongside an error class.
type Error struct {
	Op    string
	Kind  string
	Class error
	Err   error
}

func (e *Error) Error() string {
	msg := e.Class.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Kind != "" {
		msg += fmt.Sprintf(" (kind=%s)", e.Kind)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the class sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Class}
	}
	return []error{e.Class, e.Err}
}

// Wrap builds an *Error for class with an optional cause.
func Wrap(class error, op, kind string, err error) error {
	return &Error{Op: op, Kind: kind, Class: class, Err: err}
}

// ClassOf returns the taxonomy sentinel err belongs to, or nil.
func ClassOf(err error) error {
	for _, class := range []error{ErrFraming, ErrDecode, ErrRouting, ErrTimeout, ErrTransport, ErrIntegrity} {
		if errors.Is(err, class) {
			return class
		}
	}
	return nil
}

// ClassName returns a short label for err's class, used as a metric label.
func ClassName(err error) string {
	switch ClassOf(err) {
	case ErrFraming:
		return "framing"
	case ErrDecode:
		return "decode"
	case ErrRouting:
		return "routing"
	case ErrTimeout:
		return "timeout"
	case ErrTransport:
		return "transport"
	case ErrIntegrity:
		return "integrity"
	default:
		if err == nil {
			return "none"
		}
		return "other"
	}
}
