package controller

import (
	"errors"
	"fmt"

	"github.com/danmuck/entslink/internal/protocol"
	"github.com/danmuck/entslink/internal/protocol/schema"
)

var ErrInvalidAddress = errors.New("controller: invalid peripheral address")

// RemoteError is an error reply staged by the peripheral. It unwraps to the
// taxonomy class matching its code.
type RemoteError struct {
	Code   schema.ErrorCode
	For    schema.Kind
	Detail string
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("controller: peripheral reported %s error", e.Code)
	if e.For != schema.KindUnknown {
		msg += fmt.Sprintf(" (kind=%s)", e.For)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case schema.CodeFraming:
		return protocol.ErrFraming
	case schema.CodeDecode:
		return protocol.ErrDecode
	case schema.CodeRouting:
		return protocol.ErrRouting
	default:
		return nil
	}
}

// StorageError is a non-success return code from a storage command.
type StorageError struct {
	Code     schema.StorageCode
	Filename string
}

func (e *StorageError) Error() string {
	if e.Filename != "" {
		return fmt.Sprintf("controller: storage: %s (file=%s)", e.Code, e.Filename)
	}
	return fmt.Sprintf("controller: storage: %s", e.Code)
}
