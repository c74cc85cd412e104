// Package bus defines the two-wire bus primitives both MCUs sit on.
//
// The controller is bus master and sees a Master; the peripheral is bus
// target and implements Target, whose callbacks the bus driver invokes for
// every write it receives and every read it must answer.
package bus

import (
	"context"
	"errors"
)

var (
	ErrNoDevice = errors.New("bus: no device at address")
	ErrClosed   = errors.New("bus: closed")
	ErrAddress  = errors.New("bus: invalid address")
)

// MaxAddress is the highest 7-bit target address.
const MaxAddress uint16 = 0x7F

// Master is the bus-master side: one write or one read per call.
type Master interface {
	Write(ctx context.Context, addr uint16, p []byte) error
	Read(ctx context.Context, addr uint16, maxLen int) ([]byte, error)
}

// Target is the bus-target side. OnReceive is handed the bytes of one write
// operation. OnRequest returns the bytes to answer one read; an empty slice
// means nothing is ready.
type Target interface {
	OnReceive(p []byte) error
	OnRequest() ([]byte, error)
}

// ValidAddress reports whether addr is a usable 7-bit target address.
func ValidAddress(addr uint16) bool {
	return addr > 0x07 && addr < 0x78
}
