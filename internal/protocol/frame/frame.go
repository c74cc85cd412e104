package frame

import (
	"errors"
	"fmt"

	"github.com/danmuck/entslink/internal/protocol"
)

const (
	FlagContinue byte = 0x00
	FlagFinal    byte = 0x01

	// HeaderLen is the per-chunk overhead: one final-indicator byte.
	HeaderLen = 1
	// MinTransferSize leaves room for the flag and one data byte.
	MinTransferSize = HeaderLen + 1
	// DefaultTransferSize matches the Wire buffer of the reference peripheral.
	DefaultTransferSize = 32
)

var (
	ErrTransferSize  = errors.New("frame: transfer size must be at least 2 bytes")
	ErrEmptyFrame    = fmt.Errorf("%w: frame: empty chunk", protocol.ErrFraming)
	ErrBadFlag       = fmt.Errorf("%w: frame: invalid final flag", protocol.ErrFraming)
	ErrFrameTooLarge = fmt.Errorf("%w: frame: chunk exceeds transfer size", protocol.ErrFraming)
)

// Frame is one bus-sized chunk of a message.
type Frame struct {
	Final bool
	Data  []byte
}

// MaxData returns the payload bytes one frame carries for a transfer size.
func MaxData(transferSize int) int {
	return transferSize - HeaderLen
}

// Count returns the number of frames Split produces for a message of n bytes.
func Count(n, transferSize int) int {
	per := MaxData(transferSize)
	if per <= 0 {
		return 0
	}
	if n == 0 {
		return 1
	}
	return (n + per - 1) / per
}

// Split chunks msg into frames of at most transferSize wire bytes. An empty
// message yields a single empty final frame; a message that is an exact
// multiple of the frame payload never gets a trailing empty frame.
func Split(msg []byte, transferSize int) ([]Frame, error) {
	if transferSize < MinTransferSize {
		return nil, ErrTransferSize
	}
	per := MaxData(transferSize)
	out := make([]Frame, 0, Count(len(msg), transferSize))
	for offset := 0; ; offset += per {
		end := offset + per
		if end >= len(msg) {
			out = append(out, Frame{Final: true, Data: msg[offset:]})
			return out, nil
		}
		out = append(out, Frame{Final: false, Data: msg[offset:end]})
	}
}

// Encode returns the wire form of f: flag byte followed by data.
func Encode(f Frame) []byte {
	buf := make([]byte, HeaderLen+len(f.Data))
	if f.Final {
		buf[0] = FlagFinal
	} else {
		buf[0] = FlagContinue
	}
	copy(buf[HeaderLen:], f.Data)
	return buf
}

// Decode parses one wire chunk. A transferSize of 0 disables the size check.
// The returned Data aliases chunk.
func Decode(chunk []byte, transferSize int) (Frame, error) {
	if len(chunk) < HeaderLen {
		return Frame{}, ErrEmptyFrame
	}
	if transferSize > 0 && len(chunk) > transferSize {
		return Frame{}, ErrFrameTooLarge
	}
	var final bool
	switch chunk[0] {
	case FlagFinal:
		final = true
	case FlagContinue:
		final = false
	default:
		return Frame{}, ErrBadFlag
	}
	return Frame{Final: final, Data: chunk[HeaderLen:]}, nil
}
