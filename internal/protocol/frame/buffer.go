package frame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/danmuck/entslink/internal/protocol"
)

const (
	// LengthPreambleLen is the size of the optional total-length field.
	LengthPreambleLen = 2
	// MaxMessageLen is the largest message the length preamble can describe.
	MaxMessageLen = 0xFFFF
)

var (
	ErrOverflow        = fmt.Errorf("%w: frame: accumulator overflow", protocol.ErrFraming)
	ErrStageOverflow   = fmt.Errorf("%w: frame: staged response exceeds capacity", protocol.ErrFraming)
	ErrShortPreamble   = fmt.Errorf("%w: frame: short length preamble", protocol.ErrFraming)
	ErrInvalidCapacity = errors.New("frame: capacity must be positive")
)

// Accumulator reassembles inbound frames into one message. Its capacity is
// fixed at construction; writes past it are rejected, never truncated.
type Accumulator struct {
	data       []byte
	discarding bool
}

// NewAccumulator allocates an accumulator holding at most capacity bytes.
func NewAccumulator(capacity int) (*Accumulator, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	return &Accumulator{data: make([]byte, 0, capacity)}, nil
}

// Append adds f's data and reports whether f terminated the message.
//
// A frame that would overflow the buffer returns ErrOverflow, empties the
// buffer and drops every following frame up to and including the next final
// frame, which reports ErrOverflow again so the caller can answer the whole
// message exactly once.
func (a *Accumulator) Append(f Frame) (bool, error) {
	if a.discarding {
		if f.Final {
			a.discarding = false
			return true, ErrOverflow
		}
		return false, nil
	}
	if len(a.data)+len(f.Data) > cap(a.data) {
		a.data = a.data[:0]
		a.discarding = !f.Final
		return f.Final, ErrOverflow
	}
	a.data = append(a.data, f.Data...)
	return f.Final, nil
}

// Bytes returns the accumulated message. The slice is only valid until the
// next Append or Reset.
func (a *Accumulator) Bytes() []byte {
	return a.data
}

func (a *Accumulator) Len() int {
	return len(a.data)
}

func (a *Accumulator) Cap() int {
	return cap(a.data)
}

// Discarding reports whether the accumulator is dropping an overflowed message.
func (a *Accumulator) Discarding() bool {
	return a.discarding
}

func (a *Accumulator) Reset() {
	a.data = a.data[:0]
	a.discarding = false
}

// Stage holds one serialized response and serves it chunk by chunk.
type Stage struct {
	buf      []byte
	n        int
	cursor   int
	preamble bool
}

// NewStage allocates a stage for responses of at most capacity bytes.
func NewStage(capacity int) (*Stage, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	return &Stage{buf: make([]byte, capacity)}, nil
}

// Buffer exposes the full backing buffer to a response producer.
func (s *Stage) Buffer() []byte {
	return s.buf
}

// Commit marks the first n bytes of Buffer as the staged response. When
// withLength is set the next chunk served is the 2-byte length preamble.
// Committing zero bytes leaves the stage empty.
func (s *Stage) Commit(n int, withLength bool) error {
	if n < 0 || n > len(s.buf) {
		s.Reset()
		return ErrStageOverflow
	}
	if withLength && n > MaxMessageLen {
		s.Reset()
		return ErrStageOverflow
	}
	s.n = n
	s.cursor = 0
	s.preamble = withLength && n > 0
	return nil
}

// Load copies msg into the stage, replacing anything staged before.
func (s *Stage) Load(msg []byte, withLength bool) error {
	if len(msg) > len(s.buf) {
		s.Reset()
		return ErrStageOverflow
	}
	n := copy(s.buf, msg)
	return s.Commit(n, withLength)
}

func (s *Stage) Empty() bool {
	return s.n == 0
}

// Len returns the total staged length.
func (s *Stage) Len() int {
	return s.n
}

// Remaining returns the staged bytes not yet served.
func (s *Stage) Remaining() int {
	return s.n - s.cursor
}

// Next returns the wire bytes for the next poll: the length preamble if one
// is pending, otherwise the next frame. Serving the final frame empties the
// stage.
func (s *Stage) Next(transferSize int) ([]byte, error) {
	if transferSize < MinTransferSize {
		return nil, ErrTransferSize
	}
	if s.preamble {
		s.preamble = false
		return EncodeLength(s.n), nil
	}
	per := MaxData(transferSize)
	end := s.cursor + per
	final := end >= s.n
	if final {
		end = s.n
	}
	chunk := Encode(Frame{Final: final, Data: s.buf[s.cursor:end]})
	if final {
		s.Reset()
	} else {
		s.cursor = end
	}
	return chunk, nil
}

func (s *Stage) Reset() {
	s.n = 0
	s.cursor = 0
	s.preamble = false
}

// EncodeLength returns the big-endian 2-byte length preamble for n.
func EncodeLength(n int) []byte {
	buf := make([]byte, LengthPreambleLen)
	binary.BigEndian.PutUint16(buf, uint16(n))
	return buf
}

// DecodeLength parses a length preamble.
func DecodeLength(b []byte) (int, error) {
	if len(b) < LengthPreambleLen {
		return 0, ErrShortPreamble
	}
	return int(binary.BigEndian.Uint16(b[:LengthPreambleLen])), nil
}
