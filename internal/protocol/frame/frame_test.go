package frame

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/entslink/internal/protocol"
	"github.com/danmuck/entslink/internal/testutil/testlog"
)

func pattern(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i*7 + 3)
	}
	return out
}

func TestSplitReassembleRoundTrip(t *testing.T) {
	testlog.Start(t)

	const m = DefaultTransferSize
	for _, n := range []int{0, 1, m - 2, m - 1, m, m + 1, 10 * m} {
		msg := pattern(n)
		frames, err := Split(msg, m)
		if err != nil {
			t.Fatalf("split n=%d: %v", n, err)
		}
		if len(frames) != Count(n, m) {
			t.Fatalf("n=%d frame count got=%d want=%d", n, len(frames), Count(n, m))
		}

		acc, err := NewAccumulator(10 * m)
		if err != nil {
			t.Fatalf("accumulator: %v", err)
		}
		for i, f := range frames {
			wire := Encode(f)
			if len(wire) > m {
				t.Fatalf("n=%d frame %d exceeds transfer size: %d", n, i, len(wire))
			}
			decoded, err := Decode(wire, m)
			if err != nil {
				t.Fatalf("n=%d decode frame %d: %v", n, i, err)
			}
			done, err := acc.Append(decoded)
			if err != nil {
				t.Fatalf("n=%d append frame %d: %v", n, i, err)
			}
			if done != (i == len(frames)-1) {
				t.Fatalf("n=%d frame %d final=%v", n, i, done)
			}
		}
		if !bytes.Equal(acc.Bytes(), msg) {
			t.Fatalf("n=%d reassembled bytes differ", n)
		}
	}
}

func TestSplitExactMultipleHasNoEmptyTrailer(t *testing.T) {
	testlog.Start(t)

	frames, err := Split(pattern(62), 32)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	last := frames[1]
	if !last.Final || len(last.Data) != 31 {
		t.Fatalf("unexpected last frame: final=%v len=%d", last.Final, len(last.Data))
	}
	if frames[0].Final {
		t.Fatalf("first frame must not be final")
	}
}

func TestSplitTwoHundredBytes(t *testing.T) {
	testlog.Start(t)

	frames, err := Split(pattern(200), 32)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(frames) != 7 {
		t.Fatalf("expected 7 frames, got %d", len(frames))
	}
	for i, f := range frames[:6] {
		if f.Final || len(f.Data) != 31 {
			t.Fatalf("frame %d: final=%v len=%d", i, f.Final, len(f.Data))
		}
	}
	if !frames[6].Final || len(frames[6].Data) != 14 {
		t.Fatalf("last frame: final=%v len=%d", frames[6].Final, len(frames[6].Data))
	}
}

func TestSplitRejectsTinyTransfer(t *testing.T) {
	testlog.Start(t)

	if _, err := Split([]byte{1}, 1); !errors.Is(err, ErrTransferSize) {
		t.Fatalf("expected ErrTransferSize, got %v", err)
	}
}

func TestDecodeMalformedChunks(t *testing.T) {
	testlog.Start(t)

	cases := []struct {
		name  string
		chunk []byte
		want  error
	}{
		{"empty", nil, ErrEmptyFrame},
		{"bad flag", []byte{0x07, 1, 2}, ErrBadFlag},
		{"too large", append([]byte{FlagFinal}, pattern(32)...), ErrFrameTooLarge},
	}
	for _, tc := range cases {
		_, err := Decode(tc.chunk, 32)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: got=%v want=%v", tc.name, err, tc.want)
		}
		if !errors.Is(err, protocol.ErrFraming) {
			t.Fatalf("%s: expected framing class, got %v", tc.name, err)
		}
	}
}

func TestAccumulatorOverflowDiscardsWholeMessage(t *testing.T) {
	testlog.Start(t)

	acc, err := NewAccumulator(40)
	if err != nil {
		t.Fatalf("accumulator: %v", err)
	}
	frames, _ := Split(pattern(100), 32)

	done, err := acc.Append(frames[0])
	if done || err != nil {
		t.Fatalf("frame 0: done=%v err=%v", done, err)
	}
	done, err = acc.Append(frames[1])
	if done || !errors.Is(err, ErrOverflow) {
		t.Fatalf("frame 1: expected overflow, done=%v err=%v", done, err)
	}
	if !acc.Discarding() || acc.Len() != 0 {
		t.Fatalf("expected discarding empty accumulator, len=%d", acc.Len())
	}
	done, err = acc.Append(frames[2])
	if done || err != nil {
		t.Fatalf("frame 2: done=%v err=%v", done, err)
	}
	done, err = acc.Append(frames[3])
	if !done || !errors.Is(err, ErrOverflow) {
		t.Fatalf("final frame: done=%v err=%v", done, err)
	}
	if acc.Discarding() {
		t.Fatalf("expected discard mode cleared after final frame")
	}

	next := pattern(10)
	done, err = acc.Append(Frame{Final: true, Data: next})
	if !done || err != nil {
		t.Fatalf("follow-up message: done=%v err=%v", done, err)
	}
	if !bytes.Equal(acc.Bytes(), next) {
		t.Fatalf("follow-up message corrupted")
	}
}

func TestStageServesFramesThenEmpties(t *testing.T) {
	testlog.Start(t)

	st, err := NewStage(256)
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	msg := pattern(70)
	if err := st.Load(msg, false); err != nil {
		t.Fatalf("load: %v", err)
	}

	acc, _ := NewAccumulator(256)
	polls := 0
	for {
		chunk, err := st.Next(32)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		polls++
		f, err := Decode(chunk, 32)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		done, err := acc.Append(f)
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if done {
			break
		}
	}
	if polls != 3 {
		t.Fatalf("expected 3 polls, got %d", polls)
	}
	if !bytes.Equal(acc.Bytes(), msg) {
		t.Fatalf("staged bytes differ")
	}
	if !st.Empty() {
		t.Fatalf("expected stage empty after final frame")
	}
}

func TestStageLengthPreamble(t *testing.T) {
	testlog.Start(t)

	st, _ := NewStage(64)
	if err := st.Load(pattern(40), true); err != nil {
		t.Fatalf("load: %v", err)
	}
	first, err := st.Next(32)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	n, err := DecodeLength(first)
	if err != nil || n != 40 {
		t.Fatalf("preamble: n=%d err=%v", n, err)
	}
	if st.Remaining() != 40 {
		t.Fatalf("preamble must not consume data, remaining=%d", st.Remaining())
	}
}

func TestStageRejectsOversizedResponse(t *testing.T) {
	testlog.Start(t)

	st, _ := NewStage(8)
	if err := st.Load(pattern(9), false); !errors.Is(err, ErrStageOverflow) {
		t.Fatalf("expected ErrStageOverflow, got %v", err)
	}
	if !st.Empty() {
		t.Fatalf("expected empty stage after overflow")
	}
}
