package peripheral

import (
	"strconv"

	"github.com/danmuck/entslink/internal/protocol/schema"
)

// Module handles exactly one command kind.
type Module interface {
	Kind() schema.Kind
	// Handle processes cmd. Commands of another kind are ignored.
	Handle(cmd schema.Command)
	// ProduceResponse writes the serialized reply to the most recently
	// handled command into buf and returns its length.
	ProduceResponse(buf []byte) int
	// Reset clears transient state.
	Reset()
}

// Reply holds one module's serialized response between Handle and
// ProduceResponse.
type Reply struct {
	buf []byte
}

// Set serializes resp as the pending reply.
func (r *Reply) Set(resp schema.Response) error {
	b, err := schema.MarshalResponse(resp)
	if err != nil {
		r.buf = r.buf[:0]
		return err
	}
	r.buf = append(r.buf[:0], b...)
	return nil
}

// CopyTo copies the pending reply into buf. A reply larger than buf yields 0.
func (r *Reply) CopyTo(buf []byte) int {
	if len(r.buf) > len(buf) {
		return 0
	}
	return copy(buf, r.buf)
}

func (r *Reply) Len() int {
	return len(r.buf)
}

// RejectType stages a decode ErrorReply for a command sub-type the module
// does not implement, so the controller fails fast instead of timing out.
func (r *Reply) RejectType(kind schema.Kind, typ uint32) {
	reply := schema.ErrorReply{
		Code:   schema.CodeDecode,
		For:    kind,
		Detail: "unknown command type " + strconv.FormatUint(uint64(typ), 10),
	}
	_ = r.Set(schema.Response{Payload: reply})
}

func (r *Reply) Clear() {
	r.buf = r.buf[:0]
}
